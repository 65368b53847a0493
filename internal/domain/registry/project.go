package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProjectType string

const (
	ProjectTypeSingle     ProjectType = "SINGLE"
	ProjectTypeFederation ProjectType = "FEDERATION"
	ProjectTypeStitching  ProjectType = "STITCHING"
)

// IsComposite reports whether the project is assembled from named services.
func (t ProjectType) IsComposite() bool {
	return t == ProjectTypeFederation || t == ProjectTypeStitching
}

func (t ProjectType) Valid() bool {
	switch t {
	case ProjectTypeSingle, ProjectTypeFederation, ProjectTypeStitching:
		return true
	default:
		return false
	}
}

type Organization struct {
	ID                                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Slug                               string    `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Name                               string    `gorm:"column:name;not null" json:"name"`
	CompareToPreviousComposableVersion bool      `gorm:"column:compare_to_previous_composable_version;not null" json:"compare_to_previous_composable_version"`
	CreatedAt                          time.Time `gorm:"not null" json:"created_at"`
}

func (Organization) TableName() string { return "organization" }

type Project struct {
	ID                          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID              uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_project_org_slug,priority:1" json:"organization_id"`
	Slug                        string      `gorm:"column:slug;not null;uniqueIndex:idx_project_org_slug,priority:2" json:"slug"`
	Name                        string      `gorm:"column:name;not null" json:"name"`
	Type                        ProjectType `gorm:"column:type;not null" json:"type"`
	NativeFederation            bool        `gorm:"column:native_federation;not null" json:"native_federation"`
	ExternalCompositionEnabled  bool        `gorm:"column:external_composition_enabled;not null" json:"external_composition_enabled"`
	ExternalCompositionEndpoint string      `gorm:"column:external_composition_endpoint" json:"external_composition_endpoint,omitempty"`
	ExternalCompositionSecret   string      `gorm:"column:external_composition_secret" json:"-"`
	CreatedAt                   time.Time   `gorm:"not null" json:"created_at"`
}

func (Project) TableName() string { return "project" }

type BreakingChangeFormula string

const (
	FormulaPercentage   BreakingChangeFormula = "PERCENTAGE"
	FormulaRequestCount BreakingChangeFormula = "REQUEST_COUNT"
)

// Target is a deployment slot accumulating one schema history. Identity is immutable; the
// validation fields are the mutable conditional-breaking-change settings.
type Target struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID              uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_target_project_slug,priority:1" json:"project_id"`
	OrganizationID         uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	Slug                   string    `gorm:"column:slug;not null;uniqueIndex:idx_target_project_slug,priority:2" json:"slug"`
	Name                   string    `gorm:"column:name;not null" json:"name"`
	BaseSchema             string    `gorm:"column:base_schema;type:text" json:"base_schema,omitempty"`
	ForceLegacyComposition bool      `gorm:"column:force_legacy_composition;not null" json:"force_legacy_composition"`

	ValidationEnabled         bool                  `gorm:"column:validation_enabled;not null" json:"validation_enabled"`
	ValidationPeriodDays      int                   `gorm:"column:validation_period_days;not null" json:"validation_period_days"`
	ValidationPercentage      float64               `gorm:"column:validation_percentage;not null" json:"validation_percentage"`
	ValidationRequestCount    int64                 `gorm:"column:validation_request_count;not null" json:"validation_request_count"`
	BreakingChangeFormula     BreakingChangeFormula `gorm:"column:breaking_change_formula" json:"breaking_change_formula"`
	ValidationExcludedClients datatypes.JSON        `gorm:"column:validation_excluded_clients" json:"validation_excluded_clients,omitempty"`
	ValidationTargetIDs       datatypes.JSON        `gorm:"column:validation_target_ids" json:"validation_target_ids,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Target) TableName() string { return "target" }

func (t *Target) ExcludedClients() []string {
	var out []string
	_ = DecodeJSON(t.ValidationExcludedClients, &out)
	return out
}

// UsageTargetIDs returns the targets whose traffic counts toward usage checks; the target
// itself when none are configured.
func (t *Target) UsageTargetIDs() []string {
	var out []string
	_ = DecodeJSON(t.ValidationTargetIDs, &out)
	if len(out) == 0 {
		out = []string{t.ID.String()}
	}
	return out
}

// TargetRef is a loose reference: either an id, or an organization/project/target slug triple.
type TargetRef struct {
	TargetID     string `json:"target_id,omitempty"`
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
	Target       string `json:"target,omitempty"`
}

// ResolvedTarget is the concrete triple a TargetRef resolves to.
type ResolvedTarget struct {
	Organization *Organization
	Project      *Project
	Target       *Target
}
