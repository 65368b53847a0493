package registry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type VersionAction string

const (
	ActionPush   VersionAction = "PUSH"
	ActionDelete VersionAction = "DELETE"
)

// SchemaVersion is an immutable snapshot. It is created once per accepted publish or delete and
// superseded, never updated. CompositeSDL/Supergraph and CompositionErrors are mutually exclusive.
type SchemaVersion struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID    uuid.UUID     `gorm:"type:uuid;not null;index:idx_schema_version_target_created,priority:1" json:"target_id"`
	Action      VersionAction `gorm:"column:action;not null" json:"action"`
	ServiceName string        `gorm:"column:service_name" json:"service_name,omitempty"`
	ServiceURL  string        `gorm:"column:service_url" json:"service_url,omitempty"`
	Author      string        `gorm:"column:author" json:"author,omitempty"`
	Commit      string        `gorm:"column:commit_ref" json:"commit,omitempty"`

	IsComposable                      bool           `gorm:"column:is_composable;not null;index" json:"is_composable"`
	Schemas                           datatypes.JSON `gorm:"column:schemas;not null" json:"schemas"`
	BaseSchema                        string         `gorm:"column:base_schema;type:text" json:"base_schema,omitempty"`
	CompositeSDL                      *string        `gorm:"column:composite_sdl;type:text" json:"composite_sdl,omitempty"`
	Supergraph                        *string        `gorm:"column:supergraph_sdl;type:text" json:"supergraph_sdl,omitempty"`
	CompositionErrors                 datatypes.JSON `gorm:"column:composition_errors" json:"composition_errors,omitempty"`
	Changes                           datatypes.JSON `gorm:"column:changes" json:"changes,omitempty"`
	Messages                          datatypes.JSON `gorm:"column:messages" json:"messages,omitempty"`
	Tags                              datatypes.JSON `gorm:"column:tags" json:"tags,omitempty"`
	HasContractCompositionErrors      bool           `gorm:"column:has_contract_composition_errors;not null" json:"has_contract_composition_errors"`
	ConditionalBreakingChangeMetadata datatypes.JSON `gorm:"column:conditional_breaking_change_metadata" json:"conditional_breaking_change_metadata,omitempty"`

	DiffSchemaVersionID     *uuid.UUID `gorm:"type:uuid;column:diff_schema_version_id;index" json:"diff_schema_version_id,omitempty"`
	PreviousSchemaVersionID *uuid.UUID `gorm:"type:uuid;column:previous_schema_version_id;uniqueIndex" json:"previous_schema_version_id,omitempty"`

	GitHubRepository *string `gorm:"column:github_repository" json:"github_repository,omitempty"`
	GitHubCommit     *string `gorm:"column:github_commit" json:"github_commit,omitempty"`

	CreatedAt time.Time `gorm:"not null;index:idx_schema_version_target_created,priority:2" json:"created_at"`
}

func (SchemaVersion) TableName() string { return "schema_version" }

// DecodeServiceSchemas returns the stored service set. Anything that rebuilds or republishes
// the set must use it: an unreadable column would otherwise look like an empty set.
func (v *SchemaVersion) DecodeServiceSchemas() ([]ServiceSchema, error) {
	var out []ServiceSchema
	if err := DecodeJSON(v.Schemas, &out); err != nil {
		return nil, fmt.Errorf("decode schemas of version %s: %w", v.ID, err)
	}
	return out, nil
}

// ServiceSchemas is DecodeServiceSchemas for read-only callers; a corrupt column reads as empty.
func (v *SchemaVersion) ServiceSchemas() []ServiceSchema {
	out, _ := v.DecodeServiceSchemas()
	return out
}

func (v *SchemaVersion) ChangeList() []SchemaChange {
	var out []SchemaChange
	_ = DecodeJSON(v.Changes, &out)
	return out
}

func (v *SchemaVersion) Errors() []CompositionError {
	var out []CompositionError
	_ = DecodeJSON(v.CompositionErrors, &out)
	return out
}

func (v *SchemaVersion) TagList() []string {
	var out []string
	_ = DecodeJSON(v.Tags, &out)
	return out
}

// ContractVersion is the SchemaVersion-like record of one contract, written with its parent.
type ContractVersion struct {
	ID                        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SchemaVersionID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"schema_version_id"`
	ContractID                uuid.UUID      `gorm:"type:uuid;not null;index:idx_contract_version_contract_created,priority:1" json:"contract_id"`
	ContractName              string         `gorm:"column:contract_name;not null" json:"contract_name"`
	IsComposable              bool           `gorm:"column:is_composable;not null" json:"is_composable"`
	CompositeSDL              *string        `gorm:"column:composite_sdl;type:text" json:"composite_sdl,omitempty"`
	Supergraph                *string        `gorm:"column:supergraph_sdl;type:text" json:"supergraph_sdl,omitempty"`
	CompositionErrors         datatypes.JSON `gorm:"column:composition_errors" json:"composition_errors,omitempty"`
	Changes                   datatypes.JSON `gorm:"column:changes" json:"changes,omitempty"`
	DiffContractVersionID     *uuid.UUID     `gorm:"type:uuid;column:diff_contract_version_id" json:"diff_contract_version_id,omitempty"`
	PreviousContractVersionID *uuid.UUID     `gorm:"type:uuid;column:previous_contract_version_id" json:"previous_contract_version_id,omitempty"`
	CreatedAt                 time.Time      `gorm:"not null;index:idx_contract_version_contract_created,priority:2" json:"created_at"`
}

func (ContractVersion) TableName() string { return "contract_version" }

func (v *ContractVersion) ChangeList() []SchemaChange {
	var out []SchemaChange
	_ = DecodeJSON(v.Changes, &out)
	return out
}

func (v *ContractVersion) Errors() []CompositionError {
	var out []CompositionError
	_ = DecodeJSON(v.CompositionErrors, &out)
	return out
}

// Contract is a named tag filter over a federated supergraph.
type Contract struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID               uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_contract_target_name,priority:1" json:"target_id"`
	Name                   string         `gorm:"column:contract_name;not null;uniqueIndex:idx_contract_target_name,priority:2" json:"contract_name"`
	IncludeTags            datatypes.JSON `gorm:"column:include_tags" json:"include_tags,omitempty"`
	ExcludeTags            datatypes.JSON `gorm:"column:exclude_tags" json:"exclude_tags,omitempty"`
	RemoveUnreachableTypes bool           `gorm:"column:remove_unreachable_types;not null" json:"remove_unreachable_types"`
	IsDisabled             bool           `gorm:"column:is_disabled;not null;index" json:"is_disabled"`
	CreatedAt              time.Time      `gorm:"not null" json:"created_at"`
}

func (Contract) TableName() string { return "contract" }

func (c *Contract) IncludeTagList() []string {
	var out []string
	_ = DecodeJSON(c.IncludeTags, &out)
	return out
}

func (c *Contract) ExcludeTagList() []string {
	var out []string
	_ = DecodeJSON(c.ExcludeTags, &out)
	return out
}
