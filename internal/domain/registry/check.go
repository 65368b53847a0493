package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SchemaCheck records a dry-run evaluation. Only the approval columns change after creation.
type SchemaCheck struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"target_id"`
	SchemaVersionID *uuid.UUID `gorm:"type:uuid;column:schema_version_id" json:"schema_version_id,omitempty"`
	ServiceName     string     `gorm:"column:service_name" json:"service_name,omitempty"`
	ServiceURL      string     `gorm:"column:service_url" json:"service_url,omitempty"`
	SchemaSDL       string     `gorm:"column:schema_sdl;type:text;not null" json:"schema_sdl"`

	IsSuccess                         bool           `gorm:"column:is_success;not null" json:"is_success"`
	CompositeSDL                      *string        `gorm:"column:composite_sdl;type:text" json:"composite_sdl,omitempty"`
	Supergraph                        *string        `gorm:"column:supergraph_sdl;type:text" json:"supergraph_sdl,omitempty"`
	CompositionErrors                 datatypes.JSON `gorm:"column:composition_errors" json:"composition_errors,omitempty"`
	BreakingChanges                   datatypes.JSON `gorm:"column:breaking_changes" json:"breaking_changes,omitempty"`
	SafeChanges                       datatypes.JSON `gorm:"column:safe_changes" json:"safe_changes,omitempty"`
	ConditionalBreakingChangeMetadata datatypes.JSON `gorm:"column:conditional_breaking_change_metadata" json:"conditional_breaking_change_metadata,omitempty"`

	ContextID        *string `gorm:"column:context_id;index" json:"context_id,omitempty"`
	GitHubRepository *string `gorm:"column:github_repository" json:"github_repository,omitempty"`
	GitHubSha        *string `gorm:"column:github_sha" json:"github_sha,omitempty"`
	GitHubCheckRunID *string `gorm:"column:github_check_run_id" json:"github_check_run_id,omitempty"`

	IsManuallyApproved    bool    `gorm:"column:is_manually_approved;not null" json:"is_manually_approved"`
	ManualApprovalUserID  *string `gorm:"column:manual_approval_user_id" json:"manual_approval_user_id,omitempty"`
	ManualApprovalComment *string `gorm:"column:manual_approval_comment" json:"manual_approval_comment,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SchemaCheck) TableName() string { return "schema_check" }

func (c *SchemaCheck) Breaking() []SchemaChange {
	var out []SchemaChange
	_ = DecodeJSON(c.BreakingChanges, &out)
	return out
}

func (c *SchemaCheck) Safe() []SchemaChange {
	var out []SchemaChange
	_ = DecodeJSON(c.SafeChanges, &out)
	return out
}

func (c *SchemaCheck) Errors() []CompositionError {
	var out []CompositionError
	_ = DecodeJSON(c.CompositionErrors, &out)
	return out
}

// ContractCheck is the per-contract part of a SchemaCheck.
type ContractCheck struct {
	ID                        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SchemaCheckID             uuid.UUID      `gorm:"type:uuid;not null;index" json:"schema_check_id"`
	ContractID                uuid.UUID      `gorm:"type:uuid;not null" json:"contract_id"`
	ContractName              string         `gorm:"column:contract_name;not null" json:"contract_name"`
	ComparedContractVersionID *uuid.UUID     `gorm:"type:uuid;column:compared_contract_version_id" json:"compared_contract_version_id,omitempty"`
	IsSuccess                 bool           `gorm:"column:is_success;not null" json:"is_success"`
	CompositeSDL              *string        `gorm:"column:composite_sdl;type:text" json:"composite_sdl,omitempty"`
	Supergraph                *string        `gorm:"column:supergraph_sdl;type:text" json:"supergraph_sdl,omitempty"`
	CompositionErrors         datatypes.JSON `gorm:"column:composition_errors" json:"composition_errors,omitempty"`
	BreakingChanges           datatypes.JSON `gorm:"column:breaking_changes" json:"breaking_changes,omitempty"`
	SafeChanges               datatypes.JSON `gorm:"column:safe_changes" json:"safe_changes,omitempty"`
	CreatedAt                 time.Time      `gorm:"not null" json:"created_at"`
}

func (ContractCheck) TableName() string { return "contract_check" }

func (c *ContractCheck) Breaking() []SchemaChange {
	var out []SchemaChange
	_ = DecodeJSON(c.BreakingChanges, &out)
	return out
}

func (c *ContractCheck) Errors() []CompositionError {
	var out []CompositionError
	_ = DecodeJSON(c.CompositionErrors, &out)
	return out
}

// MainApprovalScope is the ContractKey of approvals that belong to the main schema.
const MainApprovalScope = ""

// SchemaChangeApproval carries an approved change forward within one context id.
type SchemaChangeApproval struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_change_approval,priority:1" json:"target_id"`
	ContextID     string         `gorm:"column:context_id;not null;uniqueIndex:idx_change_approval,priority:2" json:"context_id"`
	ContractKey   string         `gorm:"column:contract_key;not null;uniqueIndex:idx_change_approval,priority:3" json:"contract_key"`
	Fingerprint   string         `gorm:"column:fingerprint;not null;uniqueIndex:idx_change_approval,priority:4" json:"fingerprint"`
	Change        datatypes.JSON `gorm:"column:change;not null" json:"change"`
	SchemaCheckID uuid.UUID      `gorm:"type:uuid;not null" json:"schema_check_id"`
	ApprovedBy    string         `gorm:"column:approved_by;not null" json:"approved_by"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (SchemaChangeApproval) TableName() string { return "schema_change_approval" }

// CoordinateUsageDaily is the daily request count per schema coordinate and client.
type CoordinateUsageDaily struct {
	TargetID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"target_id"`
	Coordinate string    `gorm:"column:coordinate;primaryKey" json:"coordinate"`
	ClientName string    `gorm:"column:client_name;primaryKey" json:"client_name"`
	Day        time.Time `gorm:"column:day;primaryKey" json:"day"`
	Count      int64     `gorm:"column:count;not null" json:"count"`
}

func (CoordinateUsageDaily) TableName() string { return "coordinate_usage_daily" }

// OperationUsageDaily is the daily total request count per client.
type OperationUsageDaily struct {
	TargetID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"target_id"`
	ClientName string    `gorm:"column:client_name;primaryKey" json:"client_name"`
	Day        time.Time `gorm:"column:day;primaryKey" json:"day"`
	Count      int64     `gorm:"column:count;not null" json:"count"`
}

func (OperationUsageDaily) TableName() string { return "operation_usage_daily" }

// Models lists every table the registry owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Organization{},
		&Project{},
		&Target{},
		&Contract{},
		&SchemaVersion{},
		&ContractVersion{},
		&SchemaCheck{},
		&ContractCheck{},
		&SchemaChangeApproval{},
		&CoordinateUsageDaily{},
		&OperationUsageDaily{},
	}
}
