package registry

import (
	"context"

	"github.com/google/uuid"
)

// LatestVersions is the history snapshot a publish or check starts from.
type LatestVersions struct {
	Latest           *SchemaVersion
	LatestComposable *SchemaVersion
	Contracts        []*Contract
	// ContractBaselines holds the latest composable version per contract id.
	ContractBaselines map[uuid.UUID]*ContractVersion
}

// Baseline picks the version new schemas are compared against.
func (l LatestVersions) Baseline(useLatestComposable bool) *SchemaVersion {
	if useLatestComposable {
		return l.LatestComposable
	}
	return l.Latest
}

func (l LatestVersions) LatestID() *uuid.UUID {
	if l.Latest == nil {
		return nil
	}
	id := l.Latest.ID
	return &id
}

type CreateVersionInput struct {
	// ExpectedPreviousID is the latest version id observed before composing. A mismatch at write
	// time means another writer got in first.
	ExpectedPreviousID *uuid.UUID
	Version            *SchemaVersion
	Contracts          []*ContractVersion
}

// VersionCommitted runs after the version transaction commits, only for composable versions.
type VersionCommitted func(ctx context.Context, version *SchemaVersion, contracts []*ContractVersion) error

type ApproveCheckInput struct {
	TargetID uuid.UUID
	CheckID  uuid.UUID
	UserID   string
	Comment  string
}

type ApproveCheckResult struct {
	Check     *SchemaCheck
	Contracts []*ContractCheck
}

// ApprovedChanges maps an approval scope (MainApprovalScope or a contract id) to fingerprinted changes.
type ApprovedChanges map[string]map[string]SchemaChange

func (a ApprovedChanges) Scope(key string) map[string]SchemaChange {
	if a == nil {
		return nil
	}
	return a[key]
}

type VersionDetails struct {
	Version   *SchemaVersion
	Baseline  *SchemaVersion
	Contracts []*ContractVersion
}

// Ledger is the append-only version and check history of targets.
type Ledger interface {
	LatestVersions(ctx context.Context, targetID uuid.UUID) (LatestVersions, error)
	CreateVersion(ctx context.Context, in CreateVersionInput, onCommitted VersionCommitted) (*SchemaVersion, error)
	CreateSchemaCheck(ctx context.Context, check *SchemaCheck, contracts []*ContractCheck) (*SchemaCheck, error)
	ApproveFailedSchemaCheck(ctx context.Context, in ApproveCheckInput) (ApproveCheckResult, error)
	ApprovedChangesForContext(ctx context.Context, targetID uuid.UUID, contextID string) (ApprovedChanges, error)
	VersionWithBaseline(ctx context.Context, targetID, versionID uuid.UUID) (*VersionDetails, error)
}
