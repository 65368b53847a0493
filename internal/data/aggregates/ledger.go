package aggregates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/schema-registry/internal/data/repos"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
)

type LedgerDeps struct {
	Base BaseDeps

	Versions         repos.SchemaVersionRepo
	Contracts        repos.ContractRepo
	ContractVersions repos.ContractVersionRepo
	Checks           repos.SchemaCheckRepo
	ContractChecks   repos.ContractCheckRepo
	Approvals        repos.SchemaChangeApprovalRepo

	// Now is overridable for tests.
	Now func() time.Time
}

type ledger struct {
	deps LedgerDeps
}

func NewLedger(deps LedgerDeps) registry.Ledger {
	deps.Base = deps.Base.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ledger{deps: deps}
}

// NewLedgerFromSet wires a ledger from the standard repo bundle.
func NewLedgerFromSet(base BaseDeps, set repos.Set) registry.Ledger {
	return NewLedger(LedgerDeps{
		Base:             base,
		Versions:         set.Versions,
		Contracts:        set.Contracts,
		ContractVersions: set.ContractVersions,
		Checks:           set.Checks,
		ContractChecks:   set.ContractChecks,
		Approvals:        set.Approvals,
	})
}

// ShouldUseLatestComposableVersion decides the diff baseline: the latest composable version when
// the organization opted in, or for native federation projects not forced onto legacy composition.
func ShouldUseLatestComposableVersion(org *registry.Organization, project *registry.Project, target *registry.Target) bool {
	if org != nil && org.CompareToPreviousComposableVersion {
		return true
	}
	if project == nil || !project.NativeFederation {
		return false
	}
	return target == nil || !target.ForceLegacyComposition
}

func (l *ledger) LatestVersions(ctx context.Context, targetID uuid.UUID) (registry.LatestVersions, error) {
	const op = "Ledger.LatestVersions"
	out := registry.LatestVersions{ContractBaselines: map[uuid.UUID]*registry.ContractVersion{}}
	if targetID == uuid.Nil {
		return out, registry.NewError(registry.CodeValidation, op, "missing target_id", nil)
	}
	dbc := dbctx.Context{Ctx: ctx}

	latest, err := l.deps.Versions.Latest(dbc, targetID)
	if err != nil {
		return out, MapError(op, err)
	}
	out.Latest = latest
	if latest != nil && latest.IsComposable {
		out.LatestComposable = latest
	} else if latest != nil {
		if out.LatestComposable, err = l.deps.Versions.LatestComposable(dbc, targetID); err != nil {
			return out, MapError(op, err)
		}
	}

	if l.deps.Contracts == nil {
		return out, nil
	}
	contracts, err := l.deps.Contracts.ListActive(dbc, targetID)
	if err != nil {
		return out, MapError(op, err)
	}
	out.Contracts = contracts
	for _, c := range contracts {
		baseline, err := l.deps.ContractVersions.LatestForContract(dbc, c.ID, true)
		if err != nil {
			return out, MapError(op, err)
		}
		if baseline != nil {
			out.ContractBaselines[c.ID] = baseline
		}
	}
	return out, nil
}

// CreateVersion appends a version (and its contract versions) in one transaction. The previous
// pointer is taken from the head read inside the transaction and created_at strictly increases
// along the history. onCommitted runs only after commit and only for composable versions; its
// failure is logged and never undoes the write.
func (l *ledger) CreateVersion(ctx context.Context, in registry.CreateVersionInput, onCommitted registry.VersionCommitted) (*registry.SchemaVersion, error) {
	const op = "Ledger.CreateVersion"
	v := in.Version
	if v == nil || v.TargetID == uuid.Nil {
		return nil, registry.NewError(registry.CodeValidation, op, "missing version or target_id", nil)
	}
	if v.IsComposable && len(v.CompositionErrors) > 0 {
		return nil, registry.NewError(registry.CodeInvariantViolation, op, "composable version cannot carry composition errors", nil)
	}
	if !v.IsComposable && (v.CompositeSDL != nil || v.Supergraph != nil) {
		return nil, registry.NewError(registry.CodeInvariantViolation, op, "non-composable version cannot carry composite output", nil)
	}
	if len(v.Schemas) == 0 {
		v.Schemas = registry.MustEncodeJSON([]registry.ServiceSchema{})
	}
	if v.Action == "" {
		v.Action = registry.ActionPush
	}

	err := executeWrite(ctx, l.deps.Base, op, func(dbc dbctx.Context) error {
		head, err := l.deps.Versions.Latest(dbc, v.TargetID)
		if err != nil {
			return err
		}
		var headID *uuid.UUID
		if head != nil {
			id := head.ID
			headID = &id
		}
		if err := RequireHeadMatch(headID, in.ExpectedPreviousID); err != nil {
			return err
		}

		createdAt := l.deps.Now().UTC().Truncate(time.Microsecond)
		if head != nil && !createdAt.After(head.CreatedAt) {
			createdAt = head.CreatedAt.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
		}
		v.ID = uuid.New()
		v.PreviousSchemaVersionID = headID
		v.CreatedAt = createdAt
		if err := l.deps.Versions.Create(dbc, v); err != nil {
			return err
		}

		for _, cv := range in.Contracts {
			if cv.IsComposable && len(cv.CompositionErrors) > 0 {
				return InvariantError(fmt.Sprintf("contract %q is composable but carries composition errors", cv.ContractName))
			}
			prev, err := l.deps.ContractVersions.LatestForContract(dbc, cv.ContractID, false)
			if err != nil {
				return err
			}
			if prev != nil {
				id := prev.ID
				cv.PreviousContractVersionID = &id
			}
			cv.ID = uuid.Nil
			cv.SchemaVersionID = v.ID
			cv.CreatedAt = createdAt
		}
		return l.deps.ContractVersions.Create(dbc, in.Contracts)
	})
	if err != nil {
		return nil, err
	}

	if v.IsComposable && onCommitted != nil {
		if cbErr := onCommitted(ctx, v, in.Contracts); cbErr != nil {
			l.deps.Base.Log.Warn("post-commit side effects failed; version kept",
				"target_id", v.TargetID.String(),
				"version_id", v.ID.String(),
				"error", cbErr,
			)
		}
	}
	return v, nil
}

func (l *ledger) CreateSchemaCheck(ctx context.Context, check *registry.SchemaCheck, contracts []*registry.ContractCheck) (*registry.SchemaCheck, error) {
	const op = "Ledger.CreateSchemaCheck"
	if check == nil || check.TargetID == uuid.Nil {
		return nil, registry.NewError(registry.CodeValidation, op, "missing check or target_id", nil)
	}
	now := l.deps.Now().UTC()
	err := executeWrite(ctx, l.deps.Base, op, func(dbc dbctx.Context) error {
		check.ID = uuid.New()
		check.CreatedAt = now
		check.UpdatedAt = now
		if err := l.deps.Checks.Create(dbc, check); err != nil {
			return err
		}
		for _, cc := range contracts {
			cc.ID = uuid.Nil
			cc.SchemaCheckID = check.ID
			cc.CreatedAt = now
		}
		return l.deps.ContractChecks.Create(dbc, contracts)
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}

// ApproveFailedSchemaCheck accepts the breaking changes of a failed check. Checks that failed on
// composition (main or any contract) cannot be approved.
func (l *ledger) ApproveFailedSchemaCheck(ctx context.Context, in registry.ApproveCheckInput) (registry.ApproveCheckResult, error) {
	const op = "Ledger.ApproveFailedSchemaCheck"
	var out registry.ApproveCheckResult
	if in.TargetID == uuid.Nil || in.CheckID == uuid.Nil {
		return out, registry.NewError(registry.CodeValidation, op, "missing target_id or check_id", nil)
	}
	if in.UserID == "" {
		return out, registry.NewError(registry.CodeValidation, op, "missing approving user", nil)
	}

	err := executeWrite(ctx, l.deps.Base, op, func(dbc dbctx.Context) error {
		check, err := l.deps.Checks.GetByID(dbc, in.TargetID, in.CheckID)
		if err != nil {
			return err
		}
		if check == nil {
			return registry.NewError(registry.CodeNotFound, op, "Schema check not found.", nil)
		}
		if check.IsSuccess {
			return registry.NewError(registry.CodePreconditionFailed, op, "Schema check is not failed.", nil)
		}
		if len(check.Errors()) > 0 {
			return registry.NewError(registry.CodePreconditionFailed, op, "Schema check has composition errors.", nil)
		}
		contractChecks, err := l.deps.ContractChecks.ListBySchemaCheck(dbc, check.ID)
		if err != nil {
			return err
		}
		for _, cc := range contractChecks {
			if len(cc.Errors()) > 0 {
				return registry.NewError(registry.CodePreconditionFailed, op,
					fmt.Sprintf("Contract %q has composition errors.", cc.ContractName), nil)
			}
		}

		approval := registry.ChangeApproval{
			ApprovedBy:    in.UserID,
			ApprovedAt:    l.deps.Now().UTC(),
			SchemaCheckID: check.ID.String(),
		}
		mainBreaking := registry.ApproveChanges(check.Breaking(), approval)
		ok, err := l.deps.Checks.MarkManuallyApproved(dbc, check.ID, in.UserID, in.Comment, registry.MustEncodeJSON(mainBreaking))
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "schema check changed while approving"); err != nil {
			return err
		}

		var approvals []*registry.SchemaChangeApproval
		contextID := ""
		if check.ContextID != nil {
			contextID = *check.ContextID
		}
		approvals = append(approvals, approvalRows(check, contextID, registry.MainApprovalScope, mainBreaking, approval)...)

		for _, cc := range contractChecks {
			approved := registry.ApproveChanges(cc.Breaking(), approval)
			if err := l.deps.ContractChecks.MarkApproved(dbc, cc.ID, registry.MustEncodeJSON(approved)); err != nil {
				return err
			}
			cc.IsSuccess = true
			cc.BreakingChanges = registry.MustEncodeJSON(approved)
			approvals = append(approvals, approvalRows(check, contextID, cc.ContractID.String(), approved, approval)...)
		}

		if contextID != "" {
			if err := l.deps.Approvals.Upsert(dbc, approvals); err != nil {
				return err
			}
		}

		check.IsSuccess = true
		check.IsManuallyApproved = true
		check.ManualApprovalUserID = registry.StringPtr(in.UserID)
		if in.Comment != "" {
			check.ManualApprovalComment = registry.StringPtr(in.Comment)
		}
		check.BreakingChanges = registry.MustEncodeJSON(mainBreaking)
		out.Check = check
		out.Contracts = contractChecks
		return nil
	})
	return out, err
}

func approvalRows(check *registry.SchemaCheck, contextID, scope string, changes []registry.SchemaChange, approval registry.ChangeApproval) []*registry.SchemaChangeApproval {
	if contextID == "" {
		return nil
	}
	var out []*registry.SchemaChangeApproval
	for _, c := range changes {
		if !c.IsBreaking() {
			continue
		}
		out = append(out, &registry.SchemaChangeApproval{
			TargetID:      check.TargetID,
			ContextID:     contextID,
			ContractKey:   scope,
			Fingerprint:   registry.ChangeFingerprint(c.Type, c.Path, c.Message),
			Change:        registry.MustEncodeJSON(c),
			SchemaCheckID: check.ID,
			ApprovedBy:    approval.ApprovedBy,
			CreatedAt:     approval.ApprovedAt,
		})
	}
	return out
}

func (l *ledger) ApprovedChangesForContext(ctx context.Context, targetID uuid.UUID, contextID string) (registry.ApprovedChanges, error) {
	const op = "Ledger.ApprovedChangesForContext"
	out := registry.ApprovedChanges{}
	if contextID == "" {
		return out, nil
	}
	rows, err := l.deps.Approvals.ListByContext(dbctx.Context{Ctx: ctx}, targetID, contextID)
	if err != nil {
		return nil, MapError(op, err)
	}
	for _, row := range rows {
		var change registry.SchemaChange
		if err := registry.DecodeJSON(row.Change, &change); err != nil {
			return nil, MapError(op, err)
		}
		scope := out[row.ContractKey]
		if scope == nil {
			scope = map[string]registry.SchemaChange{}
			out[row.ContractKey] = scope
		}
		scope[row.Fingerprint] = change
	}
	return out, nil
}

func (l *ledger) VersionWithBaseline(ctx context.Context, targetID, versionID uuid.UUID) (*registry.VersionDetails, error) {
	const op = "Ledger.VersionWithBaseline"
	dbc := dbctx.Context{Ctx: ctx}
	v, err := l.deps.Versions.GetByID(dbc, targetID, versionID)
	if err != nil {
		return nil, MapError(op, err)
	}
	if v == nil {
		return nil, registry.NewError(registry.CodeNotFound, op, "Schema version not found.", nil)
	}
	out := &registry.VersionDetails{Version: v}
	if v.DiffSchemaVersionID != nil {
		if out.Baseline, err = l.deps.Versions.GetByID(dbc, targetID, *v.DiffSchemaVersionID); err != nil {
			return nil, MapError(op, err)
		}
	}
	if out.Contracts, err = l.deps.ContractVersions.ListBySchemaVersion(dbc, v.ID); err != nil {
		return nil, MapError(op, err)
	}
	return out, nil
}
