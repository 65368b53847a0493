package aggregates_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/data/aggregates"
	aggtest "github.com/yungbote/schema-registry/internal/data/aggregates/testutil"
	"github.com/yungbote/schema-registry/internal/data/repos"
	"github.com/yungbote/schema-registry/internal/data/repos/testutil"
	"github.com/yungbote/schema-registry/internal/domain/registry"
)

type ledgerFixture struct {
	db     *gorm.DB
	ledger registry.Ledger
	hooks  *aggtest.HooksRecorder
	runner *aggtest.InjectedTxRunner
	target *registry.ResolvedTarget
}

func newLedgerFixture(t *testing.T, now func() time.Time) ledgerFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	hooks := &aggtest.HooksRecorder{}
	runner := &aggtest.InjectedTxRunner{Inner: aggregates.NewGormTxRunner(db)}
	set := repos.NewSet(db, log)
	l := aggregates.NewLedger(aggregates.LedgerDeps{
		Base:             aggregates.BaseDeps{DB: db, Log: log, Runner: runner, Hooks: hooks},
		Versions:         set.Versions,
		Contracts:        set.Contracts,
		ContractVersions: set.ContractVersions,
		Checks:           set.Checks,
		ContractChecks:   set.ContractChecks,
		Approvals:        set.Approvals,
		Now:              now,
	})
	return ledgerFixture{
		db:     db,
		ledger: l,
		hooks:  hooks,
		runner: runner,
		target: testutil.SeedTarget(t, context.Background(), db, registry.ProjectTypeFederation),
	}
}

func composableVersion(targetID uuid.UUID, sdl string) *registry.SchemaVersion {
	return &registry.SchemaVersion{
		TargetID:     targetID,
		Action:       registry.ActionPush,
		ServiceName:  "users",
		IsComposable: true,
		Schemas:      registry.MustEncodeJSON([]registry.ServiceSchema{{Name: "users", SDL: sdl}}),
		CompositeSDL: registry.StringPtr(sdl),
	}
}

func TestLedgerCreateVersionChainsHistory(t *testing.T) {
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newLedgerFixture(t, func() time.Time { return frozen })
	ctx := context.Background()
	targetID := f.target.Target.ID

	first, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{
		Version: composableVersion(targetID, "type Query { a: String }"),
	}, nil)
	if err != nil {
		t.Fatalf("CreateVersion first: %v", err)
	}
	if first.PreviousSchemaVersionID != nil {
		t.Fatalf("first version must not point back, got %v", first.PreviousSchemaVersionID)
	}

	second, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{
		ExpectedPreviousID: &first.ID,
		Version:            composableVersion(targetID, "type Query { a: String b: String }"),
	}, nil)
	if err != nil {
		t.Fatalf("CreateVersion second: %v", err)
	}
	if second.PreviousSchemaVersionID == nil || *second.PreviousSchemaVersionID != first.ID {
		t.Fatalf("second version should chain to first, got %v", second.PreviousSchemaVersionID)
	}
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Fatalf("created_at must strictly increase: first=%s second=%s", first.CreatedAt, second.CreatedAt)
	}

	latest, err := f.ledger.LatestVersions(ctx, targetID)
	if err != nil {
		t.Fatalf("LatestVersions: %v", err)
	}
	if latest.Latest == nil || latest.Latest.ID != second.ID {
		t.Fatalf("latest should be the second version, got %+v", latest.Latest)
	}
	if latest.LatestComposable == nil || latest.LatestComposable.ID != second.ID {
		t.Fatalf("latest composable should be the second version, got %+v", latest.LatestComposable)
	}
}

func TestLedgerCreateVersionRejectsStaleHead(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	targetID := f.target.Target.ID

	if _, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{
		Version: composableVersion(targetID, "type Query { a: String }"),
	}, nil); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	// A writer that observed the empty history loses.
	_, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{
		Version: composableVersion(targetID, "type Query { b: String }"),
	}, nil)
	if !registry.IsCode(err, registry.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := f.hooks.OpsWithCode(registry.CodeConflict); len(got) != 1 || got[0] != "Ledger.CreateVersion" {
		t.Fatalf("conflict outcome not recorded: %+v", f.hooks.Outcomes())
	}
}

func TestLedgerCreateVersionSideEffects(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	targetID := f.target.Target.ID

	var calls int
	failing := func(context.Context, *registry.SchemaVersion, []*registry.ContractVersion) error {
		calls++
		return errors.New("cdn unavailable")
	}

	v, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{
		Version: composableVersion(targetID, "type Query { a: String }"),
	}, failing)
	if err != nil {
		t.Fatalf("side effect failure must not fail the write: %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback calls: want=1 got=%d", calls)
	}

	broken := &registry.SchemaVersion{
		TargetID:          targetID,
		IsComposable:      false,
		Schemas:           registry.MustEncodeJSON([]registry.ServiceSchema{{Name: "users", SDL: "type Query { a: Nope }"}}),
		CompositionErrors: registry.MustEncodeJSON([]registry.CompositionError{{Message: "Unknown type Nope"}}),
	}
	if _, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{ExpectedPreviousID: &v.ID, Version: broken}, failing); err != nil {
		t.Fatalf("CreateVersion non-composable: %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback must not run for non-composable versions, calls=%d", calls)
	}

	latest, err := f.ledger.LatestVersions(ctx, targetID)
	if err != nil {
		t.Fatalf("LatestVersions: %v", err)
	}
	if latest.Latest.ID != broken.ID || latest.LatestComposable.ID != v.ID {
		t.Fatalf("latest=%s composable=%s", latest.Latest.ID, latest.LatestComposable.ID)
	}
}

func TestLedgerCreateVersionCommitFailureKeepsHistory(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.runner.FailCommit = errors.New("connection reset")

	called := false
	_, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{
		Version: composableVersion(f.target.Target.ID, "type Query { a: String }"),
	}, func(context.Context, *registry.SchemaVersion, []*registry.ContractVersion) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if called {
		t.Fatalf("side effects must not run when the write failed")
	}
	var count int64
	if err := f.db.Model(&registry.SchemaVersion{}).Where("target_id = ?", f.target.Target.ID).Count(&count).Error; err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if count != 0 {
		t.Fatalf("rolled back write left %d rows", count)
	}
}

func TestLedgerRejectsInconsistentVersions(t *testing.T) {
	f := newLedgerFixture(t, nil)
	v := composableVersion(f.target.Target.ID, "type Query { a: String }")
	v.CompositionErrors = registry.MustEncodeJSON([]registry.CompositionError{{Message: "x"}})
	_, err := f.ledger.CreateVersion(context.Background(), registry.CreateVersionInput{Version: v}, nil)
	if !registry.IsCode(err, registry.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestLedgerApproveFailedSchemaCheck(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	targetID := f.target.Target.ID
	contract := testutil.SeedContract(t, ctx, f.db, targetID, "public", []string{"public"}, nil)

	removed := registry.SchemaChange{
		Type:        "FIELD_REMOVED",
		Path:        "Query.b",
		Message:     "Field 'b' was removed from object type 'Query'",
		Criticality: registry.CriticalityBreaking,
	}
	check, err := f.ledger.CreateSchemaCheck(ctx, &registry.SchemaCheck{
		TargetID:        targetID,
		SchemaSDL:       "type Query { a: String }",
		BreakingChanges: registry.MustEncodeJSON([]registry.SchemaChange{removed}),
		ContextID:       registry.StringPtr("pr-42"),
	}, []*registry.ContractCheck{{
		ContractID:      contract.ID,
		ContractName:    contract.Name,
		BreakingChanges: registry.MustEncodeJSON([]registry.SchemaChange{removed}),
	}})
	if err != nil {
		t.Fatalf("CreateSchemaCheck: %v", err)
	}

	res, err := f.ledger.ApproveFailedSchemaCheck(ctx, registry.ApproveCheckInput{
		TargetID: targetID,
		CheckID:  check.ID,
		UserID:   "alice",
		Comment:  "intentional",
	})
	if err != nil {
		t.Fatalf("ApproveFailedSchemaCheck: %v", err)
	}
	if !res.Check.IsSuccess || !res.Check.IsManuallyApproved {
		t.Fatalf("check should be approved: %+v", res.Check)
	}
	breaking := res.Check.Breaking()
	if len(breaking) != 1 || breaking[0].Approval == nil || breaking[0].Approval.ApprovedBy != "alice" {
		t.Fatalf("breaking change not stamped: %+v", breaking)
	}
	if len(res.Contracts) != 1 || !res.Contracts[0].IsSuccess {
		t.Fatalf("contract check not approved: %+v", res.Contracts)
	}

	approved, err := f.ledger.ApprovedChangesForContext(ctx, targetID, "pr-42")
	if err != nil {
		t.Fatalf("ApprovedChangesForContext: %v", err)
	}
	fp := registry.ChangeFingerprint(removed.Type, removed.Path, removed.Message)
	if _, ok := approved.Scope(registry.MainApprovalScope)[fp]; !ok {
		t.Fatalf("main approval missing: %+v", approved)
	}
	if _, ok := approved.Scope(contract.ID.String())[fp]; !ok {
		t.Fatalf("contract approval missing: %+v", approved)
	}

	_, err = f.ledger.ApproveFailedSchemaCheck(ctx, registry.ApproveCheckInput{TargetID: targetID, CheckID: check.ID, UserID: "bob"})
	if !registry.IsCode(err, registry.CodePreconditionFailed) {
		t.Fatalf("second approval: expected precondition_failed, got %v", err)
	}
}

func TestLedgerApproveRefusesCompositionFailures(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	targetID := f.target.Target.ID
	contract := testutil.SeedContract(t, ctx, f.db, targetID, "public", []string{"public"}, nil)

	mainFailed, err := f.ledger.CreateSchemaCheck(ctx, &registry.SchemaCheck{
		TargetID:          targetID,
		SchemaSDL:         "type Query { a: Nope }",
		CompositionErrors: registry.MustEncodeJSON([]registry.CompositionError{{Message: "Unknown type Nope"}}),
	}, nil)
	if err != nil {
		t.Fatalf("CreateSchemaCheck: %v", err)
	}
	_, err = f.ledger.ApproveFailedSchemaCheck(ctx, registry.ApproveCheckInput{TargetID: targetID, CheckID: mainFailed.ID, UserID: "alice"})
	if !registry.IsCode(err, registry.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for composition errors, got %v", err)
	}

	contractFailed, err := f.ledger.CreateSchemaCheck(ctx, &registry.SchemaCheck{
		TargetID:  targetID,
		SchemaSDL: "type Query { a: String }",
	}, []*registry.ContractCheck{{
		ContractID:        contract.ID,
		ContractName:      contract.Name,
		CompositionErrors: registry.MustEncodeJSON([]registry.CompositionError{{Message: "empty contract"}}),
	}})
	if err != nil {
		t.Fatalf("CreateSchemaCheck: %v", err)
	}
	_, err = f.ledger.ApproveFailedSchemaCheck(ctx, registry.ApproveCheckInput{TargetID: targetID, CheckID: contractFailed.ID, UserID: "alice"})
	if !registry.IsCode(err, registry.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for contract composition errors, got %v", err)
	}

	_, err = f.ledger.ApproveFailedSchemaCheck(ctx, registry.ApproveCheckInput{TargetID: targetID, CheckID: uuid.New(), UserID: "alice"})
	if !registry.IsCode(err, registry.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestLedgerVersionWithBaseline(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	targetID := f.target.Target.ID

	first, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{Version: composableVersion(targetID, "type Query { a: String }")}, nil)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	next := composableVersion(targetID, "type Query { a: String b: String }")
	next.DiffSchemaVersionID = &first.ID
	second, err := f.ledger.CreateVersion(ctx, registry.CreateVersionInput{ExpectedPreviousID: &first.ID, Version: next}, nil)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	details, err := f.ledger.VersionWithBaseline(ctx, targetID, second.ID)
	if err != nil {
		t.Fatalf("VersionWithBaseline: %v", err)
	}
	if details.Baseline == nil || details.Baseline.ID != first.ID {
		t.Fatalf("baseline should be the first version, got %+v", details.Baseline)
	}

	_, err = f.ledger.VersionWithBaseline(ctx, targetID, uuid.New())
	if !registry.IsCode(err, registry.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestShouldUseLatestComposableVersion(t *testing.T) {
	cases := []struct {
		name    string
		org     registry.Organization
		project registry.Project
		target  registry.Target
		want    bool
	}{
		{name: "legacy defaults", want: false},
		{name: "org opt in", org: registry.Organization{CompareToPreviousComposableVersion: true}, want: true},
		{name: "native federation", project: registry.Project{NativeFederation: true}, want: true},
		{name: "native federation forced legacy", project: registry.Project{NativeFederation: true}, target: registry.Target{ForceLegacyComposition: true}, want: false},
		{name: "org opt in beats forced legacy", org: registry.Organization{CompareToPreviousComposableVersion: true}, target: registry.Target{ForceLegacyComposition: true}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := aggregates.ShouldUseLatestComposableVersion(&tc.org, &tc.project, &tc.target); got != tc.want {
				t.Fatalf("want=%v got=%v", tc.want, got)
			}
		})
	}
}
