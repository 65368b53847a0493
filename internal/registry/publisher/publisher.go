// Package publisher is the entry point for publishing, checking and deleting schemas of a target.
// It resolves the target, serializes writers per target, deduplicates identical publishes,
// delegates decisions to the project's model and records the outcome in the ledger.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/yungbote/schema-registry/internal/artifacts"
	"github.com/yungbote/schema-registry/internal/checkrun"
	"github.com/yungbote/schema-registry/internal/data/aggregates"
	"github.com/yungbote/schema-registry/internal/data/usage"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/notify"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/cache"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/lock"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/contracts"
	"github.com/yungbote/schema-registry/internal/registry/diff"
	"github.com/yungbote/schema-registry/internal/registry/engine"
	"github.com/yungbote/schema-registry/internal/registry/model"
	"github.com/yungbote/schema-registry/internal/registry/orchestrator"
)

const (
	DefaultDedupTTL = 15 * time.Second

	maxContextIDLength = 200
	sideEffectTimeout  = 30 * time.Second
)

var repositoryPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

type Status string

const (
	StatusAccepted       Status = "accepted"
	StatusRejected       Status = "rejected"
	StatusIgnored        Status = "ignored"
	StatusSkipped        Status = "skipped"
	StatusRetryRequested Status = "retry_requested"
)

// RetryMessage is returned to callers that declared retry support when the target stays locked.
const RetryMessage = "Another schema operation is in progress for this target. Please retry."

// TargetResolver turns a loose reference into its organization, project and target.
type TargetResolver interface {
	Resolve(dbc dbctx.Context, ref registry.TargetRef) (*registry.ResolvedTarget, error)
}

type Deps struct {
	Targets   TargetResolver
	Ledger    registry.Ledger
	Engine    engine.Engine
	Usage     usage.Reader
	Locker    lock.Locker
	Cache     cache.Cache
	Artifacts artifacts.Writer
	Notifier  notify.Notifier
	CheckRuns checkrun.Reporter
	Log       *logger.Logger

	CompositionTimeout time.Duration
	LockOptions        lock.Options
	DedupTTL           time.Duration
	Now                func() time.Time
}

type Publisher struct {
	deps      Deps
	log       *logger.Logger
	inspector *diff.Inspector
	contracts *contracts.Evaluator
	inflight  sync.WaitGroup
}

func New(deps Deps) (*Publisher, error) {
	if deps.Targets == nil || deps.Ledger == nil || deps.Engine == nil {
		return nil, fmt.Errorf("publisher: targets, ledger and engine are required")
	}
	if deps.Locker == nil || deps.Cache == nil {
		return nil, fmt.Errorf("publisher: locker and cache are required")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Artifacts == nil {
		deps.Artifacts = artifacts.NewMemoryWriter()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop()
	}
	if deps.CheckRuns == nil {
		deps.CheckRuns = checkrun.NewLogReporter(deps.Log)
	}
	if deps.CompositionTimeout <= 0 {
		deps.CompositionTimeout = orchestrator.DefaultTimeout
	}
	if deps.LockOptions == (lock.Options{}) {
		deps.LockOptions = lock.DefaultOptions()
	}
	if deps.DedupTTL <= 0 {
		deps.DedupTTL = DefaultDedupTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	inspector := diff.NewInspector(deps.Usage, deps.Log)
	return &Publisher{
		deps:      deps,
		log:       deps.Log.With("service", "Publisher"),
		inspector: inspector,
		contracts: contracts.NewEvaluator(inspector, deps.Log),
	}, nil
}

// Wait blocks until detached side effects finish or ctx ends.
func (p *Publisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Actor is the principal performing an operation.
type Actor struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
}

// GitHub links an operation to a commit for check-run reporting.
type GitHub struct {
	Repository string `json:"repository"`
	Commit     string `json:"commit"`
}

func validateGitHub(op string, gh *GitHub) error {
	if gh == nil {
		return nil
	}
	if !repositoryPattern.MatchString(strings.TrimSpace(gh.Repository)) {
		return registry.NewError(registry.CodeValidation, op, `Invalid repository. Expected the "owner/name" format.`, nil)
	}
	return nil
}

func validateContextID(op, contextID string) error {
	if contextID == "" {
		return nil
	}
	// Limits are in characters, not bytes.
	if strings.TrimSpace(contextID) == "" || utf8.RuneCountInString(contextID) > maxContextIDLength {
		return registry.NewError(registry.CodeValidation, op, fmt.Sprintf("Context ID must be between 1 and %d characters.", maxContextIDLength), nil)
	}
	return nil
}

func (p *Publisher) resolve(ctx context.Context, op string, ref registry.TargetRef) (*registry.ResolvedTarget, error) {
	rt, err := p.deps.Targets.Resolve(dbctx.Context{Ctx: ctx}, ref)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if rt == nil || rt.Target == nil || rt.Project == nil {
		return nil, registry.NewError(registry.CodeNotFound, op, "Target not found.", nil)
	}
	return rt, nil
}

func (p *Publisher) modelFor(project *registry.Project) (model.Model, error) {
	orch, err := orchestrator.ForProjectType(project.Type, p.deps.Engine, p.deps.CompositionTimeout)
	if err != nil {
		return nil, err
	}
	return model.ForProject(project, model.Deps{
		Orchestrator: orch,
		Differ:       p.inspector,
		Contracts:    p.contracts,
		Log:          p.deps.Log,
		Now:          p.deps.Now,
	})
}

func (p *Publisher) env(ctx context.Context, rt *registry.ResolvedTarget, latest registry.LatestVersions, contextID string) (model.Env, error) {
	approved, err := p.deps.Ledger.ApprovedChangesForContext(ctx, rt.Target.ID, contextID)
	if err != nil {
		return model.Env{}, err
	}
	return model.Env{
		Organization:        rt.Organization,
		Project:             rt.Project,
		Target:              rt.Target,
		Latest:              latest,
		UseLatestComposable: aggregates.ShouldUseLatestComposableVersion(rt.Organization, rt.Project, rt.Target),
		Approved:            approved,
		Usage:               diff.SettingsForTarget(rt.Target),
	}, nil
}

// finish records the operation metrics and counts errors no domain code explains.
func (p *Publisher) finish(op string, projectType registry.ProjectType, status Status, start time.Time, err error) {
	m := observability.Current()
	conclusion := string(status)
	if err != nil {
		conclusion = "error"
		if registry.CodeOf(err) == "" && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.IncUnexpectedError(op)
			p.log.Error("unexpected error", "operation", op, "error", err)
		}
	}
	pt := string(projectType)
	if pt == "" {
		pt = "unknown"
	}
	m.ObserveOperation(op, pt, conclusion, time.Since(start))
}

// version turns an accepted model state into the record the ledger appends.
func (p *Publisher) version(rt *registry.ResolvedTarget, action registry.VersionAction, st *model.State) (*registry.SchemaVersion, []*registry.ContractVersion) {
	schemas := st.Schemas
	if schemas == nil {
		schemas = []registry.ServiceSchema{}
	}
	v := &registry.SchemaVersion{
		TargetID:                          rt.Target.ID,
		Action:                            action,
		IsComposable:                      st.Composable(),
		Schemas:                           registry.MustEncodeJSON(schemas),
		BaseSchema:                        rt.Target.BaseSchema,
		Changes:                           registry.MustEncodeJSON(st.Diff.All),
		Messages:                          registry.MustEncodeJSON(st.Messages),
		Tags:                              registry.MustEncodeJSON(st.Composition.Tags),
		HasContractCompositionErrors:      contracts.FailedCount(st.Contracts) > 0,
		ConditionalBreakingChangeMetadata: registry.MustEncodeJSON(st.Diff.Metadata),
	}
	if v.IsComposable {
		v.CompositeSDL = st.Composition.SDL
		v.Supergraph = st.Composition.Supergraph
	} else {
		v.CompositionErrors = registry.MustEncodeJSON(st.Composition.Errors)
	}
	if st.Baseline != nil {
		id := st.Baseline.ID
		v.DiffSchemaVersionID = &id
	}
	var cvs []*registry.ContractVersion
	if v.IsComposable {
		cvs = contracts.Versions(st.Contracts)
	}
	return v, cvs
}

// publishArtifacts is the post-commit hook writing CDN artifacts of a composable version.
func (p *Publisher) publishArtifacts(projectType registry.ProjectType) registry.VersionCommitted {
	return func(ctx context.Context, v *registry.SchemaVersion, cvs []*registry.ContractVersion) error {
		items, err := artifacts.ForVersion(projectType, v, cvs)
		if err == nil {
			err = artifacts.WriteAll(ctx, p.deps.Artifacts, items)
		}
		if err != nil {
			observability.Current().IncSideEffectFailure("cdn")
			return err
		}
		return nil
	}
}

// detach runs fn after the caller has its answer. Failures are logged and counted only.
func (p *Publisher) detach(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	p.inflight.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer p.inflight.Done()
		ctx, cancel := context.WithTimeout(bg, sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			observability.Current().IncSideEffectFailure(kind)
			p.log.Warn("side effect failed", "kind", kind, "error", err)
		}
	}()
}

func (p *Publisher) reportCheckRun(ctx context.Context, gh *GitHub, name string, conclusion checkrun.Conclusion, title, summary string) {
	if gh == nil {
		return
	}
	run := checkrun.Run{
		Repository: strings.TrimSpace(gh.Repository),
		Sha:        strings.TrimSpace(gh.Commit),
		Name:       name,
		Conclusion: conclusion,
		Title:      title,
		Summary:    summary,
	}
	p.detach(ctx, "check_run", func(ctx context.Context) error {
		_, err := p.deps.CheckRuns.CreateCheckRun(ctx, run)
		return err
	})
}

func reasonMessages(reasons []model.Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, r.Message)
	}
	return out
}

func countCriticality(changes []registry.SchemaChange) (breaking, safe int) {
	for _, c := range changes {
		if c.IsBreaking() {
			breaking++
		} else {
			safe++
		}
	}
	return breaking, safe
}
