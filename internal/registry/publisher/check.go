package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/schema-registry/internal/checkrun"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/registry/contracts"
	"github.com/yungbote/schema-registry/internal/registry/model"
)

const checkRunTimeout = 10 * time.Second

type CheckInput struct {
	Target    registry.TargetRef     `json:"target"`
	Service   registry.ServiceSchema `json:"service"`
	ContextID string                 `json:"context_id,omitempty"`
	GitHub    *GitHub                `json:"github,omitempty"`
	Actor     Actor                  `json:"actor"`
}

type CheckResult struct {
	Status    Status                      `json:"status"`
	Check     *registry.SchemaCheck       `json:"check,omitempty"`
	Contracts []*registry.ContractCheck   `json:"contracts,omitempty"`
	Reasons   []model.Reason              `json:"reasons,omitempty"`
	Breaking  []registry.SchemaChange     `json:"breaking,omitempty"`
	Safe      []registry.SchemaChange     `json:"safe,omitempty"`
	Errors    []registry.CompositionError `json:"errors,omitempty"`
	Messages  []string                    `json:"messages,omitempty"`
}

// Check evaluates a schema without publishing it. Checks take no lock and may read a version
// that a concurrent publish is superseding.
func (p *Publisher) Check(ctx context.Context, in CheckInput) (res CheckResult, err error) {
	const op = "check"
	start := time.Now()
	var projectType registry.ProjectType
	ctx, span := observability.StartSpan(ctx, "registry.check")
	defer func() {
		span.SetAttributes(attribute.String("registry.status", string(res.Status)))
		observability.EndSpan(span, err)
		p.finish(op, projectType, res.Status, start, err)
	}()

	if err := validateContextID("Publisher.Check", in.ContextID); err != nil {
		return CheckResult{}, err
	}
	if err := validateGitHub("Publisher.Check", in.GitHub); err != nil {
		return CheckResult{}, err
	}
	rt, err := p.resolve(ctx, "Publisher.Check", in.Target)
	if err != nil {
		return CheckResult{}, err
	}
	projectType = rt.Project.Type

	latest, err := p.deps.Ledger.LatestVersions(ctx, rt.Target.ID)
	if err != nil {
		return CheckResult{}, err
	}
	env, err := p.env(ctx, rt, latest, in.ContextID)
	if err != nil {
		return CheckResult{}, err
	}
	m, err := p.modelFor(rt.Project)
	if err != nil {
		return CheckResult{}, err
	}
	out, err := m.Check(ctx, model.CheckInput{Service: in.Service}, env)
	if err != nil {
		return CheckResult{}, err
	}
	if out.Conclusion == model.Skip {
		return CheckResult{Status: StatusSkipped}, nil
	}
	if out.State == nil {
		// Rejected before composing; nothing worth recording.
		return CheckResult{Status: StatusRejected, Reasons: out.Reasons}, nil
	}

	st := out.State
	check := &registry.SchemaCheck{
		TargetID:                          rt.Target.ID,
		SchemaVersionID:                   latest.LatestID(),
		ServiceName:                       strings.TrimSpace(in.Service.Name),
		ServiceURL:                        strings.TrimSpace(in.Service.URL),
		SchemaSDL:                         in.Service.SDL,
		IsSuccess:                         out.Conclusion == model.Accept,
		BreakingChanges:                   registry.MustEncodeJSON(st.Diff.Breaking),
		SafeChanges:                       registry.MustEncodeJSON(st.Diff.Safe),
		ConditionalBreakingChangeMetadata: registry.MustEncodeJSON(st.Diff.Metadata),
	}
	if st.Composable() {
		check.CompositeSDL = st.Composition.SDL
		check.Supergraph = st.Composition.Supergraph
	} else {
		check.CompositionErrors = registry.MustEncodeJSON(st.Composition.Errors)
	}
	if in.ContextID != "" {
		check.ContextID = registry.StringPtr(in.ContextID)
	}
	if in.GitHub != nil {
		check.GitHubRepository = registry.StringPtr(strings.TrimSpace(in.GitHub.Repository))
		check.GitHubSha = registry.StringPtr(strings.TrimSpace(in.GitHub.Commit))
		check.GitHubCheckRunID = p.createCheckRun(ctx, in.GitHub, out)
	}
	contractChecks := contracts.Checks(st.Contracts)
	saved, err := p.deps.Ledger.CreateSchemaCheck(ctx, check, contractChecks)
	if err != nil {
		return CheckResult{}, err
	}

	status := StatusAccepted
	if out.Conclusion == model.Reject {
		status = StatusRejected
	}
	return CheckResult{
		Status:    status,
		Check:     saved,
		Contracts: contractChecks,
		Reasons:   out.Reasons,
		Breaking:  st.Diff.Breaking,
		Safe:      st.Diff.Safe,
		Errors:    st.Composition.Errors,
		Messages:  st.Messages,
	}, nil
}

// createCheckRun reports synchronously so the run id lands on the check record. A failure only
// leaves the id empty.
func (p *Publisher) createCheckRun(ctx context.Context, gh *GitHub, out model.CheckOutcome) *string {
	conclusion, title := checkrun.ConclusionSuccess, "Schema check passed"
	if out.Conclusion == model.Reject {
		conclusion, title = checkrun.ConclusionFailure, "Schema check failed"
	}
	summary := strings.Join(reasonMessages(out.Reasons), "\n")
	if summary == "" {
		breaking, safe := countCriticality(out.State.Diff.All)
		summary = fmt.Sprintf("%d breaking, %d safe change(s)", breaking, safe)
	}
	ctx, cancel := context.WithTimeout(ctx, checkRunTimeout)
	defer cancel()
	id, err := p.deps.CheckRuns.CreateCheckRun(ctx, checkrun.Run{
		Repository: strings.TrimSpace(gh.Repository),
		Sha:        strings.TrimSpace(gh.Commit),
		Name:       "schema-registry check",
		Conclusion: conclusion,
		Title:      title,
		Summary:    summary,
	})
	if err != nil {
		observability.Current().IncSideEffectFailure("check_run")
		p.log.Warn("check run creation failed", "repository", gh.Repository, "error", err)
		return nil
	}
	if id == "" {
		return nil
	}
	return &id
}
