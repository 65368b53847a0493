package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/schema-registry/internal/checkrun"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/notify"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/cache"
	"github.com/yungbote/schema-registry/internal/platform/lock"
	"github.com/yungbote/schema-registry/internal/registry/model"
)

type PublishInput struct {
	Target  registry.TargetRef     `json:"target"`
	Service registry.ServiceSchema `json:"service"`
	Author  string                 `json:"author,omitempty"`
	Commit  string                 `json:"commit,omitempty"`
	// Force persists breaking changes as approved by the actor instead of rejecting.
	Force     bool    `json:"force,omitempty"`
	ContextID string  `json:"context_id,omitempty"`
	GitHub    *GitHub `json:"github,omitempty"`
	// SupportsRetry turns lock exhaustion into StatusRetryRequested instead of an error.
	SupportsRetry bool  `json:"supports_retry,omitempty"`
	Actor         Actor `json:"actor"`
}

type PublishResult struct {
	Status   Status                      `json:"status"`
	Message  string                      `json:"message,omitempty"`
	Version  *registry.SchemaVersion     `json:"version,omitempty"`
	Initial  bool                        `json:"initial"`
	Valid    bool                        `json:"valid"`
	Reasons  []model.Reason              `json:"reasons,omitempty"`
	Changes  []registry.SchemaChange     `json:"changes,omitempty"`
	Errors   []registry.CompositionError `json:"errors,omitempty"`
	Messages []string                    `json:"messages,omitempty"`
}

func publishLockKey(targetID string) string { return "publish:" + targetID }

// Publish submits one schema. Identical publishes racing on one target share a single outcome.
func (p *Publisher) Publish(ctx context.Context, in PublishInput) (res PublishResult, err error) {
	const op = "publish"
	start := time.Now()
	var projectType registry.ProjectType
	ctx, span := observability.StartSpan(ctx, "registry.publish")
	defer func() {
		span.SetAttributes(attribute.String("registry.status", string(res.Status)))
		observability.EndSpan(span, err)
		p.finish(op, projectType, res.Status, start, err)
	}()

	if err := validateContextID("Publisher.Publish", in.ContextID); err != nil {
		return PublishResult{}, err
	}
	if err := validateGitHub("Publisher.Publish", in.GitHub); err != nil {
		return PublishResult{}, err
	}
	rt, err := p.resolve(ctx, "Publisher.Publish", in.Target)
	if err != nil {
		return PublishResult{}, err
	}
	projectType = rt.Project.Type
	span.SetAttributes(
		attribute.String("registry.target_id", rt.Target.ID.String()),
		attribute.String("registry.project_type", string(projectType)),
	)

	head, err := p.deps.Ledger.LatestVersions(ctx, rt.Target.ID)
	if err != nil {
		return PublishResult{}, err
	}
	checksum := publishChecksum(rt.Target.ID, in, head.LatestID())
	log := p.log.With("operation", op, "target_id", rt.Target.ID.String(), "project_type", string(projectType), "checksum", checksum)

	lockStart := time.Now()
	err = p.deps.Locker.Perform(ctx, publishLockKey(rt.Target.ID.String()), p.deps.LockOptions, func(ctx context.Context) error {
		observability.Current().ObserveLockWait("acquired", time.Since(lockStart))
		loaded := false
		out, err := cache.WrapJSON(ctx, p.deps.Cache, "schema:publish:"+checksum, p.deps.DedupTTL, func(ctx context.Context) (PublishResult, error) {
			loaded = true
			return p.publishLocked(ctx, rt, in)
		})
		if err != nil {
			return err
		}
		if !loaded {
			observability.Current().IncDedupHit(op)
			log.Debug("publish answered from dedup cache")
		}
		res = out
		return nil
	})
	if errors.Is(err, lock.ErrResourceLocked) {
		observability.Current().ObserveLockWait("exhausted", time.Since(lockStart))
		if in.SupportsRetry {
			log.Info("target locked; asking caller to retry")
			return PublishResult{Status: StatusRetryRequested, Message: RetryMessage}, nil
		}
		return PublishResult{}, registry.NewError(registry.CodeResourceLocked, "Publisher.Publish", RetryMessage, err)
	}
	if err != nil {
		return PublishResult{}, err
	}
	log.Info("publish finished", "status", string(res.Status))
	return res, nil
}

func (p *Publisher) publishLocked(ctx context.Context, rt *registry.ResolvedTarget, in PublishInput) (PublishResult, error) {
	latest, err := p.deps.Ledger.LatestVersions(ctx, rt.Target.ID)
	if err != nil {
		return PublishResult{}, err
	}
	env, err := p.env(ctx, rt, latest, in.ContextID)
	if err != nil {
		return PublishResult{}, err
	}
	m, err := p.modelFor(rt.Project)
	if err != nil {
		return PublishResult{}, err
	}
	out, err := m.Publish(ctx, model.PublishInput{Service: in.Service, Force: in.Force, Actor: in.Actor.ID}, env)
	if err != nil {
		return PublishResult{}, err
	}

	switch out.Conclusion {
	case model.Ignore:
		return PublishResult{Status: StatusIgnored, Message: out.Message, Valid: latest.Latest != nil && latest.Latest.IsComposable}, nil
	case model.Reject:
		res := PublishResult{Status: StatusRejected, Reasons: out.Reasons, Message: strings.Join(reasonMessages(out.Reasons), "; ")}
		if out.State != nil {
			res.Changes = out.State.Diff.All
			res.Errors = out.State.Composition.Errors
			res.Messages = out.State.Messages
		}
		p.reportCheckRun(ctx, in.GitHub, "schema-registry publish", checkrun.ConclusionFailure, "Schema publish rejected", res.Message)
		return res, nil
	}

	st := out.State
	v, cvs := p.version(rt, registry.ActionPush, st)
	v.ServiceName = strings.TrimSpace(in.Service.Name)
	v.ServiceURL = strings.TrimSpace(in.Service.URL)
	v.Author = strings.TrimSpace(in.Author)
	v.Commit = strings.TrimSpace(in.Commit)
	if in.GitHub != nil {
		v.GitHubRepository = registry.StringPtr(strings.TrimSpace(in.GitHub.Repository))
		v.GitHubCommit = registry.StringPtr(strings.TrimSpace(in.GitHub.Commit))
	}
	saved, err := p.deps.Ledger.CreateVersion(ctx, registry.CreateVersionInput{
		ExpectedPreviousID: latest.LatestID(),
		Version:            v,
		Contracts:          cvs,
	}, p.publishArtifacts(rt.Project.Type))
	if err != nil {
		return PublishResult{}, err
	}

	res := PublishResult{
		Status:   StatusAccepted,
		Version:  saved,
		Initial:  st.Initial,
		Valid:    st.Composable(),
		Changes:  st.Diff.All,
		Errors:   st.Composition.Errors,
		Messages: st.Messages,
	}
	breaking, safe := countCriticality(st.Diff.All)
	ev := notify.Event{
		Kind:            notify.KindSchemaPublished,
		OrganizationID:  rt.Target.OrganizationID,
		ProjectID:       rt.Project.ID,
		TargetID:        rt.Target.ID,
		VersionID:       saved.ID,
		ServiceName:     saved.ServiceName,
		IsComposable:    saved.IsComposable,
		Initial:         st.Initial,
		BreakingChanges: breaking,
		SafeChanges:     safe,
		Messages:        st.Messages,
		CreatedAt:       saved.CreatedAt,
	}
	p.detach(ctx, "notification", func(ctx context.Context) error { return p.deps.Notifier.Notify(ctx, ev) })
	p.reportCheckRun(ctx, in.GitHub, "schema-registry publish", checkrun.ConclusionSuccess, "Schema published",
		fmt.Sprintf("%d breaking, %d safe change(s)", breaking, safe))
	return res, nil
}
