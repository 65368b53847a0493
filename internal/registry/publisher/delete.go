package publisher

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/notify"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/lock"
	"github.com/yungbote/schema-registry/internal/registry/model"
)

type DeleteInput struct {
	Target        registry.TargetRef `json:"target"`
	ServiceName   string             `json:"service_name"`
	SupportsRetry bool               `json:"supports_retry,omitempty"`
	Actor         Actor              `json:"actor"`
}

type DeleteResult struct {
	Status   Status                      `json:"status"`
	Message  string                      `json:"message,omitempty"`
	Version  *registry.SchemaVersion     `json:"version,omitempty"`
	Valid    bool                        `json:"valid"`
	Reasons  []model.Reason              `json:"reasons,omitempty"`
	Changes  []registry.SchemaChange     `json:"changes,omitempty"`
	Errors   []registry.CompositionError `json:"errors,omitempty"`
	Messages []string                    `json:"messages,omitempty"`
}

// Delete removes a service from a composite project, serialized with publishes on the target.
func (p *Publisher) Delete(ctx context.Context, in DeleteInput) (res DeleteResult, err error) {
	const op = "delete"
	start := time.Now()
	var projectType registry.ProjectType
	ctx, span := observability.StartSpan(ctx, "registry.delete")
	defer func() {
		span.SetAttributes(attribute.String("registry.status", string(res.Status)))
		observability.EndSpan(span, err)
		p.finish(op, projectType, res.Status, start, err)
	}()

	rt, err := p.resolve(ctx, "Publisher.Delete", in.Target)
	if err != nil {
		return DeleteResult{}, err
	}
	projectType = rt.Project.Type

	lockStart := time.Now()
	err = p.deps.Locker.Perform(ctx, publishLockKey(rt.Target.ID.String()), p.deps.LockOptions, func(ctx context.Context) error {
		observability.Current().ObserveLockWait("acquired", time.Since(lockStart))
		out, err := p.deleteLocked(ctx, rt, in)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if errors.Is(err, lock.ErrResourceLocked) {
		observability.Current().ObserveLockWait("exhausted", time.Since(lockStart))
		if in.SupportsRetry {
			return DeleteResult{Status: StatusRetryRequested, Message: RetryMessage}, nil
		}
		return DeleteResult{}, registry.NewError(registry.CodeResourceLocked, "Publisher.Delete", RetryMessage, err)
	}
	if err != nil {
		return DeleteResult{}, err
	}
	return res, nil
}

func (p *Publisher) deleteLocked(ctx context.Context, rt *registry.ResolvedTarget, in DeleteInput) (DeleteResult, error) {
	latest, err := p.deps.Ledger.LatestVersions(ctx, rt.Target.ID)
	if err != nil {
		return DeleteResult{}, err
	}
	env, err := p.env(ctx, rt, latest, "")
	if err != nil {
		return DeleteResult{}, err
	}
	m, err := p.modelFor(rt.Project)
	if err != nil {
		return DeleteResult{}, err
	}
	out, err := m.Delete(ctx, model.DeleteInput{ServiceName: in.ServiceName, Actor: in.Actor.ID}, env)
	if err != nil {
		return DeleteResult{}, err
	}
	if out.Conclusion != model.Accept {
		res := DeleteResult{Status: StatusRejected, Reasons: out.Reasons, Message: strings.Join(reasonMessages(out.Reasons), "; ")}
		if out.State != nil {
			res.Errors = out.State.Composition.Errors
		}
		return res, nil
	}

	st := out.State
	v, cvs := p.version(rt, registry.ActionDelete, st)
	v.ServiceName = strings.TrimSpace(in.ServiceName)
	v.Author = in.Actor.ID
	saved, err := p.deps.Ledger.CreateVersion(ctx, registry.CreateVersionInput{
		ExpectedPreviousID: latest.LatestID(),
		Version:            v,
		Contracts:          cvs,
	}, p.publishArtifacts(rt.Project.Type))
	if err != nil {
		return DeleteResult{}, err
	}

	breaking, safe := countCriticality(st.Diff.All)
	ev := notify.Event{
		Kind:            notify.KindSchemaDeleted,
		OrganizationID:  rt.Target.OrganizationID,
		ProjectID:       rt.Project.ID,
		TargetID:        rt.Target.ID,
		VersionID:       saved.ID,
		ServiceName:     saved.ServiceName,
		IsComposable:    saved.IsComposable,
		BreakingChanges: breaking,
		SafeChanges:     safe,
		Messages:        st.Messages,
		CreatedAt:       saved.CreatedAt,
	}
	p.detach(ctx, "notification", func(ctx context.Context) error { return p.deps.Notifier.Notify(ctx, ev) })
	return DeleteResult{
		Status:   StatusAccepted,
		Version:  saved,
		Valid:    st.Composable(),
		Changes:  st.Diff.All,
		Errors:   st.Composition.Errors,
		Messages: st.Messages,
	}, nil
}
