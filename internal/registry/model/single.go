package model

import (
	"context"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

// Single is the model of projects with exactly one unnamed schema.
type Single struct {
	base
}

func (m *Single) Check(ctx context.Context, in CheckInput, env Env) (CheckOutcome, error) {
	schemas := []registry.ServiceSchema{in.Service}
	if same, err := env.unchanged(schemas); err != nil {
		return CheckOutcome{}, err
	} else if same {
		return CheckOutcome{Conclusion: Skip}, nil
	}
	st, err := m.evaluate(ctx, env, schemas)
	if err != nil {
		return CheckOutcome{}, err
	}
	return checkVerdict(st), nil
}

func (m *Single) Publish(ctx context.Context, in PublishInput, env Env) (PublishOutcome, error) {
	if !validMetadata(in.Service.Metadata) {
		return PublishOutcome{Conclusion: Reject, Reasons: []Reason{metadataFailure()}}, nil
	}
	schemas := []registry.ServiceSchema{in.Service}
	if same, err := env.unchanged(schemas); err != nil {
		return PublishOutcome{}, err
	} else if same {
		return PublishOutcome{Conclusion: Ignore, Message: IgnoreMessage}, nil
	}
	st, err := m.evaluate(ctx, env, schemas)
	if err != nil {
		return PublishOutcome{}, err
	}
	if !st.Composable() {
		return PublishOutcome{Conclusion: Reject, Reasons: []Reason{compositionFailure(st.Composition.Errors)}, State: st}, nil
	}
	if blocking := st.Diff.Blocking(); len(blocking) > 0 {
		if !in.Force {
			return PublishOutcome{Conclusion: Reject, Reasons: []Reason{breakingChanges(blocking)}, State: st}, nil
		}
		m.approve(st, in.Actor, "accepted on publish")
		m.log.Info("breaking changes accepted on publish", "actor", in.Actor, "changes", len(blocking))
	}
	return PublishOutcome{Conclusion: Accept, State: st}, nil
}

// Delete always rejects: a single-schema project has no named service to remove.
func (m *Single) Delete(ctx context.Context, in DeleteInput, env Env) (DeleteOutcome, error) {
	return DeleteOutcome{
		Conclusion: Reject,
		Reasons:    []Reason{{Code: ReasonDeleteNotSupported, Message: "Deleting a service is not supported by single-schema projects."}},
	}, nil
}
