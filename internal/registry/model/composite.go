package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

// Composite is the model of federated and stitched projects built from named services.
type Composite struct {
	base
}

func findService(schemas []registry.ServiceSchema, name string) (registry.ServiceSchema, bool) {
	for _, s := range schemas {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return registry.ServiceSchema{}, false
}

// replaceService returns existing minus any service named like svc, plus svc, sorted by name.
func replaceService(existing []registry.ServiceSchema, svc *registry.ServiceSchema) []registry.ServiceSchema {
	out := make([]registry.ServiceSchema, 0, len(existing)+1)
	for _, s := range existing {
		if svc != nil && strings.EqualFold(s.Name, svc.Name) {
			continue
		}
		out = append(out, s)
	}
	if svc != nil {
		out = append(out, *svc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func removeService(existing []registry.ServiceSchema, name string) []registry.ServiceSchema {
	out := make([]registry.ServiceSchema, 0, len(existing))
	for _, s := range existing {
		if !strings.EqualFold(s.Name, name) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// prepare validates an incoming service and returns the full service set it produces. The url
// and metadata requirements only bind publishes; checks never carry them.
func (m *Composite) prepare(in registry.ServiceSchema, env Env, forPublish bool) ([]registry.ServiceSchema, []string, []Reason, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, []Reason{{Code: ReasonMissingServiceName, Message: "Service name is required."}}, nil
	}
	in.Name = name
	latest, err := env.latestSchemas()
	if err != nil {
		return nil, nil, nil, err
	}
	existing, found := findService(latest, name)

	var reasons []Reason
	if !found && !serviceNamePattern.MatchString(name) {
		reasons = append(reasons, Reason{
			Code:    ReasonInvalidServiceName,
			Message: fmt.Sprintf("Invalid service name %q. Names start with a letter and use letters, digits, \"_\" or \"-\", up to 64 characters.", name),
		})
	}
	in.URL = strings.TrimSpace(in.URL)
	if in.URL == "" {
		in.URL = existing.URL
	}
	if forPublish && in.URL == "" && m.projectType == registry.ProjectTypeFederation {
		reasons = append(reasons, Reason{Code: ReasonMissingServiceURL, Message: fmt.Sprintf("Service %q has no url.", name)})
	}
	if forPublish && !validMetadata(in.Metadata) {
		reasons = append(reasons, metadataFailure())
	}
	if len(reasons) > 0 {
		return nil, nil, reasons, nil
	}

	var messages []string
	if found && existing.URL != "" && in.URL != existing.URL {
		messages = append(messages, fmt.Sprintf("New service url: %s (previously: %s)", in.URL, existing.URL))
	}
	return replaceService(latest, &in), messages, nil, nil
}

func (m *Composite) Check(ctx context.Context, in CheckInput, env Env) (CheckOutcome, error) {
	schemas, messages, reasons, err := m.prepare(in.Service, env, false)
	if err != nil {
		return CheckOutcome{}, err
	}
	if len(reasons) > 0 {
		return CheckOutcome{Conclusion: Reject, Reasons: reasons}, nil
	}
	if same, err := env.unchanged(schemas); err != nil {
		return CheckOutcome{}, err
	} else if same {
		return CheckOutcome{Conclusion: Skip}, nil
	}
	st, err := m.evaluate(ctx, env, schemas)
	if err != nil {
		return CheckOutcome{}, err
	}
	st.Messages = append(messages, st.Messages...)
	return checkVerdict(st), nil
}

func (m *Composite) Publish(ctx context.Context, in PublishInput, env Env) (PublishOutcome, error) {
	schemas, messages, reasons, err := m.prepare(in.Service, env, true)
	if err != nil {
		return PublishOutcome{}, err
	}
	if len(reasons) > 0 {
		return PublishOutcome{Conclusion: Reject, Reasons: reasons}, nil
	}
	if same, err := env.unchanged(schemas); err != nil {
		return PublishOutcome{}, err
	} else if same {
		return PublishOutcome{Conclusion: Ignore, Message: IgnoreMessage}, nil
	}
	st, err := m.evaluate(ctx, env, schemas)
	if err != nil {
		return PublishOutcome{}, err
	}
	st.Messages = append(messages, st.Messages...)

	if !st.Composable() {
		// Without the composable baseline policy a broken composition is still recorded, so the
		// service set can be fixed by a later publish.
		if env.UseLatestComposable {
			return PublishOutcome{Conclusion: Reject, Reasons: []Reason{compositionFailure(st.Composition.Errors)}, State: st}, nil
		}
		return PublishOutcome{Conclusion: Accept, State: st}, nil
	}

	var blocking []Reason
	if b := st.Diff.Blocking(); len(b) > 0 {
		blocking = append(blocking, breakingChanges(b))
	}
	blocking = append(blocking, contractBlocking(st.Contracts)...)
	if len(blocking) > 0 {
		if !in.Force {
			return PublishOutcome{Conclusion: Reject, Reasons: blocking, State: st}, nil
		}
		m.approve(st, in.Actor, "accepted on publish")
		m.log.Info("breaking changes accepted on publish", "actor", in.Actor, "service", in.Service.Name)
	}
	return PublishOutcome{Conclusion: Accept, State: st}, nil
}

func (m *Composite) Delete(ctx context.Context, in DeleteInput, env Env) (DeleteOutcome, error) {
	name := strings.TrimSpace(in.ServiceName)
	if name == "" {
		return DeleteOutcome{Conclusion: Reject, Reasons: []Reason{{Code: ReasonMissingServiceName, Message: "Service name is required."}}}, nil
	}
	latest, err := env.latestSchemas()
	if err != nil {
		return DeleteOutcome{}, err
	}
	if _, ok := findService(latest, name); !ok {
		return DeleteOutcome{
			Conclusion: Reject,
			Reasons:    []Reason{{Code: ReasonServiceNotFound, Message: fmt.Sprintf("Service %q not found", name)}},
		}, nil
	}
	st, err := m.evaluate(ctx, env, removeService(latest, name))
	if err != nil {
		return DeleteOutcome{}, err
	}
	if !st.Composable() && env.UseLatestComposable {
		return DeleteOutcome{Conclusion: Reject, Reasons: []Reason{compositionFailure(st.Composition.Errors)}, State: st}, nil
	}
	// Removing a service is an explicit decision; its breaking changes are recorded as approved.
	m.approve(st, in.Actor, "service deleted")
	return DeleteOutcome{Conclusion: Accept, State: st}, nil
}
