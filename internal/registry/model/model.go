// Package model holds the per project type rules for checking, publishing and deleting schemas.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/contracts"
	"github.com/yungbote/schema-registry/internal/registry/diff"
	"github.com/yungbote/schema-registry/internal/registry/engine"
	"github.com/yungbote/schema-registry/internal/registry/orchestrator"
)

type Conclusion string

const (
	Accept Conclusion = "accept"
	Reject Conclusion = "reject"
	Ignore Conclusion = "ignore"
	Skip   Conclusion = "skip"
)

type ReasonCode string

const (
	ReasonMissingServiceName     ReasonCode = "MissingServiceName"
	ReasonMissingServiceURL      ReasonCode = "MissingServiceUrl"
	ReasonInvalidServiceName     ReasonCode = "InvalidServiceName"
	ReasonBreakingChanges        ReasonCode = "BreakingChanges"
	ReasonCompositionFailure     ReasonCode = "CompositionFailure"
	ReasonContractFailure        ReasonCode = "ContractFailure"
	ReasonMetadataParsingFailure ReasonCode = "MetadataParsingFailure"
	ReasonServiceNotFound        ReasonCode = "ServiceNotFound"
	ReasonDeleteNotSupported     ReasonCode = "DeleteNotSupported"
)

// IgnoreMessage explains a publish that changed nothing.
const IgnoreMessage = "No changes. Skipping."

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z][\w-]{0,63}$`)

type Reason struct {
	Code    ReasonCode                  `json:"code"`
	Message string                      `json:"message"`
	Changes []registry.SchemaChange     `json:"changes,omitempty"`
	Errors  []registry.CompositionError `json:"errors,omitempty"`
}

// Env is everything a model decision reads besides the request itself.
type Env struct {
	Organization *registry.Organization
	Project      *registry.Project
	Target       *registry.Target
	Latest       registry.LatestVersions
	// UseLatestComposable selects the latest composable version as the diff baseline.
	UseLatestComposable bool
	Approved            registry.ApprovedChanges
	Usage               *diff.UsageSettings
}

func (e Env) baseline() *registry.SchemaVersion {
	return e.Latest.Baseline(e.UseLatestComposable)
}

func (e Env) baseSchema() string {
	if e.Target == nil {
		return ""
	}
	return e.Target.BaseSchema
}

func (e Env) latestSchemas() ([]registry.ServiceSchema, error) {
	if e.Latest.Latest == nil {
		return nil, nil
	}
	schemas, err := e.Latest.Latest.DecodeServiceSchemas()
	if err != nil {
		return nil, registry.NewError(registry.CodeInternal, "Model.latestSchemas", "Latest schema version is unreadable.", err)
	}
	return schemas, nil
}

// unchanged reports a service set and base schema identical to the latest version.
func (e Env) unchanged(schemas []registry.ServiceSchema) (bool, error) {
	if e.Latest.Latest == nil || e.Latest.Latest.BaseSchema != e.baseSchema() {
		return false, nil
	}
	latest, err := e.latestSchemas()
	if err != nil {
		return false, err
	}
	return registry.SameSchemas(schemas, latest), nil
}

type PublishInput struct {
	Service registry.ServiceSchema
	// Force accepts breaking changes; they are persisted as approved by Actor.
	Force bool
	Actor string
}

type CheckInput struct {
	Service registry.ServiceSchema
}

type DeleteInput struct {
	ServiceName string
	Actor       string
}

// State is the evaluated candidate: the full service set, its composition and its changes.
type State struct {
	Schemas     []registry.ServiceSchema
	Composition registry.CompositionResult
	Diff        diff.Result
	Contracts   []contracts.State
	Baseline    *registry.SchemaVersion
	Initial     bool
	Messages    []string
}

func (s *State) Composable() bool { return s.Composition.Composable() }

type PublishOutcome struct {
	Conclusion Conclusion
	Reasons    []Reason
	Message    string
	State      *State
}

type CheckOutcome struct {
	Conclusion Conclusion
	Reasons    []Reason
	State      *State
}

type DeleteOutcome struct {
	Conclusion Conclusion
	Reasons    []Reason
	State      *State
}

type Model interface {
	Check(ctx context.Context, in CheckInput, env Env) (CheckOutcome, error)
	Publish(ctx context.Context, in PublishInput, env Env) (PublishOutcome, error)
	Delete(ctx context.Context, in DeleteInput, env Env) (DeleteOutcome, error)
}

type Deps struct {
	Orchestrator orchestrator.Orchestrator
	Differ       contracts.Differ
	Contracts    *contracts.Evaluator
	Log          *logger.Logger
	Now          func() time.Time
}

// ForProject picks the model variant for the project type.
func ForProject(project *registry.Project, deps Deps) (Model, error) {
	if project == nil {
		return nil, registry.NewError(registry.CodeValidation, "model.ForProject", "missing project", nil)
	}
	if deps.Orchestrator == nil || deps.Differ == nil {
		return nil, fmt.Errorf("model: orchestrator and differ are required")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Contracts == nil {
		deps.Contracts = contracts.NewEvaluator(deps.Differ, deps.Log)
	}
	b := base{deps: deps, projectType: project.Type}
	switch project.Type {
	case registry.ProjectTypeSingle:
		b.log = deps.Log.With("model", "Single")
		return &Single{base: b}, nil
	case registry.ProjectTypeFederation, registry.ProjectTypeStitching:
		b.log = deps.Log.With("model", "Composite", "project_type", string(project.Type))
		return &Composite{base: b}, nil
	default:
		return nil, registry.NewError(registry.CodeValidation, "model.ForProject", fmt.Sprintf("unsupported project type %q", project.Type), nil)
	}
}

type base struct {
	deps        Deps
	projectType registry.ProjectType
	log         *logger.Logger
}

func (b base) config(env Env) orchestrator.Config {
	cfg := orchestrator.Config{BaseSchema: env.baseSchema()}
	if p := env.Project; p != nil {
		cfg.Native = p.NativeFederation && (env.Target == nil || !env.Target.ForceLegacyComposition)
		if p.ExternalCompositionEnabled && strings.TrimSpace(p.ExternalCompositionEndpoint) != "" {
			cfg.External = &engine.External{Endpoint: p.ExternalCompositionEndpoint, Secret: p.ExternalCompositionSecret}
		}
	}
	if b.projectType == registry.ProjectTypeFederation {
		cfg.Contracts = engine.ContractSpecs(env.Latest.Contracts)
	}
	return cfg
}

// evaluate composes schemas and diffs the result (and its contracts) against history.
func (b base) evaluate(ctx context.Context, env Env, schemas []registry.ServiceSchema) (*State, error) {
	comp, err := b.deps.Orchestrator.ComposeAndValidate(ctx, schemas, b.config(env))
	if err != nil {
		return nil, err
	}
	st := &State{
		Schemas:     schemas,
		Composition: comp,
		Baseline:    env.baseline(),
		Initial:     env.Latest.Latest == nil,
		Diff:        diff.Result{Skipped: true},
	}
	if !comp.Composable() {
		return st, nil
	}
	var existing *string
	if st.Baseline != nil {
		existing = st.Baseline.CompositeSDL
	}
	st.Diff, err = b.deps.Differ.Diff(ctx, diff.Input{
		Existing: existing,
		Incoming: comp.SDL,
		Approved: env.Approved.Scope(registry.MainApprovalScope),
		Usage:    env.Usage,
	})
	if err != nil {
		return nil, err
	}

	if b.projectType == registry.ProjectTypeFederation && len(env.Latest.Contracts) > 0 {
		var active []*registry.Contract
		for _, c := range env.Latest.Contracts {
			if c != nil && !c.IsDisabled {
				active = append(active, c)
			}
		}
		st.Contracts, err = b.deps.Contracts.Evaluate(ctx, contracts.Input{
			Contracts:   active,
			Composition: comp,
			Baselines:   env.Latest.ContractBaselines,
			Approved:    env.Approved,
			Usage:       env.Usage,
		})
		if err != nil {
			return nil, err
		}
		if summary := contracts.Summary(st.Contracts); summary != "" {
			st.Messages = append(st.Messages, summary)
		}
	}
	return st, nil
}

// approve stamps main and contract breaking changes with the actor's approval.
func (b base) approve(st *State, actor, reason string) {
	approval := registry.ChangeApproval{ApprovedBy: actor, ApprovedAt: b.deps.Now().UTC(), Reason: reason}
	st.Diff.All = registry.ApproveChanges(st.Diff.All, approval)
	st.Diff.Breaking = registry.ApproveChanges(st.Diff.Breaking, approval)
	st.Contracts = contracts.Approve(st.Contracts, approval)
}

func compositionFailure(errs []registry.CompositionError) Reason {
	return Reason{Code: ReasonCompositionFailure, Message: "Composition failed", Errors: errs}
}

func breakingChanges(changes []registry.SchemaChange) Reason {
	return Reason{Code: ReasonBreakingChanges, Message: fmt.Sprintf("Detected %d breaking change(s)", len(changes)), Changes: changes}
}

// contractBlocking collects contract breaking changes nobody approved.
func contractBlocking(states []contracts.State) []Reason {
	var out []Reason
	for _, s := range states {
		if blocking := s.Diff.Blocking(); len(blocking) > 0 {
			out = append(out, Reason{
				Code:    ReasonBreakingChanges,
				Message: fmt.Sprintf("Contract %q: detected %d breaking change(s)", s.Contract.Name, len(blocking)),
				Changes: blocking,
			})
		}
	}
	return out
}

func contractFailures(states []contracts.State) []Reason {
	var out []Reason
	for _, s := range states {
		if s.HasCompositionErrors() || !s.Composable() {
			out = append(out, Reason{
				Code:    ReasonContractFailure,
				Message: fmt.Sprintf("Contract %q failed to compose", s.Contract.Name),
				Errors:  s.Result.Errors,
			})
		}
	}
	return out
}

func validMetadata(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	return json.Valid([]byte(raw))
}

func metadataFailure() Reason {
	return Reason{Code: ReasonMetadataParsingFailure, Message: "Failed to parse service metadata as JSON."}
}

// checkVerdict rejects a candidate that failed composition, has blocking changes, or has a
// failing contract.
func checkVerdict(st *State) CheckOutcome {
	var reasons []Reason
	if !st.Composable() {
		reasons = append(reasons, compositionFailure(st.Composition.Errors))
	}
	if blocking := st.Diff.Blocking(); len(blocking) > 0 {
		reasons = append(reasons, breakingChanges(blocking))
	}
	reasons = append(reasons, contractFailures(st.Contracts)...)
	reasons = append(reasons, contractBlocking(st.Contracts)...)
	if len(reasons) > 0 {
		return CheckOutcome{Conclusion: Reject, Reasons: reasons, State: st}
	}
	return CheckOutcome{Conclusion: Accept, State: st}
}
