// Package contracts evaluates the tag-filtered contract views of a federated composition. Each
// contract is diffed against its own history and never affects its siblings.
package contracts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/diff"
)

// Differ is the part of diff.Inspector the evaluator needs.
type Differ interface {
	Diff(ctx context.Context, in diff.Input) (diff.Result, error)
}

type Input struct {
	Contracts   []*registry.Contract
	Composition registry.CompositionResult
	// Baselines is the latest composable version per contract id.
	Baselines map[uuid.UUID]*registry.ContractVersion
	Approved  registry.ApprovedChanges
	Usage     *diff.UsageSettings
}

// State is the evaluated outcome of one contract.
type State struct {
	Contract *registry.Contract
	Result   registry.ContractCompositionResult
	Baseline *registry.ContractVersion
	Diff     diff.Result
}

func (s State) Composable() bool { return s.Result.Composable() }

func (s State) HasCompositionErrors() bool { return len(s.Result.Errors) > 0 }

// Failed reports a contract that did not compose or carries unapproved breaking changes.
func (s State) Failed() bool {
	return !s.Composable() || len(s.Diff.Blocking()) > 0
}

// Version builds the contract record written alongside its parent version.
func (s State) Version() *registry.ContractVersion {
	cv := &registry.ContractVersion{
		ContractID:   s.Contract.ID,
		ContractName: s.Contract.Name,
		IsComposable: s.Composable(),
		Changes:      registry.MustEncodeJSON(s.Diff.All),
	}
	if cv.IsComposable {
		cv.CompositeSDL = s.Result.SDL
		cv.Supergraph = s.Result.Supergraph
	} else {
		cv.CompositionErrors = registry.MustEncodeJSON(s.Result.Errors)
	}
	if s.Baseline != nil {
		id := s.Baseline.ID
		cv.DiffContractVersionID = &id
	}
	return cv
}

// Check builds the per-contract part of a schema check.
func (s State) Check() *registry.ContractCheck {
	cc := &registry.ContractCheck{
		ContractID:   s.Contract.ID,
		ContractName: s.Contract.Name,
		IsSuccess:    !s.Failed(),
	}
	if s.Composable() {
		cc.CompositeSDL = s.Result.SDL
		cc.Supergraph = s.Result.Supergraph
	} else {
		cc.CompositionErrors = registry.MustEncodeJSON(s.Result.Errors)
	}
	if s.Baseline != nil {
		id := s.Baseline.ID
		cc.ComparedContractVersionID = &id
	}
	cc.BreakingChanges = registry.MustEncodeJSON(s.Diff.Breaking)
	cc.SafeChanges = registry.MustEncodeJSON(s.Diff.Safe)
	return cc
}

type Evaluator struct {
	differ Differ
	log    *logger.Logger
}

func NewEvaluator(differ Differ, baseLog *logger.Logger) *Evaluator {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &Evaluator{differ: differ, log: baseLog.With("service", "ContractEvaluator")}
}

// Evaluate returns one State per contract in input order. Composition and breaking-change
// failures stay inside the State; only infrastructure errors are returned.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) ([]State, error) {
	states := make([]State, len(in.Contracts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range in.Contracts {
		i, c := i, c
		g.Go(func() error {
			st, err := e.evaluateOne(gctx, in, c)
			if err != nil {
				return fmt.Errorf("contract %q: %w", c.Name, err)
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, in Input, c *registry.Contract) (State, error) {
	st := State{Contract: c, Baseline: in.Baselines[c.ID]}
	res, ok := in.Composition.ContractResult(c.ID.String())
	if !ok {
		res = registry.ContractCompositionResult{
			ContractID: c.ID.String(),
			Errors: []registry.CompositionError{{
				Message: fmt.Sprintf("Contract %q was not composed.", c.Name),
				Source:  registry.ErrorSourceContract,
			}},
		}
	}
	st.Result = res
	if !res.Composable() {
		e.log.Debug("contract failed to compose", "contract", c.Name, "errors", len(res.Errors))
		st.Diff = diff.Result{Skipped: true}
		return st, nil
	}

	var existing *string
	if st.Baseline != nil {
		existing = st.Baseline.CompositeSDL
	}
	d, err := e.differ.Diff(ctx, diff.Input{
		Existing: existing,
		Incoming: res.SDL,
		Approved: in.Approved.Scope(c.ID.String()),
		Usage:    in.Usage,
	})
	if err != nil {
		return st, err
	}
	st.Diff = d
	return st, nil
}

// FailedCount counts contracts that did not compose.
func FailedCount(states []State) int {
	n := 0
	for _, s := range states {
		if !s.Composable() {
			n++
		}
	}
	return n
}

// BlockingCount counts contracts with unapproved breaking changes.
func BlockingCount(states []State) int {
	n := 0
	for _, s := range states {
		if len(s.Diff.Blocking()) > 0 {
			n++
		}
	}
	return n
}

// Summary is the user-facing line for failed contracts, empty when all composed.
func Summary(states []State) string {
	n := FailedCount(states)
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d contract(s) failed", n)
}

func Versions(states []State) []*registry.ContractVersion {
	out := make([]*registry.ContractVersion, 0, len(states))
	for _, s := range states {
		out = append(out, s.Version())
	}
	return out
}

func Checks(states []State) []*registry.ContractCheck {
	out := make([]*registry.ContractCheck, 0, len(states))
	for _, s := range states {
		out = append(out, s.Check())
	}
	return out
}

// Approve stamps every blocking change of every contract with approval.
func Approve(states []State, approval registry.ChangeApproval) []State {
	out := make([]State, len(states))
	for i, s := range states {
		s.Diff.All = registry.ApproveChanges(s.Diff.All, approval)
		s.Diff.Breaking = registry.ApproveChanges(s.Diff.Breaking, approval)
		out[i] = s
	}
	return out
}
