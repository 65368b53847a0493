// Package orchestrator bounds and normalizes calls into a composition engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/registry/engine"
)

const DefaultTimeout = 30 * time.Second

// TimeoutMessage is the error a timed out composition reports to the caller.
const TimeoutMessage = "The schema composition timed out. Please try again."

// Config is the project-specific part of a composition request.
type Config struct {
	BaseSchema string
	Native     bool
	External   *engine.External
	Contracts  []engine.ContractSpec
}

type Orchestrator interface {
	ComposeAndValidate(ctx context.Context, schemas []registry.ServiceSchema, cfg Config) (registry.CompositionResult, error)
}

type orchestrator struct {
	projectType registry.ProjectType
	engine      engine.Engine
	timeout     time.Duration
}

// ForProjectType returns the orchestrator variant for t.
func ForProjectType(t registry.ProjectType, e engine.Engine, timeout time.Duration) (Orchestrator, error) {
	if !t.Valid() {
		return nil, registry.NewError(registry.CodeValidation, "orchestrator.ForProjectType", fmt.Sprintf("unsupported project type %q", t), nil)
	}
	if e == nil {
		return nil, fmt.Errorf("composition engine required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &orchestrator{projectType: t, engine: e, timeout: timeout}, nil
}

func (o *orchestrator) ComposeAndValidate(ctx context.Context, schemas []registry.ServiceSchema, cfg Config) (res registry.CompositionResult, err error) {
	const op = "orchestrator.ComposeAndValidate"
	if o.projectType == registry.ProjectTypeSingle && len(schemas) > 1 {
		return registry.CompositionResult{}, registry.NewError(registry.CodeValidation, op, "Single-service projects accept exactly one schema.", nil)
	}

	ctx, span := observability.StartSpan(ctx, "orchestrator.compose",
		attribute.String("project_type", string(o.projectType)),
		attribute.Int("schemas", len(schemas)),
	)
	start := time.Now()
	status := "ok"
	defer func() {
		observability.Current().ObserveComposition(string(o.projectType), status, time.Since(start))
		observability.EndSpan(span, err)
	}()

	// The local deadline and the caller's cancellation both apply; whichever fires first wins.
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := engine.Request{
		ProjectType: o.projectType,
		Schemas:     schemas,
		BaseSchema:  cfg.BaseSchema,
		Native:      cfg.Native,
		External:    cfg.External,
	}
	if o.projectType == registry.ProjectTypeFederation {
		req.Contracts = cfg.Contracts
	}

	res, err = o.engine.Compose(callCtx, req)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = "canceled"
		return registry.CompositionResult{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		status = "timeout"
		return TimedOut(), nil
	default:
		status = "error"
		return registry.CompositionResult{}, err
	}

	res = normalize(res)
	if !res.Composable() {
		status = "failed"
	}
	return res, nil
}

// TimedOut is the synthetic result of a composition that did not finish in time.
func TimedOut() registry.CompositionResult {
	return registry.CompositionResult{Errors: []registry.CompositionError{{Message: TimeoutMessage, Source: registry.ErrorSourceTimeout}}}
}

// normalize enforces that output and errors are mutually exclusive.
func normalize(res registry.CompositionResult) registry.CompositionResult {
	if res.Errors == nil {
		res.Errors = []registry.CompositionError{}
	}
	if len(res.Errors) > 0 {
		res.SDL, res.Supergraph = nil, nil
	} else if res.SDL == nil {
		res.Errors = []registry.CompositionError{{Message: "Composition returned no schema.", Source: registry.ErrorSourceComposition}}
		res.Supergraph = nil
	}
	for i, c := range res.Contracts {
		if len(c.Errors) > 0 {
			c.SDL, c.Supergraph = nil, nil
		} else if c.SDL == nil {
			c.Errors = []registry.CompositionError{{Message: "Contract composition returned no schema.", Source: registry.ErrorSourceContract}}
		}
		res.Contracts[i] = c
	}
	return res
}
