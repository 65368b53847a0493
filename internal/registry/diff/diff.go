// Package diff classifies the changes between two composed schemas and applies approvals and
// usage-based downgrades to them.
package diff

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/schema-registry/internal/data/usage"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

// UsageSettings turns on conditional breaking changes for a diff.
type UsageSettings struct {
	PeriodDays      int
	Formula         registry.BreakingChangeFormula
	Percentage      float64
	RequestCount    int64
	ExcludedClients []string
	TargetIDs       []string
}

// SettingsForTarget is nil when the target has usage validation turned off.
func SettingsForTarget(t *registry.Target) *UsageSettings {
	if t == nil || !t.ValidationEnabled {
		return nil
	}
	days := t.ValidationPeriodDays
	if days <= 0 {
		days = 7
	}
	formula := t.BreakingChangeFormula
	if formula == "" {
		formula = registry.FormulaPercentage
	}
	return &UsageSettings{
		PeriodDays:      days,
		Formula:         formula,
		Percentage:      t.ValidationPercentage,
		RequestCount:    t.ValidationRequestCount,
		ExcludedClients: t.ExcludedClients(),
		TargetIDs:       t.UsageTargetIDs(),
	}
}

type Input struct {
	Existing *string
	Incoming *string
	// Approved holds previously approved changes keyed by fingerprint.
	Approved map[string]registry.SchemaChange
	Usage    *UsageSettings
}

type Result struct {
	// Skipped means there was nothing to compare against.
	Skipped  bool
	Breaking []registry.SchemaChange
	Safe     []registry.SchemaChange
	All      []registry.SchemaChange
	Metadata *registry.ConditionalBreakingChangeMetadata
}

func (r Result) Blocking() []registry.SchemaChange {
	return registry.BlockingChanges(r.All)
}

type Inspector struct {
	usage usage.Reader
	log   *logger.Logger
	now   func() time.Time
}

// NewInspector builds an inspector. A nil reader disables usage downgrades.
func NewInspector(reader usage.Reader, baseLog *logger.Logger) *Inspector {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &Inspector{usage: reader, log: baseLog.With("service", "DiffInspector"), now: time.Now}
}

func (i *Inspector) Diff(ctx context.Context, in Input) (out Result, err error) {
	ctx, span := observability.StartSpan(ctx, "diff.inspect")
	defer func() {
		span.SetAttributes(
			attribute.Bool("diff.skipped", out.Skipped),
			attribute.Int("diff.changes", len(out.All)),
		)
		observability.EndSpan(span, err)
	}()

	if in.Existing == nil || in.Incoming == nil || strings.TrimSpace(*in.Existing) == "" {
		return Result{Skipped: true}, nil
	}
	oldDoc, perr := parser.ParseSchema(&ast.Source{Name: "existing", Input: *in.Existing})
	if perr != nil {
		i.log.Warn("baseline schema is unparsable; skipping diff", "error", perr)
		return Result{Skipped: true}, nil
	}
	newDoc, perr := parser.ParseSchema(&ast.Source{Name: "incoming", Input: *in.Incoming})
	if perr != nil {
		i.log.Warn("incoming schema is unparsable; skipping diff", "error", perr)
		return Result{Skipped: true}, nil
	}

	changes := compare(indexDocument(oldDoc), indexDocument(newDoc))
	for idx := range changes {
		if approved, ok := in.Approved[changes[idx].ID]; ok && changes[idx].IsBreaking() {
			a := approved.Approval
			if a == nil {
				a = &registry.ChangeApproval{Reason: "previously approved"}
			}
			cp := *a
			changes[idx].Approval = &cp
		}
	}

	var meta *registry.ConditionalBreakingChangeMetadata
	if in.Usage != nil && i.usage != nil {
		meta, err = i.applyUsage(ctx, changes, *in.Usage)
		if err != nil {
			return Result{}, err
		}
	}

	out = Result{All: changes, Metadata: meta}
	for _, c := range changes {
		if c.IsBreaking() {
			out.Breaking = append(out.Breaking, c)
		} else {
			out.Safe = append(out.Safe, c)
		}
	}
	return out, nil
}

// applyUsage downgrades blocking changes whose coordinate traffic is at or under the threshold.
func (i *Inspector) applyUsage(ctx context.Context, changes []registry.SchemaChange, s UsageSettings) (*registry.ConditionalBreakingChangeMetadata, error) {
	q := usage.Window(i.now(), s.PeriodDays)
	q.TargetIDs, q.ExcludedClients = s.TargetIDs, s.ExcludedClients
	from, to := q.From, q.To

	total, err := i.usage.TotalRequests(ctx, q)
	if err != nil {
		return nil, registry.Wrap(registry.CodeRetryable, "load usage totals", err)
	}
	meta := &registry.ConditionalBreakingChangeMetadata{
		PeriodFrom:        from,
		PeriodTo:          to,
		Formula:           s.Formula,
		Percentage:        s.Percentage,
		RequestCount:      s.RequestCount,
		ExcludedClients:   s.ExcludedClients,
		TargetIDs:         s.TargetIDs,
		TotalRequestCount: total,
	}

	seen := map[string]bool{}
	var coords []string
	for _, c := range changes {
		if c.IsBlocking() && c.Path != "" && !seen[c.Path] {
			seen[c.Path] = true
			coords = append(coords, c.Path)
		}
	}
	if len(coords) == 0 {
		return meta, nil
	}
	sort.Strings(coords)
	counts, err := i.usage.CoordinateRequests(ctx, q, coords)
	if err != nil {
		return nil, registry.Wrap(registry.CodeRetryable, "load coordinate usage", err)
	}

	threshold := s.RequestCount
	if s.Formula == registry.FormulaPercentage {
		threshold = int64(math.Floor(float64(total) * s.Percentage / 100))
	}
	for idx := range changes {
		c := &changes[idx]
		if !c.IsBlocking() || c.Path == "" {
			continue
		}
		count := counts[c.Path]
		if count > threshold {
			continue
		}
		c.Criticality = registry.CriticalitySafe
		c.Usage = &registry.UsageJustification{
			PeriodFrom:             from,
			PeriodTo:               to,
			Formula:                s.Formula,
			Threshold:              threshold,
			TotalRequestCount:      total,
			CoordinateRequestCount: count,
		}
		c.Reason = "Coordinate usage is at or below the configured threshold for the period."
	}
	i.log.Debug("usage evaluated", "total", total, "threshold", threshold, "coordinates", len(coords))
	return meta, nil
}
