package diff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/schema-registry/internal/data/usage"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type fakeUsage struct {
	total  int64
	counts map[string]int64
	err    error
	asked  []string
	query  usage.Query
}

func (f *fakeUsage) TotalRequests(ctx context.Context, q usage.Query) (int64, error) {
	f.query = q
	return f.total, f.err
}

func (f *fakeUsage) CoordinateRequests(ctx context.Context, q usage.Query, coords []string) (map[string]int64, error) {
	f.asked = append(f.asked, coords...)
	return f.counts, f.err
}

func sdl(s string) *string { return &s }

func diffOf(t *testing.T, reader usage.Reader, in Input) Result {
	t.Helper()
	res, err := NewInspector(reader, logger.Nop()).Diff(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestDiffSkippedWithoutBaseline(t *testing.T) {
	res := diffOf(t, nil, Input{Incoming: sdl("type Query { a: String }")})
	require.True(t, res.Skipped)
	require.Empty(t, res.All)

	res = diffOf(t, nil, Input{Existing: sdl("type Query {"), Incoming: sdl("type Query { a: String }")})
	require.True(t, res.Skipped)
}

func TestDiffFieldAddedIsSafe(t *testing.T) {
	res := diffOf(t, nil, Input{
		Existing: sdl("type Query { a: String }"),
		Incoming: sdl("type Query { a: String b: String }"),
	})
	require.False(t, res.Skipped)
	require.Len(t, res.All, 1)
	c := res.All[0]
	require.Equal(t, FieldAdded, c.Type)
	require.Equal(t, "Query.b", c.Path)
	require.Equal(t, "Field 'b' was added to object type 'Query'", c.Message)
	require.Equal(t, registry.CriticalitySafe, c.Criticality)
	require.Empty(t, res.Breaking)
	require.Empty(t, res.Blocking())
}

func TestDiffFieldRemovedIsBreakingUntilApproved(t *testing.T) {
	in := Input{
		Existing: sdl("type Query { a: String b: String }"),
		Incoming: sdl("type Query { a: String }"),
	}
	res := diffOf(t, nil, in)
	require.Len(t, res.Breaking, 1)
	removed := res.Breaking[0]
	require.Equal(t, FieldRemoved, removed.Type)
	require.Equal(t, "Field 'b' was removed from object type 'Query'", removed.Message)
	require.Len(t, res.Blocking(), 1)

	approvedAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	in.Approved = map[string]registry.SchemaChange{
		removed.ID: {ID: removed.ID, Approval: &registry.ChangeApproval{ApprovedBy: "u1", ApprovedAt: approvedAt}},
	}
	res = diffOf(t, nil, in)
	require.Len(t, res.Breaking, 1)
	require.NotNil(t, res.Breaking[0].Approval)
	require.Equal(t, "u1", res.Breaking[0].Approval.ApprovedBy)
	require.Empty(t, res.Blocking())
}

func TestDiffTypeChangeRules(t *testing.T) {
	res := diffOf(t, nil, Input{
		Existing: sdl(`
type Query { a: String b: Int c(x: Int!): [String] }
input Filter { q: String! }
enum Color { RED GREEN }
`),
		Incoming: sdl(`
type Query { a: String! b: String c(x: Int, y: Int!): [String!] }
input Filter { q: String n: Int! }
enum Color { RED BLUE }
`),
	})
	byPath := map[string]registry.SchemaChange{}
	for _, c := range res.All {
		byPath[string(c.Type)+" "+c.Path] = c
	}
	require.Equal(t, registry.CriticalitySafe, byPath["FIELD_TYPE_CHANGED Query.a"].Criticality)
	require.Equal(t, registry.CriticalityBreaking, byPath["FIELD_TYPE_CHANGED Query.b"].Criticality)
	require.Equal(t, registry.CriticalitySafe, byPath["FIELD_TYPE_CHANGED Query.c"].Criticality)
	require.Equal(t, registry.CriticalitySafe, byPath["FIELD_ARGUMENT_TYPE_CHANGED Query.c.x"].Criticality)
	require.Equal(t, registry.CriticalityBreaking, byPath["FIELD_ARGUMENT_ADDED Query.c.y"].Criticality)
	require.Equal(t, registry.CriticalitySafe, byPath["INPUT_FIELD_TYPE_CHANGED Filter.q"].Criticality)
	require.Equal(t, registry.CriticalityBreaking, byPath["INPUT_FIELD_ADDED Filter.n"].Criticality)
	require.Equal(t, registry.CriticalityBreaking, byPath["ENUM_VALUE_REMOVED Color.GREEN"].Criticality)
	require.Equal(t, registry.CriticalityDangerous, byPath["ENUM_VALUE_ADDED Color.BLUE"].Criticality)
}

func TestDiffIsDeterministic(t *testing.T) {
	in := Input{
		Existing: sdl("type Query { a: String } type B { x: Int } type A { y: Int }"),
		Incoming: sdl("type Query { b: String } type C { z: Int }"),
	}
	first := diffOf(t, nil, in)
	for i := 0; i < 5; i++ {
		again := diffOf(t, nil, in)
		require.Equal(t, first.All, again.All)
	}
	require.Equal(t, TypeRemoved, first.All[0].Type)
	require.Equal(t, "A", first.All[0].Path)
}

func TestDiffMergesExtensions(t *testing.T) {
	res := diffOf(t, nil, Input{
		Existing: sdl("type Query { a: String } extend type Query { b: String }"),
		Incoming: sdl("type Query { a: String b: String }"),
	})
	require.Empty(t, res.All)
}

func TestDiffUsageDowngrade(t *testing.T) {
	existing := sdl("type Query { a: String b: String }")
	incoming := sdl("type Query { a: String }")

	t.Run("unused coordinate under request count threshold", func(t *testing.T) {
		reader := &fakeUsage{total: 100, counts: map[string]int64{}}
		res := diffOf(t, reader, Input{
			Existing: existing, Incoming: incoming,
			Usage: &UsageSettings{PeriodDays: 7, Formula: registry.FormulaRequestCount, RequestCount: 0, TargetIDs: []string{"t1"}},
		})
		require.Empty(t, res.Breaking)
		require.Len(t, res.Safe, 1)
		c := res.Safe[0]
		require.Equal(t, FieldRemoved, c.Type)
		require.NotNil(t, c.Usage)
		require.Nil(t, c.Approval)
		require.EqualValues(t, 0, c.Usage.CoordinateRequestCount)
		require.NotNil(t, res.Metadata)
		require.EqualValues(t, 100, res.Metadata.TotalRequestCount)
		require.Equal(t, []string{"Query.b"}, reader.asked)
	})

	t.Run("used coordinate stays breaking", func(t *testing.T) {
		reader := &fakeUsage{total: 100, counts: map[string]int64{"Query.b": 5}}
		res := diffOf(t, reader, Input{
			Existing: existing, Incoming: incoming,
			Usage: &UsageSettings{PeriodDays: 7, Formula: registry.FormulaRequestCount, RequestCount: 0},
		})
		require.Len(t, res.Blocking(), 1)
	})

	t.Run("percentage threshold", func(t *testing.T) {
		reader := &fakeUsage{total: 100, counts: map[string]int64{"Query.b": 5}}
		res := diffOf(t, reader, Input{
			Existing: existing, Incoming: incoming,
			Usage: &UsageSettings{PeriodDays: 7, Formula: registry.FormulaPercentage, Percentage: 10},
		})
		require.Empty(t, res.Blocking())
		require.EqualValues(t, 10, res.Safe[0].Usage.Threshold)
	})

	t.Run("approval wins over usage", func(t *testing.T) {
		plain := diffOf(t, nil, Input{Existing: existing, Incoming: incoming})
		id := plain.Breaking[0].ID
		reader := &fakeUsage{total: 100, counts: map[string]int64{}}
		res := diffOf(t, reader, Input{
			Existing: existing, Incoming: incoming,
			Approved: map[string]registry.SchemaChange{id: {ID: id, Approval: &registry.ChangeApproval{ApprovedBy: "u1"}}},
			Usage:    &UsageSettings{PeriodDays: 7, Formula: registry.FormulaRequestCount},
		})
		require.Len(t, res.Breaking, 1)
		require.NotNil(t, res.Breaking[0].Approval)
		require.Nil(t, res.Breaking[0].Usage)
		require.Empty(t, reader.asked)
	})

	t.Run("reader failure surfaces", func(t *testing.T) {
		reader := &fakeUsage{err: errors.New("db down")}
		_, err := NewInspector(reader, logger.Nop()).Diff(context.Background(), Input{
			Existing: existing, Incoming: incoming,
			Usage: &UsageSettings{PeriodDays: 7, Formula: registry.FormulaRequestCount},
		})
		require.Error(t, err)
		require.True(t, registry.IsCode(err, registry.CodeRetryable))
	})
}

func TestDiffUsageWindowSpansPeriodDays(t *testing.T) {
	reader := &fakeUsage{total: 100, counts: map[string]int64{}}
	insp := NewInspector(reader, logger.Nop())
	insp.now = func() time.Time { return time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC) }

	res, err := insp.Diff(context.Background(), Input{
		Existing: sdl("type Query { a: String b: String }"),
		Incoming: sdl("type Query { a: String }"),
		Usage:    &UsageSettings{PeriodDays: 7, Formula: registry.FormulaRequestCount, TargetIDs: []string{"t1"}},
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), reader.query.From)
	require.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), reader.query.To)
	require.Equal(t, 7, int(reader.query.To.Sub(reader.query.From).Hours()/24)+1)
	require.Equal(t, reader.query.From, res.Metadata.PeriodFrom)
	require.Equal(t, []string{"t1"}, reader.query.TargetIDs)
}

func TestSettingsForTarget(t *testing.T) {
	require.Nil(t, SettingsForTarget(&registry.Target{}))
	tgt := &registry.Target{ValidationEnabled: true, ValidationPercentage: 1}
	s := SettingsForTarget(tgt)
	require.NotNil(t, s)
	require.Equal(t, 7, s.PeriodDays)
	require.Equal(t, registry.FormulaPercentage, s.Formula)
	require.Equal(t, []string{tgt.ID.String()}, s.TargetIDs)
}

type changeSummary struct {
	Type        registry.ChangeType
	Path        string
	Criticality registry.Criticality
}

func summarize(changes []registry.SchemaChange) []changeSummary {
	out := make([]changeSummary, 0, len(changes))
	for _, c := range changes {
		out = append(out, changeSummary{Type: c.Type, Path: c.Path, Criticality: c.Criticality})
	}
	return out
}

func TestDiffEnumValueSwap(t *testing.T) {
	res := diffOf(t, nil, Input{
		Existing: sdl("enum Color { RED GREEN } type Query { color: Color }"),
		Incoming: sdl("enum Color { RED BLUE } type Query { color: Color }"),
	})
	want := []changeSummary{
		{Type: EnumValueRemoved, Path: "Color.GREEN", Criticality: registry.CriticalityBreaking},
		{Type: EnumValueAdded, Path: "Color.BLUE", Criticality: registry.CriticalityDangerous},
	}
	if d := cmp.Diff(want, summarize(res.All)); d != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", d)
	}
}
