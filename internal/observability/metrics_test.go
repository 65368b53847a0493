package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMetricsWritePrometheus(t *testing.T) {
	m := New()
	m.ObserveOperation("publish", "FEDERATION", "accept", 120*time.Millisecond)
	m.ObserveOperation("publish", "FEDERATION", "accept", 80*time.Millisecond)
	m.ObserveComposition("FEDERATION", "success", 50*time.Millisecond)
	m.IncSideEffectFailure("cdn")
	m.ObserveLedgerOperation("Ledger.CreateVersion", "success", time.Millisecond)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`registry_operations_total{operation="publish",project_type="FEDERATION",conclusion="accept"} 2.000000`,
		`registry_side_effect_failures_total{kind="cdn"} 1.000000`,
		`registry_composition_duration_seconds_count{project_type="FEDERATION",status="success"} 1`,
		`registry_ledger_operation_duration_seconds_bucket{operation="Ledger.CreateVersion",status="success",le="+Inf"} 1`,
		"# TYPE registry_redis_up gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, out)
		}
	}
	if got := m.OperationCount("publish", "FEDERATION", "accept"); got != 2 {
		t.Fatalf("OperationCount: want=2 got=%v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("publish", "SINGLE", "reject", time.Second)
	m.IncSideEffectFailure("cdn")
	m.ApiInflightInc()
	if got := m.OperationCount("publish", "SINGLE", "reject"); got != 0 {
		t.Fatalf("nil metrics should report zero, got %v", got)
	}
}

func TestLabelStringEscapes(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`, ""})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labelString: %s", got)
	}
	if withLe("", "0.5") != `{le="0.5"}` {
		t.Fatalf("withLe empty labels: %s", withLe("", "0.5"))
	}
}
