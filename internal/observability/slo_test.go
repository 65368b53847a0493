package observability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSLOConfig() SLOConfig {
	return SLOConfig{
		Enabled:           true,
		Interval:          time.Minute,
		Window:            24 * time.Hour,
		OperationTarget:   0.99,
		APITarget:         0.99,
		CompositionTarget: 0.9,
		SideEffectTarget:  0.5,
		AlertBurnWarn:     2,
		AlertBurnCrit:     10,
		AlertMinInterval:  time.Hour,
	}
}

func TestSLOEvaluatorPublishesGauges(t *testing.T) {
	m := New()
	for i := 0; i < 9; i++ {
		m.ObserveOperation("publish", "FEDERATION", "accepted", time.Millisecond)
	}
	m.ObserveOperation("publish", "FEDERATION", "error", time.Millisecond)
	m.IncUnexpectedError("publish")
	m.ObserveComposition("FEDERATION", "ok", time.Millisecond)
	m.ObserveComposition("FEDERATION", "failed", time.Millisecond)
	m.ObserveComposition("FEDERATION", "timeout", time.Millisecond)
	m.ObserveComposition("FEDERATION", "error", time.Millisecond)
	m.ObserveAPI("POST", "/api/targets/:target_id/schemas/publish", "200", time.Millisecond)
	m.ObserveAPI("POST", "/api/targets/:target_id/schemas/publish", "503", time.Millisecond)

	e := NewSLOEvaluator(m, nil, testSLOConfig())
	e.Evaluate(context.Background())

	require.InDelta(t, 0.9, m.sloCompliance.Value(SLOOperationAvailability, "1d"), 1e-9)
	require.InDelta(t, 10.0, m.sloBurn.Value(SLOOperationAvailability, "1d"), 1e-9)
	require.Zero(t, m.sloBudget.Value(SLOOperationAvailability, "1d"))

	// Failed compositions are schema errors, not engine faults.
	require.InDelta(t, 0.5, m.sloCompliance.Value(SLOCompositionSuccess, "1d"), 1e-9)
	require.InDelta(t, 0.5, m.sloCompliance.Value(SLOAPIAvailability, "1d"), 1e-9)
	require.Equal(t, 1.0, m.sloCompliance.Value(SLOSideEffectSuccess, "1d"))
}

func TestSLOEvaluatorOnlyCountsNewEvents(t *testing.T) {
	m := New()
	m.ObserveOperation("check", "SINGLE", "rejected", time.Millisecond)
	m.IncUnexpectedError("check")

	e := NewSLOEvaluator(m, nil, SLOConfig{Interval: time.Hour, Window: 2 * time.Hour, OperationTarget: 0.5})
	e.Evaluate(context.Background())
	require.Zero(t, m.sloCompliance.Value(SLOOperationAvailability, "2h"))

	m.ObserveOperation("check", "SINGLE", "accepted", time.Millisecond)
	e.Evaluate(context.Background())
	require.InDelta(t, 0.5, m.sloCompliance.Value(SLOOperationAvailability, "2h"), 1e-9)

	// The first tick has rolled out of the two slot window.
	m.ObserveOperation("check", "SINGLE", "accepted", time.Millisecond)
	e.Evaluate(context.Background())
	require.Equal(t, 1.0, m.sloCompliance.Value(SLOOperationAvailability, "2h"))
}

func TestSLOAlertsAreThrottled(t *testing.T) {
	m := New()
	m.ObserveOperation("publish", "SINGLE", "error", time.Millisecond)
	m.IncUnexpectedError("publish")

	cfg := testSLOConfig()
	cfg.AlertWebhook = "http://alerts.invalid/hook"
	cfg.AlertOwner = "platform"
	e := NewSLOEvaluator(m, nil, cfg)
	var bodies []map[string]any
	e.post = func(ctx context.Context, body []byte) (int, error) {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		bodies = append(bodies, payload)
		return 200, nil
	}

	e.Evaluate(context.Background())
	e.Evaluate(context.Background())

	require.Len(t, bodies, 1)
	require.Equal(t, SLOOperationAvailability, bodies[0]["slo"])
	require.Equal(t, "critical", bodies[0]["severity"])
	require.Equal(t, "platform", bodies[0]["owner"])
}

func TestFormatWindowLabel(t *testing.T) {
	require.Equal(t, "30d", formatWindowLabel(720*time.Hour))
	require.Equal(t, "36h", formatWindowLabel(36*time.Hour))
	require.Equal(t, "45m", formatWindowLabel(45*time.Minute))
}
