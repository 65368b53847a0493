package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/schema-registry/internal/platform/envutil"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

const (
	SLOOperationAvailability = "operation_availability"
	SLOAPIAvailability       = "api_availability"
	SLOCompositionSuccess    = "composition_success"
	SLOSideEffectSuccess     = "side_effect_success"
)

type SLOConfig struct {
	Enabled  bool
	Interval time.Duration
	Window   time.Duration

	OperationTarget   float64
	APITarget         float64
	CompositionTarget float64
	SideEffectTarget  float64

	AlertWebhook     string
	AlertOwner       string
	AlertRunbook     string
	AlertMinInterval time.Duration
	AlertBurnWarn    float64
	AlertBurnCrit    float64
}

func SLOConfigFrom(env *envutil.Reader) SLOConfig {
	return SLOConfig{
		Enabled:           env.Bool("SLO_ENABLED", false),
		Interval:          env.Duration("SLO_EVAL_INTERVAL_SECONDS", time.Minute),
		Window:            env.Duration("SLO_WINDOW", 720*time.Hour),
		OperationTarget:   env.Float("SLO_OPERATION_AVAIL_TARGET", 0.995),
		APITarget:         env.Float("SLO_API_AVAIL_TARGET", 0.995),
		CompositionTarget: env.Float("SLO_COMPOSITION_SUCCESS_TARGET", 0.99),
		SideEffectTarget:  env.Float("SLO_SIDE_EFFECT_SUCCESS_TARGET", 0.98),
		AlertWebhook:      env.String("SLO_ALERT_WEBHOOK_URL", ""),
		AlertOwner:        env.String("SLO_ALERT_OWNER", ""),
		AlertRunbook:      env.String("SLO_ALERT_RUNBOOK_URL", ""),
		AlertMinInterval:  env.Duration("SLO_ALERT_MIN_INTERVAL_SECONDS", 15*time.Minute),
		AlertBurnWarn:     env.Float("SLO_ALERT_BURN_RATE_WARN", 2),
		AlertBurnCrit:     env.Float("SLO_ALERT_BURN_RATE_CRIT", 10),
	}
}

type rollingSum struct {
	values []float64
	idx    int
	total  float64
}

func newRollingSum(size int) *rollingSum {
	if size < 1 {
		size = 1
	}
	return &rollingSum{values: make([]float64, size)}
}

func (r *rollingSum) add(v float64) {
	r.total += v - r.values[r.idx]
	r.values[r.idx] = v
	r.idx++
	if r.idx >= len(r.values) {
		r.idx = 0
	}
}

// sloWindow turns two monotonic counters into rolling window totals.
type sloWindow struct {
	name   string
	target float64
	read   func(m *Metrics) (total, bad float64)

	total, bad         *rollingSum
	prevTotal, prevBad float64
}

func (w *sloWindow) advance(m *Metrics) {
	total, bad := w.read(m)
	w.total.add(delta(total, w.prevTotal))
	w.bad.add(delta(bad, w.prevBad))
	w.prevTotal, w.prevBad = total, bad
}

type SLOEvaluator struct {
	metrics *Metrics
	log     *logger.Logger
	cfg     SLOConfig

	windowLabel string
	windows     []*sloWindow
	post        func(ctx context.Context, body []byte) (int, error)

	alertMu    sync.Mutex
	lastAlerts map[string]time.Time
}

func (m *Metrics) StartSLOEvaluator(ctx context.Context, log *logger.Logger, cfg SLOConfig) {
	if m == nil || !cfg.Enabled {
		return
	}
	eval := NewSLOEvaluator(m, log, cfg)
	go eval.run(ctx)
	if log != nil {
		log.Info("SLO evaluator started", "window", eval.windowLabel, "interval", eval.cfg.Interval.String())
	}
}

func NewSLOEvaluator(m *Metrics, log *logger.Logger, cfg SLOConfig) *SLOEvaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window < time.Hour {
		cfg.Window = 24 * time.Hour
	}
	size := int(cfg.Window / cfg.Interval)
	e := &SLOEvaluator{
		metrics:     m,
		log:         log,
		cfg:         cfg,
		windowLabel: formatWindowLabel(cfg.Window),
		lastAlerts:  map[string]time.Time{},
	}
	e.post = e.postWebhook
	add := func(name string, target float64, read func(m *Metrics) (float64, float64)) {
		e.windows = append(e.windows, &sloWindow{
			name:   name,
			target: clamp01(target),
			read:   read,
			total:  newRollingSum(size),
			bad:    newRollingSum(size),
		})
	}
	// Unexpected errors are the ones no registry error code explains.
	add(SLOOperationAvailability, cfg.OperationTarget, func(m *Metrics) (float64, float64) {
		return m.operations.Sum("", nil), m.unexpectedErrors.Sum("", nil)
	})
	add(SLOAPIAvailability, cfg.APITarget, func(m *Metrics) (float64, float64) {
		return m.apiRequests.Sum("", nil), m.apiRequests.Sum("status", isServerError)
	})
	// Composition errors in the schemas themselves are the caller's; only engine faults burn budget.
	add(SLOCompositionSuccess, cfg.CompositionTarget, func(m *Metrics) (float64, float64) {
		total := m.compositionLatency.CountWhere("", nil)
		bad := m.compositionLatency.CountWhere("status", func(s string) bool { return s == "error" || s == "timeout" })
		return float64(total), float64(bad)
	})
	add(SLOSideEffectSuccess, cfg.SideEffectTarget, func(m *Metrics) (float64, float64) {
		accepted := m.operations.Sum("conclusion", func(s string) bool { return s == "accepted" })
		return accepted, m.sideEffectFailures.Sum("", nil)
	})
	return e
}

func isServerError(status string) bool {
	return strings.HasPrefix(status, "5")
}

func (e *SLOEvaluator) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(ctx)
		}
	}
}

// Evaluate folds the counters observed since the last call into the window and republishes the gauges.
func (e *SLOEvaluator) Evaluate(ctx context.Context) {
	if e == nil || e.metrics == nil {
		return
	}
	for _, w := range e.windows {
		w.advance(e.metrics)
		e.evalSLO(ctx, w.name, w.total.total, w.bad.total, w.target)
	}
}

func (e *SLOEvaluator) evalSLO(ctx context.Context, name string, total, bad, target float64) {
	m := e.metrics
	if total <= 0 {
		m.sloCompliance.Set(1, name, e.windowLabel)
		m.sloBudget.Set(1, name, e.windowLabel)
		m.sloBurn.Set(0, name, e.windowLabel)
		return
	}
	sli := clamp01(1 - bad/total)
	burn := 0.0
	if target < 1 {
		burn = (1 - sli) / (1 - target)
	}
	budget := clamp01(1 - burn)
	m.sloCompliance.Set(sli, name, e.windowLabel)
	m.sloBudget.Set(budget, name, e.windowLabel)
	m.sloBurn.Set(burn, name, e.windowLabel)

	if e.cfg.AlertWebhook == "" || e.cfg.AlertOwner == "" {
		return
	}
	severity := ""
	if burn >= e.cfg.AlertBurnCrit {
		severity = "critical"
	} else if burn >= e.cfg.AlertBurnWarn {
		severity = "warning"
	}
	if severity == "" {
		return
	}
	key := name + ":" + severity
	e.alertMu.Lock()
	last := e.lastAlerts[key]
	if !last.IsZero() && time.Since(last) < e.cfg.AlertMinInterval {
		e.alertMu.Unlock()
		return
	}
	e.lastAlerts[key] = time.Now()
	e.alertMu.Unlock()
	e.sendAlert(ctx, name, severity, sli, target, burn, budget)
}

func (e *SLOEvaluator) sendAlert(ctx context.Context, name, severity string, sli, target, burn, budget float64) {
	body, _ := json.Marshal(map[string]any{
		"title":                  "Schema registry SLO burn rate alert",
		"severity":               severity,
		"owner":                  e.cfg.AlertOwner,
		"slo":                    name,
		"window":                 e.windowLabel,
		"sli":                    sli,
		"target":                 target,
		"burn_rate":              burn,
		"error_budget_remaining": budget,
		"runbook":                e.cfg.AlertRunbook,
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
	})
	status, err := e.post(ctx, body)
	if err != nil {
		if e.log != nil {
			e.log.Warn("slo alert post failed", "error", err, "slo", name)
		}
		return
	}
	if e.log != nil {
		e.log.Info("slo alert sent", "slo", name, "severity", severity, "status", status)
	}
}

func (e *SLOEvaluator) postWebhook(ctx context.Context, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.AlertWebhook, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// delta treats a counter that went backwards as reset.
func delta(current, prev float64) float64 {
	if current < prev {
		return current
	}
	return current - prev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatWindowLabel(window time.Duration) string {
	hours := int(window.Hours())
	if hours >= 24 && window%(24*time.Hour) == 0 {
		return strconv.Itoa(hours/24) + "d"
	}
	if hours >= 1 {
		return strconv.Itoa(hours) + "h"
	}
	return strconv.Itoa(int(window.Minutes())) + "m"
}
