package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/schema-registry/internal/platform/envutil"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	operations         *CounterVec
	operationLatency   *HistogramVec
	compositionLatency *HistogramVec
	lockWait           *HistogramVec
	dedupHits          *CounterVec
	sideEffectFailures *CounterVec
	unexpectedErrors   *CounterVec

	ledgerOperations *HistogramVec
	ledgerConflicts  *CounterVec
	ledgerRetries    *CounterVec

	redisUp   *Gauge
	redisPing *Gauge

	sloCompliance *GaugeVec
	sloBudget     *GaugeVec
	sloBurn       *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	d := envutil.NewReader(envutil.OSLookup, nil).Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Init builds the process-wide metrics once. It returns nil when metrics are disabled.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// New builds an unregistered Metrics, mainly for tests.
func New() *Metrics {
	latency := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	return &Metrics{
		apiRequests: NewCounterVec("registry_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency:  NewHistogramVec("registry_api_request_duration_seconds", "API request latency in seconds by method/route/status.", []string{"method", "route", "status"}, latency),
		apiInflight: NewGauge("registry_api_inflight_requests", "In-flight API requests."),

		operations:         NewCounterVec("registry_operations_total", "Schema operations by operation/project type/conclusion.", []string{"operation", "project_type", "conclusion"}),
		operationLatency:   NewHistogramVec("registry_operation_duration_seconds", "Schema operation latency in seconds.", []string{"operation", "project_type"}, latency),
		compositionLatency: NewHistogramVec("registry_composition_duration_seconds", "Composition latency in seconds by project type/status.", []string{"project_type", "status"}, latency),
		lockWait:           NewHistogramVec("registry_lock_wait_seconds", "Time spent acquiring the target lock by outcome.", []string{"outcome"}, []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30}),
		dedupHits:          NewCounterVec("registry_publish_dedup_hits_total", "Publishes answered from the result cache.", []string{"operation"}),
		sideEffectFailures: NewCounterVec("registry_side_effect_failures_total", "Failed post-commit side effects by kind.", []string{"kind"}),
		unexpectedErrors:   NewCounterVec("registry_unexpected_errors_total", "Unexpected errors by operation.", []string{"operation"}),

		ledgerOperations: NewHistogramVec("registry_ledger_operation_duration_seconds", "Ledger write latency by operation/status.", []string{"operation", "status"}, latency),
		ledgerConflicts:  NewCounterVec("registry_ledger_conflicts_total", "Ledger writes rejected by concurrency guards.", []string{"operation"}),
		ledgerRetries:    NewCounterVec("registry_ledger_retryable_total", "Ledger writes that failed with a retryable error.", []string{"operation"}),

		redisUp:   NewGauge("registry_redis_up", "Redis liveness (1 up, 0 down)."),
		redisPing: NewGauge("registry_redis_ping_seconds", "Redis ping latency in seconds."),

		sloCompliance: NewGaugeVec("registry_slo_compliance_ratio", "Observed SLI over the rolling window.", []string{"slo", "window"}),
		sloBudget:     NewGaugeVec("registry_slo_error_budget_remaining", "Remaining error budget over the rolling window.", []string{"slo", "window"}),
		sloBurn:       NewGaugeVec("registry_slo_burn_rate", "Error budget burn rate over the rolling window.", []string{"slo", "window"}),
	}
}

func (m *Metrics) collectors() []collector {
	return []collector{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.operations, m.operationLatency, m.compositionLatency, m.lockWait,
		m.dedupHits, m.sideEffectFailures, m.unexpectedErrors,
		m.ledgerOperations, m.ledgerConflicts, m.ledgerRetries,
		m.redisUp, m.redisPing,
		m.sloCompliance, m.sloBudget, m.sloBurn,
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveOperation records one publish/check/delete/approve and its conclusion.
func (m *Metrics) ObserveOperation(operation, projectType, conclusion string, dur time.Duration) {
	if m == nil {
		return
	}
	m.operations.Inc(operation, projectType, conclusion)
	m.operationLatency.Observe(dur.Seconds(), operation, projectType)
}

func (m *Metrics) ObserveComposition(projectType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.compositionLatency.Observe(dur.Seconds(), projectType, status)
}

func (m *Metrics) ObserveLockWait(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(dur.Seconds(), outcome)
}

func (m *Metrics) IncDedupHit(operation string) {
	if m == nil {
		return
	}
	m.dedupHits.Inc(operation)
}

func (m *Metrics) IncSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.Inc(kind)
}

func (m *Metrics) IncUnexpectedError(operation string) {
	if m == nil {
		return
	}
	m.unexpectedErrors.Inc(operation)
}

func (m *Metrics) ObserveLedgerOperation(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.ledgerOperations.Observe(dur.Seconds(), operation, status)
}

func (m *Metrics) IncLedgerConflict(operation string) {
	if m == nil {
		return
	}
	m.ledgerConflicts.Inc(operation)
}

func (m *Metrics) IncLedgerRetry(operation string) {
	if m == nil {
		return
	}
	m.ledgerRetries.Inc(operation)
}

// OperationCount is the number of recorded operations with the given labels.
func (m *Metrics) OperationCount(operation, projectType, conclusion string) float64 {
	if m == nil {
		return 0
	}
	return m.operations.Value(operation, projectType, conclusion)
}

func (m *Metrics) APIRequestCount(method, route, status string) float64 {
	if m == nil {
		return 0
	}
	return m.apiRequests.Value(method, route, status)
}

func (m *Metrics) SideEffectFailures(kind string) float64 {
	if m == nil {
		return 0
	}
	return m.sideEffectFailures.Value(kind)
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
