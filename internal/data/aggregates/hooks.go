package aggregates

import (
	"time"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/observability"
)

// WriteOutcome is one finished ledger write. Code is empty when the write committed.
type WriteOutcome struct {
	Op       string
	Code     registry.ErrorCode
	Duration time.Duration
}

func (o WriteOutcome) Status() string {
	if o.Code == "" {
		return "success"
	}
	return string(o.Code)
}

// Hooks receives the outcome of every ledger write.
type Hooks interface {
	ObserveWrite(o WriteOutcome)
}

type HooksFunc func(o WriteOutcome)

func (f HooksFunc) ObserveWrite(o WriteOutcome) { f(o) }

var noopHooks = HooksFunc(func(WriteOutcome) {})

// NewObservabilityHooks feeds write outcomes into the ledger metrics.
func NewObservabilityHooks(m *observability.Metrics) Hooks {
	if m == nil {
		return noopHooks
	}
	return HooksFunc(func(o WriteOutcome) {
		m.ObserveLedgerOperation(o.Op, o.Status(), o.Duration)
		switch o.Code {
		case registry.CodeConflict:
			m.IncLedgerConflict(o.Op)
		case registry.CodeRetryable:
			m.IncLedgerRetry(o.Op)
		}
	})
}
