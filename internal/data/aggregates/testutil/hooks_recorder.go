package testutil

import (
	"sync"

	"github.com/yungbote/schema-registry/internal/data/aggregates"
	"github.com/yungbote/schema-registry/internal/domain/registry"
)

// HooksRecorder keeps every ledger write outcome for assertions.
type HooksRecorder struct {
	mu       sync.Mutex
	outcomes []aggregates.WriteOutcome
}

var _ aggregates.Hooks = (*HooksRecorder)(nil)

func (h *HooksRecorder) ObserveWrite(o aggregates.WriteOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, o)
}

func (h *HooksRecorder) Outcomes() []aggregates.WriteOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]aggregates.WriteOutcome(nil), h.outcomes...)
}

// StatusesFor returns the recorded statuses of one operation, in order.
func (h *HooksRecorder) StatusesFor(op string) []string {
	var out []string
	for _, o := range h.Outcomes() {
		if o.Op == op {
			out = append(out, o.Status())
		}
	}
	return out
}

// OpsWithCode lists the operations that ended with code, in order.
func (h *HooksRecorder) OpsWithCode(code registry.ErrorCode) []string {
	var out []string
	for _, o := range h.Outcomes() {
		if o.Code == code {
			out = append(out, o.Op)
		}
	}
	return out
}
