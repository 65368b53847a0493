package aggregates

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type BaseDeps struct {
	DB     *gorm.DB
	Log    *logger.Logger
	Runner TxRunner
	Hooks  Hooks
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

// executeWrite runs fn in one transaction and reports the outcome under a registry error code.
func executeWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	deps = deps.withDefaults()
	if op = strings.TrimSpace(op); op == "" {
		op = "ledger.write"
	}
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "ledger."+op)
	err := MapError(op, deps.Runner.InTx(ctx, fn))
	observability.EndSpan(span, err)

	code := outcomeCode(err)
	deps.Hooks.ObserveWrite(WriteOutcome{Op: op, Code: code, Duration: time.Since(start)})
	if code == registry.CodeInternal {
		deps.Log.Error("ledger write failed", "operation", op, "error", err)
	}
	return err
}

func outcomeCode(err error) registry.ErrorCode {
	if err == nil {
		return ""
	}
	if code := registry.CodeOf(err); code != "" {
		return code
	}
	return registry.CodeInternal
}
