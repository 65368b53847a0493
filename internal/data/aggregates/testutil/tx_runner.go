package testutil

import (
	"context"
	"sync"

	"github.com/yungbote/schema-registry/internal/data/aggregates"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
)

// InjectedTxRunner injects begin/commit failures around an optional real runner. Without Inner the
// body runs with no transaction.
type InjectedTxRunner struct {
	mu sync.Mutex

	Inner aggregates.TxRunner

	FailBegin  error
	FailCommit error

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.BeginCalls++
	failBegin, failCommit := r.FailBegin, r.FailCommit
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}
	body := func(dbc dbctx.Context) error {
		if fn != nil {
			if err := fn(dbc); err != nil {
				return err
			}
		}
		// Returning an error from inside a real transaction rolls it back.
		return failCommit
	}

	var err error
	if r.Inner != nil {
		err = r.Inner.InTx(ctx, body)
	} else {
		err = body(dbctx.Context{Ctx: ctx})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.RollbackCalls++
		return err
	}
	r.CommitCalls++
	return nil
}
