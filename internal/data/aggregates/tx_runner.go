package aggregates

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
)

// TxRunner owns the transaction every ledger write runs in.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

// GormTxRunner runs fn in a gorm transaction. Options is passed to BeginTx when set.
type GormTxRunner struct {
	DB      *gorm.DB
	Options *sql.TxOptions
}

func NewGormTxRunner(db *gorm.DB) *GormTxRunner {
	return &GormTxRunner{DB: db}
}

func (r *GormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if r == nil || r.DB == nil {
		return registry.NewError(registry.CodeInternal, "ledger.tx", "ledger has no database", nil)
	}
	if fn == nil {
		return nil
	}
	body := func(tx *gorm.DB) error { return fn(dbctx.Context{Ctx: ctx, Tx: tx}) }
	if r.Options != nil {
		return r.DB.WithContext(ctx).Transaction(body, r.Options)
	}
	return r.DB.WithContext(ctx).Transaction(body)
}
