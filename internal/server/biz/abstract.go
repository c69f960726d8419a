package biz

import (
	"context"

	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/server/db"
)

type AbstractService struct {
	db *gorm.DB
}

// dbFromContext returns the transaction bound to ctx, or the root handle.
func (a *AbstractService) dbFromContext(ctx context.Context) *gorm.DB {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}

	return a.db.WithContext(ctx)
}

// RunInTransaction runs fn in a transaction, joining the one already bound to ctx.
func (a *AbstractService) RunInTransaction(ctx context.Context, fn func(context.Context) error) error {
	if tx := db.TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(db.WithTx(ctx, tx))
	})
}
