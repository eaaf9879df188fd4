package store

import (
	"context"

	"jobboard.app/atsbridge/core/db"
)

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores Provider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores Provider) error) error {
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(NewStores(tx))
	})
}
