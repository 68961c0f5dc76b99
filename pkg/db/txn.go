package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrTxTimeout is returned when a transaction does not commit within its
// deadline. It maps to a 500 at the HTTP layer.
var ErrTxTimeout = errors.New("transaction_timeout")

// RunSerializable runs fn inside a SERIALIZABLE transaction with a hard
// deadline. All transactional work must stay inside fn; external calls belong
// outside, after the commit.
func RunSerializable(ctx context.Context, conn *gorm.DB, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// SQLite runs every transaction serializable already and its driver
	// rejects explicit isolation levels.
	var opts []*sql.TxOptions
	if conn.Dialector.Name() != "sqlite" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	err := conn.WithContext(txCtx).Transaction(fn, opts...)
	if err != nil && txCtx.Err() != nil && ctx.Err() == nil {
		return ErrTxTimeout
	}
	return err
}
