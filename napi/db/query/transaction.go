package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

// Transaction executes the given function within a database transaction.
func Transaction(ctx context.Context, db *sql.DB, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Failed to begin transaction: %w", err)
	}

	err = f(ctx, tx)
	if err != nil {
		return rollback(tx, err)
	}

	err = tx.Commit()
	if errors.Is(err, sql.ErrTxDone) {
		err = nil // Ignore duplicate commits/rollbacks.
	}

	return err
}

// rollback aborts a transaction after the given error occurred. If the
// rollback succeeds the given error is returned, otherwise the rollback
// failure is logged and the original error still returned.
func rollback(tx *sql.Tx, reason error) error {
	err := tx.Rollback()
	if err != nil {
		logger.Warn("Failed to rollback transaction after error", logger.Ctx{"reason": reason, "err": err})
	}

	return reason
}
