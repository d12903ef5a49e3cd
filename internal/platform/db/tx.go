package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// WithTx executes a function within a repeatable-read transaction. All money
// movements that span two writes (escrow reservation + jeton insert) go
// through here so they commit as a unit.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return MapConcurrencyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", MapConcurrencyError(err))
	}

	return nil
}

// MapConcurrencyError translates postgres serialization failures (40001) and
// deadlocks (40P01) into the domain's concurrent-modification error so the
// service layer can apply its bounded retry.
func MapConcurrencyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", shared.ErrConcurrentModification, err)
	}
	return err
}
