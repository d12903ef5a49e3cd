package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Repository provides PostgreSQL backed persistence for transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const txColumns = `id, user_id, kind, currency, amount, reference, provider_tx_id,
	status, escrow_id, jeton_id, created_at, updated_at`

// Record inserts a transaction row.
func (r *Repository) Record(ctx context.Context, t Transaction) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO transactions (`+txColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.UserID, t.Kind, t.Amount.Currency, t.Amount.Amount,
		t.Reference, t.ProviderTxID, t.Status,
		nilIfZero(t.EscrowID), nilIfZero(t.JetonID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	return nil
}

// UpdateStatusByReference resolves a pending transaction from a webhook or a
// status poll. Repeated deliveries with the same terminal status are no-ops.
func (r *Repository) UpdateStatusByReference(ctx context.Context, reference string, providerTxID string, status TxStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions
		SET status=$1, provider_tx_id=COALESCE(NULLIF($2,''), provider_tx_id), updated_at=NOW()
		WHERE reference=$3`, status, providerTxID, reference)
	if err != nil {
		return fmt.Errorf("ledger: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction reference %s", shared.ErrNotFound, reference)
	}
	return nil
}

// FindByReference loads a transaction by its idempotency reference.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference=$1`, reference)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByUser returns a page of the user's transactions, newest first.
func (r *Repository) ListByUser(ctx context.Context, req HistoryRequest) ([]Transaction, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE user_id=$1`
	listQuery := `SELECT ` + txColumns + ` FROM transactions WHERE user_id=$1`
	args := []any{req.UserID}
	if req.Kind != "" {
		countQuery += ` AND kind=$2`
		listQuery += ` AND kind=$2`
		args = append(args, req.Kind)
	}
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count: %w", err)
	}

	p := shared.NewPagination(req.Page, req.Limit, total)
	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: list rows: %w", err)
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var currency string
	var amount int64
	var escrowID, jetonID *uuid.UUID
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &currency, &amount,
		&t.Reference, &t.ProviderTxID, &t.Status, &escrowID, &jetonID,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("%w: transaction", shared.ErrNotFound)
		}
		return Transaction{}, fmt.Errorf("ledger: scan: %w", err)
	}
	t.Amount = shared.Money{Amount: amount, Currency: currency}
	if escrowID != nil {
		t.EscrowID = *escrowID
	}
	if jetonID != nil {
		t.JetonID = *jetonID
	}
	return t, nil
}

func nilIfZero(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
