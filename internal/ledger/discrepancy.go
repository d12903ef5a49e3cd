package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Discrepancy records a provider callback that matched no domain record:
// money moved externally with nothing to reconcile it against. These rows
// feed manual or automated recovery and are never silently dropped.
type Discrepancy struct {
	ID           uuid.UUID
	Provider     string
	Reference    string
	ProviderTxID string
	Status       TxStatus
	RawPayload   []byte
	DetectedAt   time.Time
	ResolvedAt   *time.Time
}

// NewDiscrepancy builds an unresolved discrepancy.
func NewDiscrepancy(provider, reference, providerTxID string, status TxStatus, payload []byte) Discrepancy {
	return Discrepancy{
		ID:           uuid.New(),
		Provider:     provider,
		Reference:    reference,
		ProviderTxID: providerTxID,
		Status:       status,
		RawPayload:   payload,
		DetectedAt:   time.Now(),
	}
}

// RecordDiscrepancy inserts an unresolved discrepancy row.
func (r *Repository) RecordDiscrepancy(ctx context.Context, d Discrepancy) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO reconciliation_discrepancies
			(id, provider, reference, provider_tx_id, status, raw_payload, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.Provider, d.Reference, d.ProviderTxID, d.Status, d.RawPayload, d.DetectedAt)
	if err != nil {
		return fmt.Errorf("ledger: record discrepancy: %w", err)
	}
	return nil
}

// ResolveDiscrepancy marks a discrepancy handled.
func (r *Repository) ResolveDiscrepancy(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE reconciliation_discrepancies SET resolved_at=NOW() WHERE id=$1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("ledger: resolve discrepancy: %w", err)
	}
	return nil
}

// ListPendingByStatus returns pending transactions older than cutoff, for
// the reconciliation sweep.
func (r *Repository) ListPendingByStatus(ctx context.Context, cutoff time.Time, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE status=$1 AND provider_tx_id <> '' AND created_at < $2
		ORDER BY created_at LIMIT $3`, TxPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: pending rows: %w", err)
	}
	return out, nil
}
