package jeton

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prosartisan/prosartisan/internal/escrow"
	"github.com/prosartisan/prosartisan/internal/platform/db"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// Repository provides PostgreSQL backed persistence for jetons and their
// validation audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jetonColumns = `id, escrow_id, artisan_id, code, authorized_suppliers, currency,
	total_amount, remaining_amount, expires_at, status, version, created_at, updated_at`

// IssueAtomic persists a freshly issued jeton together with the escrow's
// materials decrement as one transaction: either the funds are reserved and
// the jeton exists, or neither. The escrow write is version-guarded.
func (r *Repository) IssueAtomic(ctx context.Context, esc *escrow.Escrow, j *Jeton) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE escrows SET
				remaining_materials=$1, remaining_labor=$2, status=$3, version=version+1, updated_at=$4
			WHERE id=$5 AND version=$6`,
			esc.RemainingMaterials.Amount, esc.RemainingLabor.Amount, esc.Status,
			esc.UpdatedAt, esc.ID, esc.Version)
		if err != nil {
			return fmt.Errorf("jeton: reserve escrow funds: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: escrow %s version %d", shared.ErrConcurrentModification, esc.ID, esc.Version)
		}

		_, err = tx.Exec(ctx, `INSERT INTO jetons (`+jetonColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			j.ID, j.EscrowID, j.ArtisanID, j.Code, j.AuthorizedSuppliers, j.Total.Currency,
			j.Total.Amount, j.Remaining.Amount, j.ExpiresAt, j.Status, j.Version,
			j.CreatedAt, j.UpdatedAt)
		if err != nil {
			return fmt.Errorf("jeton: insert: %w", err)
		}
		return nil
	})
}

// RedeemAtomic persists a redemption: the version-guarded jeton update and
// the audit record insert commit together. A lost version race surfaces as
// ErrConcurrentModification so the service can reload and retry.
func (r *Repository) RedeemAtomic(ctx context.Context, j *Jeton, v *Validation) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE jetons SET
				remaining_amount=$1, status=$2, version=version+1, updated_at=$3
			WHERE id=$4 AND version=$5`,
			j.Remaining.Amount, j.Status, j.UpdatedAt, j.ID, j.Version)
		if err != nil {
			return fmt.Errorf("jeton: redeem update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: jeton %s version %d", shared.ErrConcurrentModification, j.ID, j.Version)
		}

		_, err = tx.Exec(ctx, `INSERT INTO jeton_validations
				(id, jeton_id, fournisseur_id, artisan_id, currency, amount_used,
				 artisan_lat, artisan_lng, supplier_lat, supplier_lng, distance_meters,
				 status, validated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			v.ID, v.JetonID, v.FournisseurID, v.ArtisanID, v.AmountUsed.Currency, v.AmountUsed.Amount,
			v.ArtisanLat, v.ArtisanLng, v.SupplierLat, v.SupplierLng, v.DistanceMeters,
			v.Status, v.ValidatedAt)
		if err != nil {
			return fmt.Errorf("jeton: insert validation: %w", err)
		}
		return nil
	})
	if err == nil {
		j.Version++
	}
	return err
}

// MarkExpired persists a lazily detected expiry.
func (r *Repository) MarkExpired(ctx context.Context, j *Jeton) error {
	tag, err := r.pool.Exec(ctx, `UPDATE jetons SET status=$1, version=version+1, updated_at=$2
		WHERE id=$3 AND version=$4`,
		StatusExpired, j.UpdatedAt, j.ID, j.Version)
	if err != nil {
		return fmt.Errorf("jeton: mark expired: %w", db.MapConcurrencyError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: jeton %s version %d", shared.ErrConcurrentModification, j.ID, j.Version)
	}
	j.Version++
	return nil
}

// ExpireDue marks every ACTIVE jeton past its expiry. Used by the background
// sweep; redemption does not depend on it.
func (r *Repository) ExpireDue(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE jetons SET status=$1, version=version+1, updated_at=NOW()
		WHERE status=$2 AND expires_at < NOW()`, StatusExpired, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("jeton: expire due: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindByID loads a jeton.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Jeton, error) {
	return scanJeton(r.pool.QueryRow(ctx, `SELECT `+jetonColumns+` FROM jetons WHERE id=$1`, id))
}

// FindByCode loads a jeton by its bearer code.
func (r *Repository) FindByCode(ctx context.Context, code string) (*Jeton, error) {
	return scanJeton(r.pool.QueryRow(ctx, `SELECT `+jetonColumns+` FROM jetons WHERE code=$1`, code))
}

// ListValidations returns the audit trail for a jeton, oldest first.
func (r *Repository) ListValidations(ctx context.Context, jetonID uuid.UUID) ([]Validation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, jeton_id, fournisseur_id, artisan_id, currency, amount_used,
			artisan_lat, artisan_lng, supplier_lat, supplier_lng, distance_meters, status, validated_at
		FROM jeton_validations WHERE jeton_id=$1 ORDER BY validated_at`, jetonID)
	if err != nil {
		return nil, fmt.Errorf("jeton: list validations: %w", err)
	}
	defer rows.Close()

	var out []Validation
	for rows.Next() {
		var v Validation
		var currency string
		var amount int64
		if err := rows.Scan(&v.ID, &v.JetonID, &v.FournisseurID, &v.ArtisanID, &currency, &amount,
			&v.ArtisanLat, &v.ArtisanLng, &v.SupplierLat, &v.SupplierLng, &v.DistanceMeters,
			&v.Status, &v.ValidatedAt); err != nil {
			return nil, fmt.Errorf("jeton: scan validation: %w", err)
		}
		v.AmountUsed = shared.Money{Amount: amount, Currency: currency}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jeton: validations rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJeton(row rowScanner) (*Jeton, error) {
	var j Jeton
	var currency string
	var total, remaining int64
	err := row.Scan(&j.ID, &j.EscrowID, &j.ArtisanID, &j.Code, &j.AuthorizedSuppliers, &currency,
		&total, &remaining, &j.ExpiresAt, &j.Status, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: jeton", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("jeton: scan: %w", err)
	}
	j.Total = shared.Money{Amount: total, Currency: currency}
	j.Remaining = shared.Money{Amount: remaining, Currency: currency}
	return &j, nil
}
