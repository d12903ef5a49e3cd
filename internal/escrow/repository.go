package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prosartisan/prosartisan/internal/platform/db"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// Repository provides PostgreSQL backed persistence for escrows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const escrowColumns = `id, mission_id, devis_id, client_id, artisan_id, currency,
	total_amount, materials_amount, labor_amount, remaining_materials, remaining_labor,
	status, reference, version, created_at, updated_at`

// Create inserts a new escrow row.
func (r *Repository) Create(ctx context.Context, e *Escrow) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		e.ID, e.MissionID, e.DevisID, e.ClientID, e.ArtisanID, e.Total.Currency,
		e.Total.Amount, e.Materials.Amount, e.Labor.Amount,
		e.RemainingMaterials.Amount, e.RemainingLabor.Amount,
		e.Status, e.Reference, e.Version, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("escrow: create: %w", db.MapConcurrencyError(err))
	}
	return nil
}

// FindByID loads an escrow.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id=$1`, id))
}

// FindByReference loads an escrow by its idempotency reference.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE reference=$1`, reference))
}

// Update persists aggregate state guarded by the version column. A stale
// version loses the race and surfaces ErrConcurrentModification.
func (r *Repository) Update(ctx context.Context, e *Escrow) error {
	tag, err := r.pool.Exec(ctx, `UPDATE escrows SET
			remaining_materials=$1, remaining_labor=$2, materials_amount=$3, labor_amount=$4,
			status=$5, version=version+1, updated_at=$6
		WHERE id=$7 AND version=$8`,
		e.RemainingMaterials.Amount, e.RemainingLabor.Amount,
		e.Materials.Amount, e.Labor.Amount,
		e.Status, e.UpdatedAt, e.ID, e.Version)
	if err != nil {
		return fmt.Errorf("escrow: update: %w", db.MapConcurrencyError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: escrow %s version %d", shared.ErrConcurrentModification, e.ID, e.Version)
	}
	e.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var e Escrow
	var currency string
	var total, materials, labor, remMaterials, remLabor int64
	err := row.Scan(&e.ID, &e.MissionID, &e.DevisID, &e.ClientID, &e.ArtisanID, &currency,
		&total, &materials, &labor, &remMaterials, &remLabor,
		&e.Status, &e.Reference, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: escrow", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("escrow: scan: %w", err)
	}
	e.Total = shared.Money{Amount: total, Currency: currency}
	e.Materials = shared.Money{Amount: materials, Currency: currency}
	e.Labor = shared.Money{Amount: labor, Currency: currency}
	e.RemainingMaterials = shared.Money{Amount: remMaterials, Currency: currency}
	e.RemainingLabor = shared.Money{Amount: remLabor, Currency: currency}
	return &e, nil
}
