// Package escrow implements the blocked-funds aggregate. Client money is
// held when a quote (devis) is accepted, split into a materials bucket spent
// through jetons and a labor bucket released on milestone validation.
package escrow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Status enumerates escrow lifecycle states.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusFragmented        Status = "FRAGMENTED"
	StatusPartiallyReleased Status = "PARTIALLY_RELEASED"
	StatusFullyReleased     Status = "FULLY_RELEASED"
	StatusRefunded          Status = "REFUNDED"
)

// DefaultMaterialsPct is the materials share of a fragmented escrow. The
// labor share is the remainder, so the two always sum to the total.
const DefaultMaterialsPct = 65

// Escrow is the aggregate root holding a client's blocked payment. It is
// pure state: all gateway and persistence I/O happens in the service layer.
type Escrow struct {
	ID        uuid.UUID
	MissionID uuid.UUID
	DevisID   uuid.UUID
	ClientID  uuid.UUID
	ArtisanID uuid.UUID

	Total              shared.Money
	Materials          shared.Money
	Labor              shared.Money
	RemainingMaterials shared.Money
	RemainingLabor     shared.Money

	Status    Status
	Reference string
	// Version guards read-modify-write races; the repository rejects stale
	// writes with ErrConcurrentModification.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New constructs a PENDING escrow with zero fragments.
func New(missionID, devisID, clientID, artisanID uuid.UUID, total shared.Money, reference string) (*Escrow, error) {
	if missionID == uuid.Nil || clientID == uuid.Nil || artisanID == uuid.Nil {
		return nil, fmt.Errorf("%w: mission, client and artisan ids required", shared.ErrValidation)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: escrow total must be positive", shared.ErrValidation)
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: idempotency reference required", shared.ErrValidation)
	}
	now := time.Now()
	zero := shared.Money{Amount: 0, Currency: total.Currency}
	return &Escrow{
		ID:                 uuid.New(),
		MissionID:          missionID,
		DevisID:            devisID,
		ClientID:           clientID,
		ArtisanID:          artisanID,
		Total:              total,
		Materials:          zero,
		Labor:              zero,
		RemainingMaterials: zero,
		RemainingLabor:     zero,
		Status:             StatusPending,
		Reference:          reference,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Fragment splits the total into materials/labor buckets. Materials gets
// round-half-up of materialsPct percent, labor the exact remainder, so
// Materials + Labor == Total by construction. Calling twice is an error, a
// double split would double-allocate the client's money.
func (e *Escrow) Fragment(materialsPct int64) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: escrow %s is %s", shared.ErrAlreadyFragmented, e.ID, e.Status)
	}
	materials, labor, err := e.Total.SplitPct(materialsPct)
	if err != nil {
		return err
	}
	e.Materials = materials
	e.Labor = labor
	e.RemainingMaterials = materials
	e.RemainingLabor = labor
	e.Status = StatusFragmented
	e.UpdatedAt = time.Now()
	return nil
}

// ReserveForJeton draws amount from the materials bucket at jeton issuance.
func (e *Escrow) ReserveForJeton(amount shared.Money) error {
	if e.Status != StatusFragmented && e.Status != StatusPartiallyReleased {
		return fmt.Errorf("%w: escrow %s is %s", shared.ErrNotFragmented, e.ID, e.Status)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: reservation amount must be positive", shared.ErrValidation)
	}
	remaining, err := e.RemainingMaterials.Sub(amount)
	if err != nil {
		return fmt.Errorf("materials bucket: %w", err)
	}
	e.RemainingMaterials = remaining
	e.refreshStatus()
	return nil
}

// ReleaseLabor draws amount from the labor bucket on milestone validation.
func (e *Escrow) ReleaseLabor(amount shared.Money) error {
	if e.Status != StatusFragmented && e.Status != StatusPartiallyReleased {
		return fmt.Errorf("%w: escrow %s is %s", shared.ErrNotFragmented, e.ID, e.Status)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: release amount must be positive", shared.ErrValidation)
	}
	remaining, err := e.RemainingLabor.Sub(amount)
	if err != nil {
		return fmt.Errorf("labor bucket: %w", err)
	}
	e.RemainingLabor = remaining
	e.refreshStatus()
	return nil
}

// RefundRemaining zeroes both buckets and returns the amount owed back to
// the client. The caller is responsible for the gateway refund call.
func (e *Escrow) RefundRemaining() (shared.Money, error) {
	if e.Status == StatusRefunded {
		return shared.Money{}, fmt.Errorf("%w: escrow %s already refunded", shared.ErrValidation, e.ID)
	}
	if e.Status == StatusFullyReleased {
		return shared.Money{}, fmt.Errorf("%w: escrow %s fully released, nothing to refund", shared.ErrValidation, e.ID)
	}
	refund, err := e.RemainingMaterials.Add(e.RemainingLabor)
	if err != nil {
		return shared.Money{}, err
	}
	zero := shared.Money{Amount: 0, Currency: e.Total.Currency}
	e.RemainingMaterials = zero
	e.RemainingLabor = zero
	e.Status = StatusRefunded
	e.UpdatedAt = time.Now()
	return refund, nil
}

func (e *Escrow) refreshStatus() {
	e.UpdatedAt = time.Now()
	switch {
	case e.RemainingMaterials.IsZero() && e.RemainingLabor.IsZero():
		e.Status = StatusFullyReleased
	default:
		e.Status = StatusPartiallyReleased
	}
}
