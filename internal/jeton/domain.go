// Package jeton implements the materials spending token: a bounded-balance,
// time-limited credential drawn against an escrow's materials bucket and
// redeemable only by authorized, GPS-proximate suppliers. A single jeton
// supports partial redemption by different suppliers until exhausted or
// expired.
package jeton

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/escrow"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// Status enumerates jeton lifecycle states.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExhausted Status = "EXHAUSTED"
	StatusExpired   Status = "EXPIRED"
)

// DefaultProximityLimitMeters gates how far apart artisan and supplier may
// stand during redemption.
const DefaultProximityLimitMeters = 100.0

// Jeton is the materials token entity. The code is the bearer credential;
// whoever presents it spends from the balance, hence the entropy requirement.
type Jeton struct {
	ID        uuid.UUID
	EscrowID  uuid.UUID
	ArtisanID uuid.UUID
	Code      string

	AuthorizedSuppliers []uuid.UUID
	Total               shared.Money
	Remaining           shared.Money

	ExpiresAt time.Time
	Status    Status
	// Version guards concurrent redemptions of the same jeton.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validation is the immutable audit record appended on every successful
// redemption. Never mutated or deleted.
type Validation struct {
	ID            uuid.UUID
	JetonID       uuid.UUID
	FournisseurID uuid.UUID
	ArtisanID     uuid.UUID
	AmountUsed    shared.Money

	ArtisanLat     float64
	ArtisanLng     float64
	SupplierLat    float64
	SupplierLng    float64
	DistanceMeters float64

	Status      string
	ValidatedAt time.Time
}

// ValidationApproved is the only status a persisted record carries; failed
// attempts never reach the audit trail.
const ValidationApproved = "APPROVED"

// Issue draws amount from the escrow's materials bucket and mints a jeton
// for it. The reservation happens here, at issuance, so two jetons can never
// hold the same funds; persistence must commit the escrow decrement and the
// jeton insert as one unit.
func Issue(esc *escrow.Escrow, artisanID uuid.UUID, supplierIDs []uuid.UUID, amount shared.Money, ttl time.Duration) (*Jeton, error) {
	if artisanID == uuid.Nil {
		return nil, fmt.Errorf("%w: artisan id required", shared.ErrValidation)
	}
	if len(supplierIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one authorized supplier required", shared.ErrValidation)
	}
	for _, id := range supplierIDs {
		if id == uuid.Nil {
			return nil, fmt.Errorf("%w: supplier id must not be nil", shared.ErrValidation)
		}
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: jeton amount must be positive", shared.ErrValidation)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: jeton ttl must be positive", shared.ErrValidation)
	}
	if !esc.RemainingMaterials.GTE(amount) {
		return nil, fmt.Errorf("%w: materials bucket holds %s, requested %s",
			shared.ErrInsufficientFunds, esc.RemainingMaterials, amount)
	}
	if err := esc.ReserveForJeton(amount); err != nil {
		return nil, err
	}

	code, err := newCode()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Jeton{
		ID:                  uuid.New(),
		EscrowID:            esc.ID,
		ArtisanID:           artisanID,
		Code:                code,
		AuthorizedSuppliers: append([]uuid.UUID(nil), supplierIDs...),
		Total:               amount,
		Remaining:           amount,
		ExpiresAt:           now.Add(ttl),
		Status:              StatusActive,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Validate applies the redemption gates in their contractual order: expiry,
// supplier authorization, proximity, balance. The first failing gate decides
// the returned error. On success the balance is decremented and the audit
// record returned for persistence alongside the jeton.
func (j *Jeton) Validate(fournisseurID uuid.UUID, amount shared.Money, artisanLoc, supplierLoc shared.Coordinates, proximityLimitMeters float64, now time.Time) (*Validation, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: redemption amount must be positive", shared.ErrValidation)
	}
	if proximityLimitMeters <= 0 {
		proximityLimitMeters = DefaultProximityLimitMeters
	}

	if now.After(j.ExpiresAt) {
		// Expiry is lazy: no background sweep is required for correctness.
		j.Status = StatusExpired
		j.UpdatedAt = now
		return nil, fmt.Errorf("%w: jeton %s expired at %s", shared.ErrJetonExpired, j.ID, j.ExpiresAt.Format(time.RFC3339))
	}

	if !j.IsAuthorized(fournisseurID) {
		return nil, fmt.Errorf("%w: supplier %s", shared.ErrUnauthorizedSupplier, fournisseurID)
	}

	distance := artisanLoc.DistanceMeters(supplierLoc)
	if distance > proximityLimitMeters {
		return nil, fmt.Errorf("%w: %.0fm apart, limit %.0fm", shared.ErrProximityViolation, distance, proximityLimitMeters)
	}

	if j.Remaining.IsZero() {
		return nil, fmt.Errorf("%w: jeton %s", shared.ErrJetonExhausted, j.ID)
	}
	remaining, err := j.Remaining.Sub(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: jeton holds %s, requested %s", shared.ErrInsufficientBalance, j.Remaining, amount)
	}
	j.Remaining = remaining
	if j.Remaining.IsZero() {
		j.Status = StatusExhausted
	}
	j.UpdatedAt = now

	return &Validation{
		ID:             uuid.New(),
		JetonID:        j.ID,
		FournisseurID:  fournisseurID,
		ArtisanID:      j.ArtisanID,
		AmountUsed:     amount,
		ArtisanLat:     artisanLoc.Latitude,
		ArtisanLng:     artisanLoc.Longitude,
		SupplierLat:    supplierLoc.Latitude,
		SupplierLng:    supplierLoc.Longitude,
		DistanceMeters: distance,
		Status:         ValidationApproved,
		ValidatedAt:    now,
	}, nil
}

// IsAuthorized reports whether the supplier may redeem this jeton.
func (j *Jeton) IsAuthorized(fournisseurID uuid.UUID) bool {
	for _, id := range j.AuthorizedSuppliers {
		if id == fournisseurID {
			return true
		}
	}
	return false
}

// newCode mints the bearer code: 20 bytes of crypto randomness, base32
// without padding, 160 bits of entropy.
func newCode() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("jeton: generate code: %w", err)
	}
	return "JET-" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
