package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// Identifier aliases. All aggregates are keyed by UUID; the aliases document
// which id a signature expects without fighting pgx scanning.
type (
	UserID       = uuid.UUID
	MissionID    = uuid.UUID
	DevisID      = uuid.UUID
	EscrowID     = uuid.UUID
	JetonID      = uuid.UUID
	ValidationID = uuid.UUID
)

// ParseID parses a UUID string, tagging failures as validation errors.
func ParseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", ErrValidation, field)
	}
	return id, nil
}

// NewID returns a fresh random UUID.
func NewID() uuid.UUID { return uuid.New() }
