package jeton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/escrow"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// maxConcurrencyRetries bounds optimistic-lock retry loops. A jeton under
// simultaneous redemption is reloaded and revalidated up to this many times
// before the conflict surfaces.
const maxConcurrencyRetries = 3

// DefaultTTL applies when configuration does not override the jeton
// lifetime.
const DefaultTTL = 72 * time.Hour

// RepositoryPort defines data access for jetons.
type RepositoryPort interface {
	IssueAtomic(ctx context.Context, esc *escrow.Escrow, j *Jeton) error
	RedeemAtomic(ctx context.Context, j *Jeton, v *Validation) error
	MarkExpired(ctx context.Context, j *Jeton) error
	FindByID(ctx context.Context, id uuid.UUID) (*Jeton, error)
	FindByCode(ctx context.Context, code string) (*Jeton, error)
	ListValidations(ctx context.Context, jetonID uuid.UUID) ([]Validation, error)
}

// EscrowPort is the slice of the escrow repository jeton issuance reads.
type EscrowPort interface {
	FindByID(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error)
}

// LedgerPort records jeton movements in the transaction history.
type LedgerPort interface {
	Record(ctx context.Context, t ledger.Transaction) error
}

// FraudPort is the anti-fraud surface consulted during redemption.
type FraudPort interface {
	VerifyLocationProof(locs ...shared.Coordinates) error
	EnsureNotFlagged(ctx context.Context, userID uuid.UUID) error
}

// Service orchestrates jeton issuance and redemption.
type Service struct {
	repo       RepositoryPort
	escrows    EscrowPort
	ledger     LedgerPort
	fraud      FraudPort
	logger     *slog.Logger
	ttl        time.Duration
	proximityM float64
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, escrows EscrowPort, ledgerRepo LedgerPort, fraud FraudPort, logger *slog.Logger, ttl time.Duration, proximityLimitMeters float64) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if proximityLimitMeters <= 0 {
		proximityLimitMeters = DefaultProximityLimitMeters
	}
	return &Service{
		repo:       repo,
		escrows:    escrows,
		ledger:     ledgerRepo,
		fraud:      fraud,
		logger:     logger,
		ttl:        ttl,
		proximityM: proximityLimitMeters,
	}
}

// GenerateCommand carries the inputs for jeton issuance. A zero Amount draws
// the escrow's entire remaining materials bucket.
type GenerateCommand struct {
	EscrowID    uuid.UUID
	ArtisanID   uuid.UUID
	SupplierIDs []uuid.UUID
	Amount      shared.Money
}

// GenerateJeton issues a materials token against the escrow. The reservation
// is taken from the materials bucket at issuance and committed atomically
// with the jeton row; a concurrent issue against the same escrow loses the
// version race and is retried on fresh state.
func (s *Service) GenerateJeton(ctx context.Context, cmd GenerateCommand) (*Jeton, []shared.Event, error) {
	if cmd.EscrowID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: escrow id required", shared.ErrValidation)
	}
	if err := s.fraud.EnsureNotFlagged(ctx, cmd.ArtisanID); err != nil {
		return nil, nil, err
	}

	var issued *Jeton
	err := s.withConcurrencyRetry(ctx, func() error {
		esc, err := s.escrows.FindByID(ctx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if !esc.RemainingMaterials.IsPositive() {
			return fmt.Errorf("%w: escrow %s", shared.ErrNoMaterialsAvailable, esc.ID)
		}
		amount := cmd.Amount
		if amount.IsZero() {
			amount = esc.RemainingMaterials
		}

		j, err := Issue(esc, cmd.ArtisanID, cmd.SupplierIDs, amount, s.ttl)
		if err != nil {
			return err
		}
		if err := s.repo.IssueAtomic(ctx, esc, j); err != nil {
			return err
		}
		issued = j
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	tx := ledger.NewTransaction(issued.ArtisanID, ledger.KindJetonIssue, issued.Total, issueReference(issued.ID), "", ledger.TxSuccess)
	tx.EscrowID = issued.EscrowID
	tx.JetonID = issued.ID
	if err := s.ledger.Record(ctx, tx); err != nil {
		// The jeton exists and the funds are reserved; a missing history row
		// is surfaced for reconciliation, not rolled back.
		s.logger.Error("jeton issue ledger record failed",
			slog.String("jeton_id", issued.ID.String()),
			slog.Any("error", err))
		return nil, nil, shared.WrapPersistence(err, issueReference(issued.ID), "")
	}

	ev := shared.NewEvent(shared.EventJetonGenerated)
	ev.EscrowID = issued.EscrowID
	ev.JetonID = issued.ID
	ev.UserID = issued.ArtisanID
	ev.Amount = issued.Total
	ev.Meta["expires_at"] = issued.ExpiresAt.Format(time.RFC3339)
	return issued, []shared.Event{ev}, nil
}

// ValidateCommand carries the inputs for a redemption.
type ValidateCommand struct {
	Code          string
	FournisseurID uuid.UUID
	Amount        shared.Money
	ArtisanLoc    shared.Coordinates
	SupplierLoc   shared.Coordinates
}

// ValidateResult is returned to the redeeming supplier.
type ValidateResult struct {
	ValidationID    uuid.UUID
	JetonID         uuid.UUID
	AmountUsed      shared.Money
	RemainingAmount shared.Money
	Status          Status
	ValidatedAt     time.Time
}

// ValidateJeton redeems part of a jeton's balance. Business gates run inside
// the aggregate in contractual order; anti-fraud checks (flagged account,
// GPS proof quality) run before any aggregate state is touched. Lost version
// races reload the jeton and replay the gates, so two concurrent redemptions
// can never overspend the balance.
func (s *Service) ValidateJeton(ctx context.Context, cmd ValidateCommand) (*ValidateResult, []shared.Event, error) {
	if cmd.Code == "" {
		return nil, nil, fmt.Errorf("%w: jeton code required", shared.ErrValidation)
	}
	if cmd.FournisseurID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: fournisseur id required", shared.ErrValidation)
	}
	if err := s.fraud.EnsureNotFlagged(ctx, cmd.FournisseurID); err != nil {
		return nil, nil, err
	}
	if err := s.fraud.VerifyLocationProof(cmd.ArtisanLoc, cmd.SupplierLoc); err != nil {
		return nil, nil, err
	}

	var (
		redeemed   *Jeton
		validation *Validation
	)
	err := s.withConcurrencyRetry(ctx, func() error {
		j, err := s.repo.FindByCode(ctx, cmd.Code)
		if err != nil {
			return err
		}
		v, err := j.Validate(cmd.FournisseurID, cmd.Amount, cmd.ArtisanLoc, cmd.SupplierLoc, s.proximityM, time.Now())
		if err != nil {
			if errors.Is(err, shared.ErrJetonExpired) {
				// Persist the lazy expiry; the rejection stands either way.
				if markErr := s.repo.MarkExpired(ctx, j); markErr != nil && !errors.Is(markErr, shared.ErrConcurrentModification) {
					s.logger.Warn("mark jeton expired", slog.String("jeton_id", j.ID.String()), slog.Any("error", markErr))
				}
			}
			return err
		}
		if err := s.repo.RedeemAtomic(ctx, j, v); err != nil {
			return err
		}
		redeemed, validation = j, v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	tx := ledger.NewTransaction(cmd.FournisseurID, ledger.KindJetonRedeem, validation.AmountUsed, redeemReference(validation.ID), "", ledger.TxSuccess)
	tx.EscrowID = redeemed.EscrowID
	tx.JetonID = redeemed.ID
	if err := s.ledger.Record(ctx, tx); err != nil {
		s.logger.Error("jeton redeem ledger record failed",
			slog.String("validation_id", validation.ID.String()),
			slog.Any("error", err))
		return nil, nil, shared.WrapPersistence(err, redeemReference(validation.ID), "")
	}

	ev := shared.NewEvent(shared.EventJetonValidated)
	ev.EscrowID = redeemed.EscrowID
	ev.JetonID = redeemed.ID
	ev.UserID = cmd.FournisseurID
	ev.Amount = validation.AmountUsed
	ev.Meta["distance_meters"] = fmt.Sprintf("%.1f", validation.DistanceMeters)

	return &ValidateResult{
		ValidationID:    validation.ID,
		JetonID:         redeemed.ID,
		AmountUsed:      validation.AmountUsed,
		RemainingAmount: redeemed.Remaining,
		Status:          redeemed.Status,
		ValidatedAt:     validation.ValidatedAt,
	}, []shared.Event{ev}, nil
}

// Get loads a jeton with its audit trail.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Jeton, []Validation, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	validations, err := s.repo.ListValidations(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return j, validations, nil
}

func (s *Service) withConcurrencyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConcurrencyRetries; attempt++ {
		if err = fn(); !errors.Is(err, shared.ErrConcurrentModification) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func issueReference(jetonID uuid.UUID) string {
	return "jeton-issue:" + jetonID.String()
}

func redeemReference(validationID uuid.UUID) string {
	return "jeton-redeem:" + validationID.String()
}
