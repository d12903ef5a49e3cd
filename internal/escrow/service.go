package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/gateway"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// maxConcurrencyRetries bounds optimistic-lock retry loops before the
// conflict surfaces to the caller.
const maxConcurrencyRetries = 3

// RepositoryPort defines data access for escrows.
type RepositoryPort interface {
	Create(ctx context.Context, e *Escrow) error
	FindByID(ctx context.Context, id uuid.UUID) (*Escrow, error)
	FindByReference(ctx context.Context, reference string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
}

// LedgerPort is the slice of the ledger the escrow use-cases write to.
type LedgerPort interface {
	Record(ctx context.Context, t ledger.Transaction) error
	FindByReference(ctx context.Context, reference string) (*ledger.Transaction, error)
}

// Service orchestrates the escrow use-cases: gateway call first, domain
// mutation second, persistence third. Domain events are returned, never
// published from here.
type Service struct {
	repo         RepositoryPort
	ledger       LedgerPort
	gateway      gateway.MobileMoneyGateway
	logger       *slog.Logger
	materialsPct int64
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, ledgerRepo LedgerPort, gw gateway.MobileMoneyGateway, logger *slog.Logger, materialsPct int64) *Service {
	if materialsPct <= 0 || materialsPct > 100 {
		materialsPct = DefaultMaterialsPct
	}
	return &Service{repo: repo, ledger: ledgerRepo, gateway: gw, logger: logger, materialsPct: materialsPct}
}

// BlockFundsCommand carries the inputs for BlockEscrowFunds.
type BlockFundsCommand struct {
	MissionID   uuid.UUID
	DevisID     uuid.UUID
	ClientID    uuid.UUID
	ArtisanID   uuid.UUID
	ClientPhone string
	Total       shared.Money
}

// BlockEscrowFunds blocks the client's payment at the provider, then creates
// and fragments the escrow. The reference is derived from the devis so a
// client retry lands on the same provider hold; a repeat call returns the
// existing escrow without touching the gateway again.
//
// If persistence fails after the gateway accepted the hold, money has moved
// with no domain record: the error is wrapped as a persistence failure
// carrying reference and provider tx id, and logged for reconciliation.
func (s *Service) BlockEscrowFunds(ctx context.Context, cmd BlockFundsCommand) (*Escrow, []shared.Event, error) {
	if cmd.DevisID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: devis id required", shared.ErrValidation)
	}
	if cmd.ClientPhone == "" {
		return nil, nil, fmt.Errorf("%w: client phone required", shared.ErrValidation)
	}
	reference := blockReference(cmd.DevisID)

	if existing, err := s.repo.FindByReference(ctx, reference); err == nil {
		return existing, nil, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, nil, err
	}

	esc, err := New(cmd.MissionID, cmd.DevisID, cmd.ClientID, cmd.ArtisanID, cmd.Total, reference)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.gateway.BlockFunds(ctx, cmd.ClientID, cmd.ClientPhone, cmd.Total, reference)
	if err != nil {
		return nil, nil, err
	}
	if !result.Success {
		return nil, nil, fmt.Errorf("%w: block rejected: %s", shared.ErrGateway, result.ErrorMessage)
	}

	// Fragmentation is part of creation, not a separate user action.
	if err := esc.Fragment(s.materialsPct); err != nil {
		return nil, nil, err
	}

	if err := s.repo.Create(ctx, esc); err != nil {
		wrapped := shared.WrapPersistence(err, reference, result.ProviderTxID)
		s.logger.Error("escrow persist failed after gateway hold",
			slog.String("reference", reference),
			slog.String("provider_tx_id", result.ProviderTxID),
			slog.String("amount", cmd.Total.String()),
			slog.Any("error", err))
		return nil, nil, wrapped
	}

	tx := ledger.NewTransaction(cmd.ClientID, ledger.KindEscrowBlock, cmd.Total, reference, result.ProviderTxID, ledger.TxPending)
	tx.EscrowID = esc.ID
	if err := s.ledger.Record(ctx, tx); err != nil {
		wrapped := shared.WrapPersistence(err, reference, result.ProviderTxID)
		s.logger.Error("transaction record failed after gateway hold",
			slog.String("reference", reference),
			slog.String("provider_tx_id", result.ProviderTxID),
			slog.String("amount", cmd.Total.String()),
			slog.Any("error", err))
		return nil, nil, wrapped
	}

	blocked := shared.NewEvent(shared.EventFundsBlocked)
	blocked.EscrowID = esc.ID
	blocked.UserID = cmd.ClientID
	blocked.Amount = cmd.Total
	blocked.Meta["reference"] = reference

	fragmented := shared.NewEvent(shared.EventEscrowFragmented)
	fragmented.EscrowID = esc.ID
	fragmented.Amount = esc.Materials
	fragmented.Meta["materials"] = esc.Materials.String()
	fragmented.Meta["labor"] = esc.Labor.String()

	return esc, []shared.Event{blocked, fragmented}, nil
}

// ReleaseLaborCommand carries the inputs for a milestone labor release.
type ReleaseLaborCommand struct {
	EscrowID     uuid.UUID
	JalonID      uuid.UUID
	ArtisanPhone string
	ClientPhone  string
	Amount       shared.Money
}

// ReleaseLabor pays the artisan from the labor bucket after a milestone
// (jalon) validation. The jalon id keys the idempotency reference.
func (s *Service) ReleaseLabor(ctx context.Context, cmd ReleaseLaborCommand) (*Escrow, []shared.Event, error) {
	if cmd.JalonID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: jalon id required", shared.ErrValidation)
	}
	reference := fmt.Sprintf("labor-release:%s", cmd.JalonID)
	if _, err := s.ledger.FindByReference(ctx, reference); err == nil {
		return nil, nil, fmt.Errorf("%w: jalon %s already released", shared.ErrIdempotencyConflict, cmd.JalonID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, nil, err
	}

	esc, err := s.repo.FindByID(ctx, cmd.EscrowID)
	if err != nil {
		return nil, nil, err
	}
	// Check the bucket before moving provider money.
	if !esc.RemainingLabor.GTE(cmd.Amount) {
		return nil, nil, fmt.Errorf("%w: labor bucket holds %s", shared.ErrInsufficientFunds, esc.RemainingLabor)
	}

	result, err := s.gateway.TransferFunds(ctx, gateway.TransferRequest{
		FromUser:  esc.ClientID,
		FromPhone: cmd.ClientPhone,
		ToUser:    esc.ArtisanID,
		ToPhone:   cmd.ArtisanPhone,
		Amount:    cmd.Amount,
		Reference: reference,
	})
	if err != nil {
		return nil, nil, err
	}
	if !result.Success {
		return nil, nil, fmt.Errorf("%w: transfer rejected: %s", shared.ErrGateway, result.ErrorMessage)
	}

	err = s.withConcurrencyRetry(ctx, func() error {
		fresh, err := s.repo.FindByID(ctx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if err := fresh.ReleaseLabor(cmd.Amount); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, fresh); err != nil {
			return err
		}
		esc = fresh
		return nil
	})
	if err != nil {
		if !shared.IsBusinessRuleViolation(err) && !errors.Is(err, shared.ErrConcurrentModification) {
			err = shared.WrapPersistence(err, reference, result.ProviderTxID)
		}
		s.logger.Error("labor release persist failed after gateway transfer",
			slog.String("reference", reference),
			slog.String("provider_tx_id", result.ProviderTxID),
			slog.String("amount", cmd.Amount.String()),
			slog.Any("error", err))
		return nil, nil, err
	}

	tx := ledger.NewTransaction(esc.ArtisanID, ledger.KindLaborRelease, cmd.Amount, reference, result.ProviderTxID, ledger.TxPending)
	tx.EscrowID = esc.ID
	if err := s.ledger.Record(ctx, tx); err != nil {
		return nil, nil, shared.WrapPersistence(err, reference, result.ProviderTxID)
	}

	ev := shared.NewEvent(shared.EventLaborReleased)
	ev.EscrowID = esc.ID
	ev.UserID = esc.ArtisanID
	ev.Amount = cmd.Amount
	ev.Meta["jalon_id"] = cmd.JalonID.String()
	return esc, []shared.Event{ev}, nil
}

// RefundCommand carries the inputs for refunding an escrow's remainder.
type RefundCommand struct {
	EscrowID    uuid.UUID
	DisputeID   uuid.UUID
	ClientPhone string
}

// RefundRemaining empties both buckets back to the client, typically on a
// dispute resolution. The dispute id keys the idempotency reference.
func (s *Service) RefundRemaining(ctx context.Context, cmd RefundCommand) (*Escrow, []shared.Event, error) {
	if cmd.DisputeID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: dispute id required", shared.ErrValidation)
	}
	reference := fmt.Sprintf("escrow-refund:%s", cmd.DisputeID)
	if _, err := s.ledger.FindByReference(ctx, reference); err == nil {
		return nil, nil, fmt.Errorf("%w: dispute %s already refunded", shared.ErrIdempotencyConflict, cmd.DisputeID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, nil, err
	}

	// The refund amount depends on the buckets, so each attempt re-reads the
	// escrow before touching the provider; a concurrent jeton issuance that
	// shrinks the materials bucket surfaces as a CAS conflict and the next
	// attempt refunds the smaller remainder. The reference keeps the
	// provider call idempotent across attempts.
	var (
		esc    *Escrow
		refund shared.Money
		result gateway.TransactionResult
	)
	err := s.withConcurrencyRetry(ctx, func() error {
		fresh, err := s.repo.FindByID(ctx, cmd.EscrowID)
		if err != nil {
			return err
		}
		amount, err := fresh.RefundRemaining()
		if err != nil {
			return err
		}
		res, err := s.gateway.RefundFunds(ctx, fresh.ClientID, cmd.ClientPhone, amount, reference)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%w: refund rejected: %s", shared.ErrGateway, res.ErrorMessage)
		}
		result = res
		if err := s.repo.Update(ctx, fresh); err != nil {
			return err
		}
		esc, refund = fresh, amount
		return nil
	})
	if err != nil {
		if result.ProviderTxID != "" {
			if !shared.IsBusinessRuleViolation(err) && !errors.Is(err, shared.ErrConcurrentModification) {
				err = shared.WrapPersistence(err, reference, result.ProviderTxID)
			}
			s.logger.Error("refund persist failed after gateway refund",
				slog.String("reference", reference),
				slog.String("provider_tx_id", result.ProviderTxID),
				slog.Any("error", err))
		}
		return nil, nil, err
	}

	tx := ledger.NewTransaction(esc.ClientID, ledger.KindRefund, refund, reference, result.ProviderTxID, ledger.TxPending)
	tx.EscrowID = esc.ID
	if err := s.ledger.Record(ctx, tx); err != nil {
		return nil, nil, shared.WrapPersistence(err, reference, result.ProviderTxID)
	}

	ev := shared.NewEvent(shared.EventEscrowRefunded)
	ev.EscrowID = esc.ID
	ev.UserID = esc.ClientID
	ev.Amount = refund
	ev.Meta["dispute_id"] = cmd.DisputeID.String()
	return esc, []shared.Event{ev}, nil
}

// Get loads an escrow by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: escrow id required", shared.ErrValidation)
	}
	return s.repo.FindByID(ctx, id)
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

func blockReference(devisID uuid.UUID) string {
	return fmt.Sprintf("escrow-block:%s", devisID)
}
