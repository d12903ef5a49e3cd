package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/prosartisan/prosartisan/internal/gateway"
	"github.com/prosartisan/prosartisan/internal/jeton"
	jobmetrics "github.com/prosartisan/prosartisan/internal/jobs"
	"github.com/prosartisan/prosartisan/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// reconcileBatch bounds how many stale pending transactions one sweep polls.
const reconcileBatch = 50

// reconcileAfter is how long a transaction may stay pending before the sweep
// asks the provider directly instead of waiting for a webhook.
const reconcileAfter = 15 * time.Minute

// HandleDomainEventTask fans a domain event out to its subscribers. The
// notification integration is a log line until the SMS provider contract is
// signed; reputation and ledger consumers read the same payload.
func HandleDomainEventTask(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DomainEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("domain event dispatched",
			slog.String("event", payload.Name),
			slog.String("escrow_id", payload.EscrowID),
			slog.String("jeton_id", payload.JetonID),
			slog.Int64("amount_centimes", payload.Amount))
		return nil
	}
}

// JetonExpirer is the slice of the jeton repository the sweep uses.
type JetonExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// HandleJetonExpirySweep marks overdue ACTIVE jetons expired. Redemption
// checks expiry lazily, so the sweep only keeps listings and notifications
// honest.
func HandleJetonExpirySweep(repo JetonExpirer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := defaultJobMetrics.Track(TaskTypeJetonExpirySweep)
		expired, err := repo.ExpireDue(ctx)
		if err != nil {
			return tracker.End(err)
		}
		defaultJobMetrics.AddExpired(expired)
		if expired > 0 {
			logger.Info("jeton expiry sweep", slog.Int64("expired", expired))
		}
		return tracker.End(nil)
	}
}

// PendingLister is the slice of the ledger the reconciliation sweep reads.
type PendingLister interface {
	ListPendingByStatus(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Transaction, error)
	UpdateStatusByReference(ctx context.Context, reference, providerTxID string, status ledger.TxStatus) error
}

// HandleReconcilePending polls the provider for transactions stuck in
// PENDING past the webhook grace period. Provider errors leave the row
// pending for the next sweep; asynq's retry policy bounds the cadence.
func HandleReconcilePending(repo PendingLister, gw gateway.MobileMoneyGateway, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := defaultJobMetrics.Track(TaskTypeReconcilePending)
		stale, err := repo.ListPendingByStatus(ctx, time.Now().Add(-reconcileAfter), reconcileBatch)
		if err != nil {
			return tracker.End(err)
		}

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(5)
		for _, tx := range stale {
			g.Go(func() error {
				status, err := gw.CheckTransactionStatus(ctx, tx.ProviderTxID)
				if err != nil {
					logger.Warn("reconcile status check failed",
						slog.String("reference", tx.Reference),
						slog.String("provider_tx_id", tx.ProviderTxID),
						slog.Any("error", err))
					return nil
				}
				if status == gateway.StatusPending {
					return nil
				}
				resolved := ledger.TxSuccess
				if status == gateway.StatusFailed {
					resolved = ledger.TxFailed
				}
				if err := repo.UpdateStatusByReference(ctx, tx.Reference, tx.ProviderTxID, resolved); err != nil {
					logger.Error("reconcile update failed",
						slog.String("reference", tx.Reference),
						slog.Any("error", err))
					return nil
				}
				defaultJobMetrics.AddReconciled(string(resolved))
				logger.Info("transaction reconciled by poll",
					slog.String("reference", tx.Reference),
					slog.String("status", string(resolved)))
				return nil
			})
		}
		return tracker.End(g.Wait())
	}
}

var _ JetonExpirer = (*jeton.Repository)(nil)
var _ PendingLister = (*ledger.Repository)(nil)
