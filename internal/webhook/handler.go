// Package webhook consumes mobile-money provider callbacks and reconciles
// them against the transaction ledger. Deliveries are authenticated by HMAC
// signature, deduplicated in Redis, and processed idempotently: replays and
// out-of-order arrivals cannot corrupt transaction state.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/prosartisan/prosartisan/internal/gateway"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/observability"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// dedupTTL bounds how long a processed delivery id is remembered.
const dedupTTL = 48 * time.Hour

// maxBodyBytes caps webhook payload size.
const maxBodyBytes = 1 << 16

// LedgerPort is the reconciliation surface of the ledger.
type LedgerPort interface {
	UpdateStatusByReference(ctx context.Context, reference, providerTxID string, status ledger.TxStatus) error
	RecordDiscrepancy(ctx context.Context, d ledger.Discrepancy) error
}

// Verifier authenticates a provider payload.
type Verifier interface {
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// Handler reconciles provider callbacks. One Verifier per provider name.
type Handler struct {
	logger    *slog.Logger
	ledger    LedgerPort
	verifiers map[string]Verifier
	rdb       *redis.Client
	metrics   *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, ledgerRepo LedgerPort, verifiers map[string]Verifier, rdb *redis.Client, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		ledger:    ledgerRepo,
		verifiers: verifiers,
		rdb:       rdb,
		metrics:   metrics,
	}
}

// MountRoutes registers the webhook route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{provider}", h.receive)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	verifier, ok := h.verifiers[provider]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" || !verifier.VerifyWebhookSignature(body, signature) {
		h.logger.Warn("webhook signature rejected", slog.String("provider", provider))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := normalize(provider, body)
	if err != nil {
		h.logger.Warn("webhook payload rejected", slog.String("provider", provider), slog.Any("error", err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	// Providers redeliver aggressively; remember processed delivery ids so a
	// replay is acknowledged without touching the ledger again.
	if event.DeliveryID != "" {
		set, err := h.rdb.SetNX(r.Context(), dedupKey(provider, event.DeliveryID), 1, dedupTTL).Result()
		if err != nil {
			h.logger.Warn("webhook dedup check failed", slog.String("provider", provider), slog.Any("error", err))
		} else if !set {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if err := h.ledger.UpdateStatusByReference(r.Context(), event.Reference, event.ProviderTxID, event.Status); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Money moved at the provider with no matching domain record.
			// Record the discrepancy for reconciliation; never drop it.
			h.metrics.ObserveDiscrepancy(provider)
			h.logger.Error("webhook reference has no domain record",
				slog.String("provider", provider),
				slog.String("reference", event.Reference),
				slog.String("provider_tx_id", event.ProviderTxID),
				slog.String("status", string(event.Status)))
			if derr := h.ledger.RecordDiscrepancy(r.Context(), ledger.NewDiscrepancy(provider, event.Reference, event.ProviderTxID, event.Status, body)); derr != nil {
				h.logger.Error("record discrepancy failed", slog.Any("error", derr))
				http.Error(w, "reconciliation failed", http.StatusInternalServerError)
				return
			}
			// Acknowledge: redelivery would only duplicate the discrepancy.
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("webhook reconciliation failed",
			slog.String("provider", provider),
			slog.String("reference", event.Reference),
			slog.Any("error", err))
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("transaction reconciled",
		slog.String("provider", provider),
		slog.String("reference", event.Reference),
		slog.String("status", string(event.Status)))
	w.WriteHeader(http.StatusOK)
}

func dedupKey(provider, deliveryID string) string {
	return "webhook:seen:" + provider + ":" + deliveryID
}

// VerifierFor adapts a gateway client into the per-provider verifier map.
func VerifierFor(clients map[string]gateway.MobileMoneyGateway) map[string]Verifier {
	out := make(map[string]Verifier, len(clients))
	for name, c := range clients {
		out[name] = c
	}
	return out
}
