package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Registry routes money movements to the provider owning the payer's
// number. Ivorian operators keep fixed prefixes (07 Orange, 05 MTN) while
// Wave rides on any number, so Wave doubles as the fallback when no
// dedicated client is configured for a prefix.
type Registry struct {
	clients  map[string]MobileMoneyGateway
	fallback MobileMoneyGateway
}

// NewRegistry builds a Registry. The fallback provider handles every number
// no prefix rule claims and must be present in clients.
func NewRegistry(clients map[string]MobileMoneyGateway, fallbackProvider string) *Registry {
	return &Registry{clients: clients, fallback: clients[fallbackProvider]}
}

var prefixProviders = map[string]string{
	"07": "orange",
	"05": "mtn",
}

func (r *Registry) route(phone string) MobileMoneyGateway {
	local := strings.TrimPrefix(phone, "+225")
	for prefix, provider := range prefixProviders {
		if strings.HasPrefix(local, prefix) {
			if gw, ok := r.clients[provider]; ok {
				return gw
			}
		}
	}
	return r.fallback
}

func (r *Registry) BlockFunds(ctx context.Context, userID uuid.UUID, phone string, amount shared.Money, reference string) (TransactionResult, error) {
	return r.route(phone).BlockFunds(ctx, userID, phone, amount, reference)
}

// TransferFunds routes by the source wallet: blocked funds live with the
// payer's provider.
func (r *Registry) TransferFunds(ctx context.Context, req TransferRequest) (TransactionResult, error) {
	return r.route(req.FromPhone).TransferFunds(ctx, req)
}

func (r *Registry) RefundFunds(ctx context.Context, userID uuid.UUID, phone string, amount shared.Money, reference string) (TransactionResult, error) {
	return r.route(phone).RefundFunds(ctx, userID, phone, amount, reference)
}

// CheckTransactionStatus asks every configured provider in turn. The first
// terminal answer wins; providers that do not know the tx id answer with an
// error or PENDING, so a wrong-provider answer never masks the right one.
func (r *Registry) CheckTransactionStatus(ctx context.Context, providerTxID string) (TxStatus, error) {
	var (
		sawPending bool
		lastErr    error
	)
	for _, gw := range r.clients {
		status, err := gw.CheckTransactionStatus(ctx, providerTxID)
		if err != nil {
			lastErr = err
			continue
		}
		if status != StatusPending {
			return status, nil
		}
		sawPending = true
	}
	if sawPending {
		return StatusPending, nil
	}
	if lastErr == nil {
		lastErr = shared.ErrNotFound
	}
	return StatusPending, lastErr
}

// VerifyWebhookSignature delegates to the fallback provider. Webhook
// handlers verify per provider and should use the concrete client instead.
func (r *Registry) VerifyWebhookSignature(payload []byte, signature string) bool {
	return r.fallback.VerifyWebhookSignature(payload, signature)
}

var _ MobileMoneyGateway = (*Registry)(nil)
