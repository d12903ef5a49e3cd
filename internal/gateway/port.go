// Package gateway abstracts the mobile-money providers (Wave, Orange, MTN)
// behind a single port. All operations are fallible network calls and are
// idempotent via the caller-supplied reference: repeating a block, transfer
// or refund with the same reference must not move money twice.
package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// TxStatus is the normalized provider transaction state.
type TxStatus string

const (
	StatusPending TxStatus = "PENDING"
	StatusSuccess TxStatus = "SUCCESS"
	StatusFailed  TxStatus = "FAILED"
)

// TransactionResult is the outcome of a provider money movement.
type TransactionResult struct {
	Success      bool
	ProviderTxID string
	ErrorMessage string
}

// TransferRequest carries both legs of a provider-to-provider transfer.
type TransferRequest struct {
	FromUser  uuid.UUID
	FromPhone string
	ToUser    uuid.UUID
	ToPhone   string
	Amount    shared.Money
	Reference string
}

// MobileMoneyGateway is the provider port consumed by the financial
// use-cases. Implementations must treat the reference as an idempotency key.
type MobileMoneyGateway interface {
	// BlockFunds places a hold on the client's mobile-money balance.
	BlockFunds(ctx context.Context, userID uuid.UUID, phone string, amount shared.Money, reference string) (TransactionResult, error)
	// TransferFunds moves previously blocked funds to a beneficiary.
	TransferFunds(ctx context.Context, req TransferRequest) (TransactionResult, error)
	// RefundFunds returns blocked funds to the client.
	RefundFunds(ctx context.Context, userID uuid.UUID, phone string, amount shared.Money, reference string) (TransactionResult, error)
	// CheckTransactionStatus resolves an ambiguous outcome by provider tx id.
	CheckTransactionStatus(ctx context.Context, providerTxID string) (TxStatus, error)
	// VerifyWebhookSignature authenticates a provider callback payload.
	VerifyWebhookSignature(payload []byte, signature string) bool
}
