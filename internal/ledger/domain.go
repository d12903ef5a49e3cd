// Package ledger keeps the durable transaction records behind every money
// movement: gateway blocks, jeton issues and redemptions, labor releases and
// refunds. Webhook reconciliation resolves their final status.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Kind enumerates transaction types.
type Kind string

const (
	KindEscrowBlock  Kind = "ESCROW_BLOCK"
	KindJetonIssue   Kind = "JETON_ISSUE"
	KindJetonRedeem  Kind = "JETON_REDEEM"
	KindLaborRelease Kind = "LABOR_RELEASE"
	KindRefund       Kind = "REFUND"
)

// TxStatus mirrors the normalized provider statuses.
type TxStatus string

const (
	TxPending TxStatus = "PENDING"
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

// Transaction is one financial movement.
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Kind         Kind
	Amount       shared.Money
	Reference    string
	ProviderTxID string
	Status       TxStatus
	EscrowID     uuid.UUID
	JetonID      uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewTransaction builds a transaction record.
func NewTransaction(userID uuid.UUID, kind Kind, amount shared.Money, reference, providerTxID string, status TxStatus) Transaction {
	now := time.Now()
	return Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		Reference:    reference,
		ProviderTxID: providerTxID,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HistoryRequest filters the transaction history query.
type HistoryRequest struct {
	UserID uuid.UUID
	Kind   Kind
	Page   int
	Limit  int
}

// History is a paginated slice of a user's transactions.
type History struct {
	Transactions []Transaction
	Pagination   shared.Pagination
}
