package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Memory is an in-memory MobileMoneyGateway used by tests and local
// development. It honors reference idempotency: a repeated operation with a
// known reference returns the original result without a second movement.
type Memory struct {
	mu sync.Mutex

	secret     string
	nextFails  int
	operations map[string]TransactionResult
	statuses   map[string]TxStatus
}

// NewMemory builds the fake with the given webhook secret.
func NewMemory(secret string) *Memory {
	return &Memory{
		secret:     secret,
		operations: map[string]TransactionResult{},
		statuses:   map[string]TxStatus{},
	}
}

// FailNext makes the next n operations fail with a gateway error.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFails = n
}

// Calls returns how many distinct references were processed.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.operations)
}

func (m *Memory) execute(reference string) (TransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res, ok := m.operations[reference]; ok {
		return res, nil
	}
	if m.nextFails > 0 {
		m.nextFails--
		return TransactionResult{}, fmt.Errorf("%w: simulated provider outage", shared.ErrGateway)
	}
	res := TransactionResult{
		Success:      true,
		ProviderTxID: "MEM-" + uuid.NewString(),
	}
	m.operations[reference] = res
	m.statuses[res.ProviderTxID] = StatusSuccess
	return res, nil
}

// BlockFunds implements MobileMoneyGateway.
func (m *Memory) BlockFunds(_ context.Context, _ uuid.UUID, _ string, _ shared.Money, reference string) (TransactionResult, error) {
	return m.execute(reference)
}

// TransferFunds implements MobileMoneyGateway.
func (m *Memory) TransferFunds(_ context.Context, req TransferRequest) (TransactionResult, error) {
	return m.execute(req.Reference)
}

// RefundFunds implements MobileMoneyGateway.
func (m *Memory) RefundFunds(_ context.Context, _ uuid.UUID, _ string, _ shared.Money, reference string) (TransactionResult, error) {
	return m.execute(reference)
}

// CheckTransactionStatus implements MobileMoneyGateway.
func (m *Memory) CheckTransactionStatus(_ context.Context, providerTxID string) (TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[providerTxID]; ok {
		return status, nil
	}
	return StatusPending, nil
}

// SetStatus overrides a provider transaction status, for reconciliation tests.
func (m *Memory) SetStatus(providerTxID string, status TxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[providerTxID] = status
}

// VerifyWebhookSignature implements MobileMoneyGateway.
func (m *Memory) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign produces a valid webhook signature for payload, for tests.
func (m *Memory) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
