package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prosartisan/prosartisan/internal/ledger"
)

// Event is a provider callback normalized to the fields reconciliation
// needs. Provider wire formats stay inside this file.
type Event struct {
	DeliveryID   string
	Reference    string
	ProviderTxID string
	Status       ledger.TxStatus
}

// wavePayload: Wave wraps everything in an event envelope.
type wavePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ClientReference string `json:"client_reference"`
		TransactionID   string `json:"transaction_id"`
		PaymentStatus   string `json:"payment_status"`
	} `json:"data"`
}

// orangePayload: Orange Money posts a flat notification.
type orangePayload struct {
	NotifToken string `json:"notif_token"`
	OrderID    string `json:"order_id"`
	TxnID      string `json:"txnid"`
	Status     string `json:"status"`
}

// mtnPayload: MTN MoMo posts the transaction resource itself.
type mtnPayload struct {
	ExternalID             string `json:"externalId"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Status                 string `json:"status"`
	Reason                 string `json:"reason"`
}

// normalize maps a raw provider payload to an Event.
func normalize(provider string, body []byte) (Event, error) {
	switch provider {
	case "wave":
		var p wavePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("wave payload: %w", err)
		}
		if p.Data.ClientReference == "" {
			return Event{}, fmt.Errorf("wave payload: missing client_reference")
		}
		return Event{
			DeliveryID:   p.ID,
			Reference:    p.Data.ClientReference,
			ProviderTxID: p.Data.TransactionID,
			Status:       mapStatus(p.Data.PaymentStatus),
		}, nil
	case "orange":
		var p orangePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("orange payload: %w", err)
		}
		if p.OrderID == "" {
			return Event{}, fmt.Errorf("orange payload: missing order_id")
		}
		return Event{
			DeliveryID:   p.NotifToken,
			Reference:    p.OrderID,
			ProviderTxID: p.TxnID,
			Status:       mapStatus(p.Status),
		}, nil
	case "mtn":
		var p mtnPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("mtn payload: %w", err)
		}
		if p.ExternalID == "" {
			return Event{}, fmt.Errorf("mtn payload: missing externalId")
		}
		return Event{
			DeliveryID:   p.FinancialTransactionID,
			Reference:    p.ExternalID,
			ProviderTxID: p.FinancialTransactionID,
			Status:       mapStatus(p.Status),
		}, nil
	default:
		return Event{}, fmt.Errorf("unsupported provider %q", provider)
	}
}

func mapStatus(raw string) ledger.TxStatus {
	switch strings.ToUpper(raw) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED", "SUCCEEDED":
		return ledger.TxSuccess
	case "FAILED", "FAILURE", "CANCELLED", "REJECTED", "EXPIRED":
		return ledger.TxFailed
	default:
		return ledger.TxPending
	}
}
