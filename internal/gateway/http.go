package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// Config holds provider connection settings.
type Config struct {
	Provider      string
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// Client is an HTTP MobileMoneyGateway implementation speaking the
// aggregator JSON API. The reference travels as the Idempotency-Key header
// and in the body, so provider-side replays collapse onto one movement.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a provider client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type moneyPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type operationRequest struct {
	UserID    string       `json:"user_id"`
	Phone     string       `json:"phone"`
	ToUserID  string       `json:"to_user_id,omitempty"`
	ToPhone   string       `json:"to_phone,omitempty"`
	Money     moneyPayload `json:"money"`
	Reference string       `json:"reference"`
}

type operationResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// BlockFunds implements MobileMoneyGateway.
func (c *Client) BlockFunds(ctx context.Context, userID uuid.UUID, phone string, amount shared.Money, reference string) (TransactionResult, error) {
	return c.post(ctx, "/v1/holds", operationRequest{
		UserID:    userID.String(),
		Phone:     phone,
		Money:     moneyPayload{Amount: amount.Amount, Currency: amount.Currency},
		Reference: reference,
	})
}

// TransferFunds implements MobileMoneyGateway.
func (c *Client) TransferFunds(ctx context.Context, req TransferRequest) (TransactionResult, error) {
	return c.post(ctx, "/v1/transfers", operationRequest{
		UserID:    req.FromUser.String(),
		Phone:     req.FromPhone,
		ToUserID:  req.ToUser.String(),
		ToPhone:   req.ToPhone,
		Money:     moneyPayload{Amount: req.Amount.Amount, Currency: req.Amount.Currency},
		Reference: req.Reference,
	})
}

// RefundFunds implements MobileMoneyGateway.
func (c *Client) RefundFunds(ctx context.Context, userID uuid.UUID, phone string, amount shared.Money, reference string) (TransactionResult, error) {
	return c.post(ctx, "/v1/refunds", operationRequest{
		UserID:    userID.String(),
		Phone:     phone,
		Money:     moneyPayload{Amount: amount.Amount, Currency: amount.Currency},
		Reference: reference,
	})
}

// CheckTransactionStatus implements MobileMoneyGateway.
func (c *Client) CheckTransactionStatus(ctx context.Context, providerTxID string) (TxStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/transactions/"+providerTxID, nil)
	if err != nil {
		return StatusPending, fmt.Errorf("%w: build status request: %v", shared.ErrGateway, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusPending, fmt.Errorf("%w: %s status check: %v", shared.ErrGateway, c.cfg.Provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusPending, fmt.Errorf("%w: %s status check http %d", shared.ErrGateway, c.cfg.Provider, resp.StatusCode)
	}
	var body operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusPending, fmt.Errorf("%w: decode status response: %v", shared.ErrGateway, err)
	}
	switch body.Status {
	case "SUCCESS", "COMPLETED":
		return StatusSuccess, nil
	case "FAILED", "CANCELLED", "REJECTED":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature the provider
// attaches to callbacks.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) post(ctx context.Context, path string, payload operationRequest) (TransactionResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("%w: encode request: %v", shared.ErrGateway, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return TransactionResult{}, fmt.Errorf("%w: build request: %v", shared.ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Idempotency-Key", payload.Reference)

	resp, err := c.http.Do(req)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("%w: %s %s: %v", shared.ErrGateway, c.cfg.Provider, path, err)
	}
	defer resp.Body.Close()

	var decoded operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return TransactionResult{}, fmt.Errorf("%w: decode response: %v", shared.ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("gateway operation rejected",
			slog.String("provider", c.cfg.Provider),
			slog.String("path", path),
			slog.String("reference", payload.Reference),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", decoded.Message))
		return TransactionResult{
			Success:      false,
			ProviderTxID: decoded.TransactionID,
			ErrorMessage: decoded.Message,
		}, nil
	}

	return TransactionResult{
		Success:      true,
		ProviderTxID: decoded.TransactionID,
	}, nil
}
