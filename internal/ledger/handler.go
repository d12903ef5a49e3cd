package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/platform/httpx"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// Handler manages transaction history endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transaction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.history)
}

type transactionResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount_centimes"`
	Currency     string    `json:"currency"`
	Reference    string    `json:"reference"`
	ProviderTxID string    `json:"provider_tx_id,omitempty"`
	Status       string    `json:"status"`
	EscrowID     string    `json:"escrow_id,omitempty"`
	JetonID      string    `json:"jeton_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.ParseID("user_id", r.URL.Query().Get("user_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.service.GetTransactionHistory(r.Context(), HistoryRequest{
		UserID: userID,
		Kind:   Kind(r.URL.Query().Get("type")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("transaction history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(history.Transactions))
	for _, t := range history.Transactions {
		resp := transactionResponse{
			ID:           t.ID.String(),
			Kind:         string(t.Kind),
			Amount:       t.Amount.Amount,
			Currency:     t.Amount.Currency,
			Reference:    t.Reference,
			ProviderTxID: t.ProviderTxID,
			Status:       string(t.Status),
			CreatedAt:    t.CreatedAt,
		}
		if t.EscrowID != uuid.Nil {
			resp.EscrowID = t.EscrowID.String()
		}
		if t.JetonID != uuid.Nil {
			resp.JetonID = t.JetonID.String()
		}
		out = append(out, resp)
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"transactions": out,
		"total":        history.Pagination.Total,
		"page":         history.Pagination.Page,
		"per_page":     history.Pagination.PerPage,
		"total_pages":  history.Pagination.TotalPages,
	})
}
