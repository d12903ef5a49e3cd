package escrow

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/prosartisan/prosartisan/internal/observability"
	"github.com/prosartisan/prosartisan/internal/platform/httpx"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// Handler manages escrow endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	publisher shared.Publisher
	validate  *validator.Validate
	metrics   *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, publisher shared.Publisher, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		publisher: publisher,
		validate:  validator.New(),
		metrics:   metrics,
	}
}

// MountRoutes registers escrow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.blockFunds)
	r.Get("/{id}", h.get)
	r.Post("/{id}/release-labor", h.releaseLabor)
	r.Post("/{id}/refund", h.refund)
}

type blockFundsRequest struct {
	MissionID           string `json:"mission_id" validate:"required,uuid4"`
	DevisID             string `json:"devis_id" validate:"required,uuid4"`
	ClientID            string `json:"client_id" validate:"required,uuid4"`
	ArtisanID           string `json:"artisan_id" validate:"required,uuid4"`
	ClientPhone         string `json:"client_phone" validate:"required,e164"`
	TotalAmountCentimes int64  `json:"total_amount_centimes" validate:"required,gt=0"`
	Currency            string `json:"currency" validate:"omitempty,len=3"`
}

type escrowResponse struct {
	ID                 string    `json:"id"`
	MissionID          string    `json:"mission_id"`
	ClientID           string    `json:"client_id"`
	ArtisanID          string    `json:"artisan_id"`
	TotalAmount        int64     `json:"total_amount_centimes"`
	MaterialsAmount    int64     `json:"materials_amount_centimes"`
	LaborAmount        int64     `json:"labor_amount_centimes"`
	RemainingMaterials int64     `json:"remaining_materials_centimes"`
	RemainingLabor     int64     `json:"remaining_labor_centimes"`
	Currency           string    `json:"currency"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

func toEscrowResponse(e *Escrow) escrowResponse {
	return escrowResponse{
		ID:                 e.ID.String(),
		MissionID:          e.MissionID.String(),
		ClientID:           e.ClientID.String(),
		ArtisanID:          e.ArtisanID.String(),
		TotalAmount:        e.Total.Amount,
		MaterialsAmount:    e.Materials.Amount,
		LaborAmount:        e.Labor.Amount,
		RemainingMaterials: e.RemainingMaterials.Amount,
		RemainingLabor:     e.RemainingLabor.Amount,
		Currency:           e.Total.Currency,
		Status:             string(e.Status),
		CreatedAt:          e.CreatedAt,
	}
}

func (h *Handler) blockFunds(w http.ResponseWriter, r *http.Request) {
	var req blockFundsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body", "VALIDATION_FAILED")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "VALIDATION_FAILED")
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = shared.DefaultCurrency
	}
	total, err := shared.NewMoney(req.TotalAmountCentimes, currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	cmd := BlockFundsCommand{ClientPhone: req.ClientPhone, Total: total}
	if cmd.MissionID, err = shared.ParseID("mission_id", req.MissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if cmd.DevisID, err = shared.ParseID("devis_id", req.DevisID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if cmd.ClientID, err = shared.ParseID("client_id", req.ClientID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if cmd.ArtisanID, err = shared.ParseID("artisan_id", req.ArtisanID); err != nil {
		httpx.RespondError(w, err)
		return
	}

	esc, events, err := h.service.BlockEscrowFunds(r.Context(), cmd)
	if err != nil {
		h.logger.Error("block escrow funds", slog.Any("error", err), slog.String("devis_id", req.DevisID))
		httpx.RespondError(w, err)
		return
	}
	h.publish(r, events)
	h.metrics.ObserveFundsBlocked(esc.Total.Amount)

	httpx.JSON(w, http.StatusCreated, toEscrowResponse(esc))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	esc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEscrowResponse(esc))
}

type releaseLaborRequest struct {
	JalonID        string `json:"jalon_id" validate:"required,uuid4"`
	ArtisanPhone   string `json:"artisan_phone" validate:"required,e164"`
	ClientPhone    string `json:"client_phone" validate:"required,e164"`
	AmountCentimes int64  `json:"amount_centimes" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
}

func (h *Handler) releaseLabor(w http.ResponseWriter, r *http.Request) {
	escrowID, err := shared.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req releaseLaborRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body", "VALIDATION_FAILED")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "VALIDATION_FAILED")
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = shared.DefaultCurrency
	}
	amount, err := shared.NewMoney(req.AmountCentimes, currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	jalonID, err := shared.ParseID("jalon_id", req.JalonID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	esc, events, err := h.service.ReleaseLabor(r.Context(), ReleaseLaborCommand{
		EscrowID:     escrowID,
		JalonID:      jalonID,
		ArtisanPhone: req.ArtisanPhone,
		ClientPhone:  req.ClientPhone,
		Amount:       amount,
	})
	if err != nil {
		h.logger.Error("release labor", slog.Any("error", err), slog.String("escrow_id", escrowID.String()))
		httpx.RespondError(w, err)
		return
	}
	h.publish(r, events)

	httpx.JSON(w, http.StatusOK, toEscrowResponse(esc))
}

type refundRequest struct {
	DisputeID   string `json:"dispute_id" validate:"required,uuid4"`
	ClientPhone string `json:"client_phone" validate:"required,e164"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	escrowID, err := shared.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body", "VALIDATION_FAILED")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "VALIDATION_FAILED")
		return
	}
	disputeID, err := shared.ParseID("dispute_id", req.DisputeID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	esc, events, err := h.service.RefundRemaining(r.Context(), RefundCommand{
		EscrowID:    escrowID,
		DisputeID:   disputeID,
		ClientPhone: req.ClientPhone,
	})
	if err != nil {
		h.logger.Error("refund escrow", slog.Any("error", err), slog.String("escrow_id", escrowID.String()))
		httpx.RespondError(w, err)
		return
	}
	h.publish(r, events)

	httpx.JSON(w, http.StatusOK, toEscrowResponse(esc))
}

// publish delivers the events returned by the service. Bus failures are
// logged, never surfaced: the financial state already committed.
func (h *Handler) publish(r *http.Request, events []shared.Event) {
	if h.publisher == nil || len(events) == 0 {
		return
	}
	if err := h.publisher.Publish(r.Context(), events...); err != nil {
		h.logger.Warn("publish domain events", slog.Any("error", err))
	}
}
