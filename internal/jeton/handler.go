package jeton

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

// Handler manages jeton endpoints.
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

// MountRoutes registers jeton routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.generate)
	r.Post("/validate", h.validateJeton)
	r.Get("/{id}", h.get)
}

type generateRequest struct {
	SequestreID    string   `json:"sequestre_id" validate:"required,uuid4"`
	ArtisanID      string   `json:"artisan_id" validate:"required,uuid4"`
	SupplierIDs    []string `json:"supplier_ids" validate:"required,min=1,dive,uuid4"`
	AmountCentimes int64    `json:"amount_centimes" validate:"omitempty,gt=0"`
	Currency       string   `json:"currency" validate:"omitempty,len=3"`
}

type jetonResponse struct {
	ID              string    `json:"id"`
	EscrowID        string    `json:"escrow_id"`
	ArtisanID       string    `json:"artisan_id"`
	Code            string    `json:"code,omitempty"`
	SupplierIDs     []string  `json:"supplier_ids"`
	TotalAmount     int64     `json:"total_amount_centimes"`
	RemainingAmount int64     `json:"remaining_amount_centimes"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func toJetonResponse(j *Jeton, includeCode bool) jetonResponse {
	suppliers := make([]string, 0, len(j.AuthorizedSuppliers))
	for _, id := range j.AuthorizedSuppliers {
		suppliers = append(suppliers, id.String())
	}
	resp := jetonResponse{
		ID:              j.ID.String(),
		EscrowID:        j.EscrowID.String(),
		ArtisanID:       j.ArtisanID.String(),
		SupplierIDs:     suppliers,
		TotalAmount:     j.Total.Amount,
		RemainingAmount: j.Remaining.Amount,
		Currency:        j.Total.Currency,
		Status:          string(j.Status),
		ExpiresAt:       j.ExpiresAt,
	}
	if includeCode {
		// The code is the bearer credential: it is returned once at issuance
		// and never on reads.
		resp.Code = j.Code
	}
	return resp
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body", "VALIDATION_FAILED")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "VALIDATION_FAILED")
		return
	}

	cmd := GenerateCommand{}
	var err error
	if cmd.EscrowID, err = shared.ParseID("sequestre_id", req.SequestreID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if cmd.ArtisanID, err = shared.ParseID("artisan_id", req.ArtisanID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	for _, raw := range req.SupplierIDs {
		id, err := shared.ParseID("supplier_ids", raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		cmd.SupplierIDs = append(cmd.SupplierIDs, id)
	}
	if req.AmountCentimes > 0 {
		currency := req.Currency
		if currency == "" {
			currency = shared.DefaultCurrency
		}
		if cmd.Amount, err = shared.NewMoney(req.AmountCentimes, currency); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	j, events, err := h.service.GenerateJeton(r.Context(), cmd)
	if err != nil {
		h.logger.Error("generate jeton", slog.Any("error", err), slog.String("sequestre_id", req.SequestreID))
		httpx.RespondError(w, err)
		return
	}
	h.publish(r, events)
	h.metrics.ObserveJetonIssued()

	httpx.JSON(w, http.StatusCreated, toJetonResponse(j, true))
}

type validateRequest struct {
	JetonCode        string  `json:"jeton_code" validate:"required"`
	FournisseurID    string  `json:"fournisseur_id" validate:"required,uuid4"`
	AmountCentimes   int64   `json:"amount_centimes" validate:"required,gt=0"`
	Currency         string  `json:"currency" validate:"omitempty,len=3"`
	ArtisanLat       float64 `json:"artisan_lat" validate:"min=-90,max=90"`
	ArtisanLng       float64 `json:"artisan_lng" validate:"min=-180,max=180"`
	ArtisanAccuracy  float64 `json:"artisan_accuracy_m" validate:"omitempty,gte=0"`
	SupplierLat      float64 `json:"supplier_lat" validate:"min=-90,max=90"`
	SupplierLng      float64 `json:"supplier_lng" validate:"min=-180,max=180"`
	SupplierAccuracy float64 `json:"supplier_accuracy_m" validate:"omitempty,gte=0"`
}

type validateResponse struct {
	ValidationID    string    `json:"validation_id"`
	JetonID         string    `json:"jeton_id"`
	AmountUsed      int64     `json:"amount_used_centimes"`
	RemainingAmount int64     `json:"remaining_amount_centimes"`
	Status          string    `json:"status"`
	ValidatedAt     time.Time `json:"validated_at"`
}

func (h *Handler) validateJeton(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body", "VALIDATION_FAILED")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "VALIDATION_FAILED")
		return
	}

	cmd := ValidateCommand{Code: req.JetonCode}
	var err error
	if cmd.FournisseurID, err = shared.ParseID("fournisseur_id", req.FournisseurID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = shared.DefaultCurrency
	}
	if cmd.Amount, err = shared.NewMoney(req.AmountCentimes, currency); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if cmd.ArtisanLoc, err = coords(req.ArtisanLat, req.ArtisanLng, req.ArtisanAccuracy); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if cmd.SupplierLoc, err = coords(req.SupplierLat, req.SupplierLng, req.SupplierAccuracy); err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, events, err := h.service.ValidateJeton(r.Context(), cmd)
	if err != nil {
		h.metrics.ObserveJetonValidation(shared.ErrorCode(err))
		h.logger.Error("validate jeton", slog.Any("error", err), slog.String("fournisseur_id", req.FournisseurID))
		httpx.RespondError(w, err)
		return
	}
	h.publish(r, events)
	h.metrics.ObserveJetonValidation("SUCCESS")

	httpx.JSON(w, http.StatusOK, validateResponse{
		ValidationID:    result.ValidationID.String(),
		JetonID:         result.JetonID.String(),
		AmountUsed:      result.AmountUsed.Amount,
		RemainingAmount: result.RemainingAmount.Amount,
		Status:          string(result.Status),
		ValidatedAt:     result.ValidatedAt,
	})
}

type validationResponse struct {
	ID             string    `json:"id"`
	FournisseurID  string    `json:"fournisseur_id"`
	AmountUsed     int64     `json:"amount_used_centimes"`
	DistanceMeters float64   `json:"distance_meters"`
	Status         string    `json:"status"`
	ValidatedAt    time.Time `json:"validated_at"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	j, validations, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	history := make([]validationResponse, 0, len(validations))
	for _, v := range validations {
		history = append(history, validationResponse{
			ID:             v.ID.String(),
			FournisseurID:  v.FournisseurID.String(),
			AmountUsed:     v.AmountUsed.Amount,
			DistanceMeters: v.DistanceMeters,
			Status:         v.Status,
			ValidatedAt:    v.ValidatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"jeton":       toJetonResponse(j, false),
		"validations": history,
	})
}

func coords(lat, lng, accuracy float64) (shared.Coordinates, error) {
	c, err := shared.NewCoordinates(lat, lng)
	if err != nil {
		return shared.Coordinates{}, err
	}
	if accuracy > 0 {
		return c.WithAccuracy(accuracy)
	}
	return c, nil
}

func (h *Handler) publish(r *http.Request, events []shared.Event) {
	if h.publisher == nil || len(events) == 0 {
		return
	}
	if err := h.publisher.Publish(r.Context(), events...); err != nil {
		h.logger.Warn("publish domain events", slog.Any("error", err))
	}
}
