package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/prosartisan/prosartisan/internal/escrow"
	"github.com/prosartisan/prosartisan/internal/jeton"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/observability"
	"github.com/prosartisan/prosartisan/internal/webhook"
	"github.com/prosartisan/prosartisan/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	EscrowHandler  *escrow.Handler
	JetonHandler   *jeton.Handler
	LedgerHandler  *ledger.Handler
	WebhookHandler *webhook.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with ProSartisan defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/escrows", params.EscrowHandler.MountRoutes)
		r.Route("/jetons", params.JetonHandler.MountRoutes)
		r.Route("/transactions", params.LedgerHandler.MountRoutes)
	})

	// Provider callbacks carry their own HMAC authentication and stay
	// outside the /api/v1 surface.
	if params.WebhookHandler != nil {
		r.Route("/webhooks/mobile-money", params.WebhookHandler.MountRoutes)
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
