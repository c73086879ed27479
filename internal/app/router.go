package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/invoicing"
	"github.com/sealforge-erp/sealforge-erp/internal/observability"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/reports"
	"github.com/sealforge-erp/sealforge-erp/internal/settlement"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
	"github.com/sealforge-erp/sealforge-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	TreasuryHandler   *treasury.Handler
	InventoryHandler  *inventory.Handler
	PartiesHandler    *parties.Handler
	InvoicingHandler  *invoicing.Handler
	SettlementHandler *settlement.Handler
	ReportsHandler    *reports.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/treasury", params.TreasuryHandler.MountRoutes)
		r.Route("/raw-materials", params.InventoryHandler.MountRoutes)
		params.PartiesHandler.MountRoutes(r)
		params.InvoicingHandler.MountRoutes(r)
		params.SettlementHandler.MountRoutes(r)
		params.ReportsHandler.MountRoutes(r)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
