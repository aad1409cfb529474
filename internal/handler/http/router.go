package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/pkg/health"
	"github.com/utafrali/stockledger/pkg/middleware"
)

// ServiceName labels HTTP metrics and spans.
const ServiceName = "stock-ledger"

// AccessConfig limits who reaches the debug and operator endpoints.
type AccessConfig struct {
	// PprofCIDRs guards /debug/pprof; empty denies everyone.
	PprofCIDRs []string
	// OperatorCIDRs guards adjust, transfer, import, sync and reconcile;
	// empty leaves them open.
	OperatorCIDRs []string
	// CORSOrigins enables CORS for the listed origins; empty disables it.
	CORSOrigins []string
}

// NewRouter creates a chi router with all stock ledger routes registered.
func NewRouter(
	stockService *service.StockService,
	healthHandler *health.Handler,
	metrics *middleware.HTTPMetrics,
	access AccessConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(metrics.Middleware)
	if len(access.CORSOrigins) > 0 {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(access.CORSOrigins)))
	}

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, access.PprofCIDRs, logger)

	h := NewStockHandler(stockService, logger)

	r.Route("/api/v1/stock", func(r chi.Router) {
		// Queries
		r.Get("/products/{productId}/available", h.GetAvailableStock)
		r.Get("/products/{productId}/total", h.GetTotalStock)
		r.Get("/products/{productId}/inventory", h.GetProductInventory)
		r.Get("/products/{productId}/movements", h.ListMovements)
		r.Post("/check", h.CheckStockAvailability)
		r.Get("/low-stock", h.GetLowStockProducts)
		r.Get("/orders/{orderId}/reservations", h.ListOrderReservations)

		// Order flow
		r.Post("/reserve", h.ReserveStock)
		r.Post("/confirm", h.ConfirmSale)
		r.Post("/release", h.ReleaseReservation)
		r.Post("/direct-sale", h.DirectSale)

		// Operator endpoints
		r.Group(func(r chi.Router) {
			if len(access.OperatorCIDRs) > 0 {
				r.Use(middleware.IPAllowlist(access.OperatorCIDRs, logger))
			}
			r.Post("/adjust", h.AdjustStock)
			r.Post("/transfer", h.TransferStock)
			r.Post("/products/{productId}/sync", h.SyncProductStock)
			r.Post("/import", h.BulkImportStock)
			r.Post("/reconcile", h.ReconcileStockCache)
		})
	})

	return r
}
