package handlers

import (
	"github.com/gorilla/mux"

	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// NewRouter wires the climate, documentation and metrics endpoints behind
// the request ID and instrumentation middleware.
func NewRouter(h *ClimateHandler, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID)
	router.Use(Instrument(logger, metricsCollector))

	router.Handle("/metrics", metricsCollector.Handler()).Methods("GET")
	RegisterDocsRoutes(router)
	h.RegisterRoutes(router)

	return router
}
