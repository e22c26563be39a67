package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"climate-api/internal/models"
	"climate-api/internal/services"
	"climate-api/pkg/database"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ClimateHandler handles climate API endpoints
type ClimateHandler struct {
	queries *services.QueryService
	health  HealthChecker
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClimateHandler creates a new climate handler
func NewClimateHandler(
	queries *services.QueryService,
	health HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ClimateHandler {
	return &ClimateHandler{
		queries: queries,
		health:  health,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned before the response was ready.
const statusClientClosedRequest = 499

// Route paths.
const (
	routePrecipitation = "/api/v1.0/precipitation"
	routeStations      = "/api/v1.0/station"
	routeTobs          = "/api/v1.0/tobs"
	routeStart         = "/api/v1.0/{start}"
	routeStartEnd      = "/api/v1.0/{start}/{end}"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Hawaii Climate API</title>
</head>
<body>
    <p>Welcome to the Hawaii Climate API! Available routes:</p>
    <p><a href="/api/v1.0/precipitation">/api/v1.0/precipitation</a> lists every precipitation measurement in the last 365 days of data.</p>
    <p><a href="/api/v1.0/station">/api/v1.0/station</a> lists every station.</p>
    <p><a href="/api/v1.0/tobs">/api/v1.0/tobs</a> lists the last 365 days of temperature observations for the most active station, {{.Station}}.</p>
    <p>/api/v1.0/start_date returns the min, max and average temperature from start_date (YYYY-MM-DD) onwards.</p>
    <p>/api/v1.0/start_date/end_date returns the min, max and average temperature between the two dates, inclusive.</p>
    <p><a href="/api/docs">/api/docs</a> has the OpenAPI documentation.</p>
</body>
</html>`))

// Welcome handles GET /
func (h *ClimateHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := welcomeTemplate.Execute(w, struct{ Station string }{h.queries.MostActiveStation()}); err != nil {
		h.logger.Error(r.Context(), "[API_WELCOME_ERROR] Failed to render welcome page", logging.Fields{}, err)
	}
}

// GetPrecipitation handles GET /api/v1.0/precipitation
func (h *ClimateHandler) GetPrecipitation(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queries.ListPrecipitation(r.Context())
	if err != nil {
		h.handleError(w, r, routePrecipitation, "failed to retrieve precipitation", err)
		return
	}
	h.sendJSON(w, entries, http.StatusOK)
}

// GetStations handles GET /api/v1.0/station
func (h *ClimateHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.queries.ListStations(r.Context())
	if err != nil {
		h.handleError(w, r, routeStations, "failed to retrieve stations", err)
		return
	}
	h.sendJSON(w, stations, http.StatusOK)
}

// GetTemperatureObservations handles GET /api/v1.0/tobs
func (h *ClimateHandler) GetTemperatureObservations(w http.ResponseWriter, r *http.Request) {
	observations, err := h.queries.ListTemperatureObservations(r.Context())
	if err != nil {
		h.handleError(w, r, routeTobs, "failed to retrieve temperature observations", err)
		return
	}
	h.sendJSON(w, observations, http.StatusOK)
}

// GetTemperatureStats handles GET /api/v1.0/{start}
func (h *ClimateHandler) GetTemperatureStats(w http.ResponseWriter, r *http.Request) {
	start := mux.Vars(r)["start"]

	stats, err := h.queries.TemperatureStats(r.Context(), start)
	if err != nil {
		h.handleError(w, r, routeStart, "failed to calculate temperature statistics", err)
		return
	}
	h.sendJSON(w, stats, http.StatusOK)
}

// GetTemperatureStatsRange handles GET /api/v1.0/{start}/{end}
func (h *ClimateHandler) GetTemperatureStatsRange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	stats, err := h.queries.TemperatureStatsRange(r.Context(), vars["start"], vars["end"])
	if err != nil {
		h.handleError(w, r, routeStartEnd, "failed to calculate temperature statistics", err)
		return
	}
	h.sendJSON(w, stats, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ClimateHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.health.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Database unreachable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "unhealthy"
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// handleError maps service errors to HTTP responses.
func (h *ClimateHandler) handleError(w http.ResponseWriter, r *http.Request, route, message string, err error) {
	ctx := r.Context()

	var (
		parseErr *models.ParseError
		connErr  *database.ConnectivityError
	)

	switch {
	case errors.As(err, &parseErr):
		h.metrics.RecordAPIError("invalid_date", route)
		h.sendError(w, parseErr.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNoMeasurements):
		h.metrics.RecordAPIError("no_data", route)
		h.sendError(w, "no measurements recorded", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		h.logger.Debug(ctx, "[API_REQUEST_CANCELED] Client closed request", logging.Fields{
			"route": route,
		})
		h.metrics.RecordAPIError("canceled", route)
		h.sendError(w, "request canceled", statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn(ctx, "[API_REQUEST_TIMEOUT] Request deadline exceeded", logging.Fields{
			"route": route,
		})
		h.metrics.RecordAPIError("timeout", route)
		h.sendError(w, "request timed out", http.StatusGatewayTimeout)
	case errors.As(err, &connErr):
		h.logger.Error(ctx, "[API_DB_UNAVAILABLE] Database unavailable", logging.Fields{
			"route": route,
			"op":    connErr.Op,
		}, err)
		h.metrics.RecordAPIError("db_unavailable", route)
		h.sendError(w, "database unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error(ctx, "[API_QUERY_ERROR] Query failed", logging.Fields{
			"route": route,
		}, err)
		h.metrics.RecordAPIError("internal_error", route)
		h.sendError(w, message, http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *ClimateHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ClimateHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	text := http.StatusText(statusCode)
	if statusCode == statusClientClosedRequest {
		text = "Client Closed Request"
	}
	response := ErrorResponse{
		Error:   text,
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all climate API routes. The fixed routes are
// registered before {start} so they are matched first.
func (h *ClimateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.Welcome).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc(routePrecipitation, h.GetPrecipitation).Methods("GET")
	router.HandleFunc(routeStations, h.GetStations).Methods("GET")
	router.HandleFunc(routeTobs, h.GetTemperatureObservations).Methods("GET")
	router.HandleFunc(routeStart, h.GetTemperatureStats).Methods("GET")
	router.HandleFunc(routeStartEnd, h.GetTemperatureStatsRange).Methods("GET")
}
