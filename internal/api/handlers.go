package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

// Repository defines the read operations the API serves
type Repository interface {
	Ping(ctx context.Context) error
	FindLatest(ctx context.Context, stopID, vehicleID int64) (arrivals.StoredArrival, bool, error)
	CountArrivals(ctx context.Context, stopID, vehicleID int64) (int, error)
	LatestRun(ctx context.Context) (arrivals.RunReport, bool, error)
	GetHourlyDelayStats(ctx context.Context, routeID int64, hours int) ([]metrics.DelayHourlyStat, error)
}

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// ArrivalResponse is the JSON response for GET /api/stops/{stopID}/vehicles/{vehicleID}/latest
type ArrivalResponse struct {
	ObservedAt       time.Time `json:"observedAt"`
	StopID           int64     `json:"stopId"`
	RouteID          int64     `json:"routeId"`
	VehicleID        int64     `json:"vehicleId"`
	PredictedMinutes int64     `json:"predictedMinutes"`
	DelayMinutes     *int64    `json:"delayMinutes"`
	Observations     int       `json:"observations"`
}

// DelayStatsResponse is the JSON response for GET /api/delays/stats
type DelayStatsResponse struct {
	Stats       []metrics.DelayHourlyStat `json:"stats"`
	Count       int                       `json:"count"`
	LastChecked time.Time                 `json:"lastChecked"`
}

// Handler serves the read API
type Handler struct {
	repo Repository
}

// NewHandler creates a new handler with the given repository
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

// GetLatestArrival handles GET /api/stops/{stopID}/vehicles/{vehicleID}/latest
func (h *Handler) GetLatestArrival(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stopID, err := strconv.ParseInt(chi.URLParam(r, "stopID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "stopID must be an integer"})
		return
	}
	vehicleID, err := strconv.ParseInt(chi.URLParam(r, "vehicleID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "vehicleID must be an integer"})
		return
	}

	latest, found, err := h.repo.FindLatest(ctx, stopID, vehicleID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get arrival"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No arrivals for this stop and vehicle"})
		return
	}

	count, err := h.repo.CountArrivals(ctx, stopID, vehicleID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to count arrivals"})
		return
	}

	writeJSON(w, http.StatusOK, ArrivalResponse{
		ObservedAt:       latest.ObservedAt,
		StopID:           latest.StopID,
		RouteID:          latest.RouteID,
		VehicleID:        latest.VehicleID,
		PredictedMinutes: latest.PredictedMinutes,
		DelayMinutes:     latest.DelayMinutes,
		Observations:     count,
	})
}

// GetDelayStats handles GET /api/delays/stats
// Query params: route_id (optional), period (optional, default "24h")
func (h *Handler) GetDelayStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var routeID int64
	if s := r.URL.Query().Get("route_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "route_id must be an integer"})
			return
		}
		routeID = id
	}

	// Support formats like "24h", "48h", "168h" (1 week)
	hours := 24
	if periodStr := r.URL.Query().Get("period"); len(periodStr) > 1 && periodStr[len(periodStr)-1] == 'h' {
		if n, err := strconv.Atoi(periodStr[:len(periodStr)-1]); err == nil && n > 0 && n <= 720 {
			hours = n
		}
	}

	stats, err := h.repo.GetHourlyDelayStats(ctx, routeID, hours)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get delay stats"})
		return
	}
	if stats == nil {
		stats = []metrics.DelayHourlyStat{}
	}

	writeJSON(w, http.StatusOK, DelayStatsResponse{
		Stats:       stats,
		Count:       len(stats),
		LastChecked: time.Now().UTC(),
	})
}

// GetLatestRun handles GET /api/runs/latest
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, found, err := h.repo.LatestRun(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get latest run"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No runs recorded"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
