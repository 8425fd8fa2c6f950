package api

import (
	"context"
	"net/http"
	"time"
)

// Freshness statuses
const (
	FreshnessFresh       = "fresh"       // < 2min
	FreshnessStale       = "stale"       // 2min - 10min
	FreshnessUnavailable = "unavailable" // > 10min, failed run or no runs
)

// DataFreshnessResponse is the JSON response for GET /api/health/data
type DataFreshnessResponse struct {
	LastRunID     string     `json:"lastRunId,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt"`
	AgeSeconds    int        `json:"ageSeconds"`
	Status        string     `json:"status"`
	LastRunStored int        `json:"lastRunStored"`
	LastRunError  string     `json:"lastRunError,omitempty"`
	LastChecked   time.Time  `json:"lastChecked"`
}

// CalculateFreshnessStatus returns the freshness status based on the age of the last run
func CalculateFreshnessStatus(ageSeconds int) string {
	if ageSeconds < 0 {
		return FreshnessUnavailable
	}
	if ageSeconds < 120 {
		return FreshnessFresh
	}
	if ageSeconds < 600 {
		return FreshnessStale
	}
	return FreshnessUnavailable
}

// GetDataFreshness handles GET /api/health/data
func (h *Handler) GetDataFreshness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	run, found, err := h.repo.LatestRun(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get data freshness"})
		return
	}

	resp := DataFreshnessResponse{
		AgeSeconds:  -1,
		Status:      FreshnessUnavailable,
		LastChecked: now,
	}
	if found {
		finished := run.FinishedAt
		resp.LastRunID = run.RunID
		resp.LastRunAt = &finished
		resp.LastRunStored = run.Stored
		resp.LastRunError = run.Error
		resp.AgeSeconds = int(now.Sub(finished).Seconds())
		resp.Status = CalculateFreshnessStatus(resp.AgeSeconds)
		if run.Error != "" {
			resp.Status = FreshnessUnavailable
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
