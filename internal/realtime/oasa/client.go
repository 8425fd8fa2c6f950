package oasa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
)

// consecutiveFailuresToTrip opens the breaker after this many failed fetches in a row
const consecutiveFailuresToTrip = 5

// Client fetches stop arrival predictions from the OASA telematics API
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "oasa"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oasa",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailuresToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
	}
}

// Name identifies the source in run reports
func (c *Client) Name() string {
	return "oasa"
}

// Arrivals returns the predictions for routeID at stopID, all stamped with the time of
// the fetch. Any failure is logged and yields no observations.
func (c *Client) Arrivals(ctx context.Context, stopID, routeID int64) []arrivals.RawObservation {
	observedAt := c.now()

	rows, err := c.FetchStopArrivals(ctx, stopID)
	if err != nil {
		c.logger.Warn("fetch failed, skipping pair",
			slog.Int64("stop_id", stopID),
			slog.Int64("route_id", routeID),
			slog.String("error", err.Error()))
		return nil
	}

	return FilterRoute(rows, stopID, routeID, observedAt)
}

// FilterRoute keeps the rows of routeID and converts them into raw observations
func FilterRoute(rows []ArrivalRow, stopID, routeID int64, observedAt time.Time) []arrivals.RawObservation {
	var out []arrivals.RawObservation
	for _, row := range rows {
		code, err := strconv.ParseInt(string(row.RouteCode), 10, 64)
		if err != nil || code != routeID {
			continue
		}
		out = append(out, arrivals.RawObservation{
			StopID:           stopID,
			RouteID:          routeID,
			VehicleID:        string(row.VehCode),
			PredictedMinutes: string(row.BTime2),
			ObservedAt:       observedAt,
		})
	}
	return out
}

// FetchStopArrivals calls getStopArrivals for one stop. A null body means no vehicles are due.
func (c *Client) FetchStopArrivals(ctx context.Context, stopID int64) ([]ArrivalRow, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := u.Query()
	q.Set("act", "getStopArrivals")
	q.Set("p1", strconv.FormatInt(stopID, 10))
	u.RawQuery = q.Encode()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, u.String())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("circuit breaker open: %w", err)
	}
	if err != nil {
		return nil, err
	}

	rows, ok := result.([]ArrivalRow)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result)
	}
	return rows, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]ArrivalRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch arrivals: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}

	var rows []ArrivalRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return rows, nil
}
