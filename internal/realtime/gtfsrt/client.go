package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
)

// feedTTL bounds how long one fetched feed answers pair lookups, so a poll cycle
// over many stops downloads the feed once.
const feedTTL = 20 * time.Second

// cacheTTL keeps the feed for at most half a poll interval so the next run always
// fetches a new feed with a new observation timestamp.
func cacheTTL(pollInterval time.Duration) time.Duration {
	if pollInterval > 0 && pollInterval/2 < feedTTL {
		return pollInterval / 2
	}
	return feedTTL
}

// Client derives arrival predictions from a GTFS-Realtime TripUpdates feed
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	feed      *gtfs.FeedMessage
	fetchedAt time.Time
}

// NewClient creates a client for the TripUpdates feed at url, polled every pollInterval
func NewClient(url string, timeout, pollInterval time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "gtfsrt")),
		ttl:    cacheTTL(pollInterval),
		now:    time.Now,
	}
}

// Name identifies the source in run reports
func (c *Client) Name() string {
	return "gtfsrt"
}

// Arrivals returns one observation per trip on routeID with a predicted arrival at stopID.
// Failures are logged and yield no observations.
func (c *Client) Arrivals(ctx context.Context, stopID, routeID int64) []arrivals.RawObservation {
	feed, observedAt, err := c.currentFeed(ctx)
	if err != nil {
		c.logger.Warn("fetch failed, skipping pair",
			slog.Int64("stop_id", stopID),
			slog.Int64("route_id", routeID),
			slog.String("error", err.Error()))
		return nil
	}
	return Extract(feed, stopID, routeID, observedAt)
}

// Extract converts the TripUpdates of feed into raw observations for one pair.
// Predicted minutes are whole minutes until the arrival, rounded down.
func Extract(feed *gtfs.FeedMessage, stopID, routeID int64, observedAt time.Time) []arrivals.RawObservation {
	stop := strconv.FormatInt(stopID, 10)

	var out []arrivals.RawObservation
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		route, err := strconv.ParseInt(tu.GetTrip().GetRouteId(), 10, 64)
		if err != nil || route != routeID {
			continue
		}

		vehicleID := tu.GetVehicle().GetId()
		if vehicleID == "" {
			vehicleID = tu.GetVehicle().GetLabel()
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			if stu.GetStopId() != stop || stu.GetArrival() == nil || stu.GetArrival().Time == nil {
				continue
			}

			arrival := time.Unix(stu.GetArrival().GetTime(), 0)
			minutes := int64(math.Floor(arrival.Sub(observedAt).Minutes()))

			out = append(out, arrivals.RawObservation{
				StopID:           stopID,
				RouteID:          routeID,
				VehicleID:        vehicleID,
				PredictedMinutes: strconv.FormatInt(minutes, 10),
				ObservedAt:       observedAt,
			})
			break
		}
	}
	return out
}

func (c *Client) currentFeed(ctx context.Context) (*gtfs.FeedMessage, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.feed != nil && now.Sub(c.fetchedAt) < c.ttl {
		return c.feed, c.fetchedAt, nil
	}

	feed, err := c.fetchFeed(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	c.feed = feed
	c.fetchedAt = now
	return feed, now, nil
}

// fetchFeed fetches and decodes the GTFS-RT feed
func (c *Client) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}
	return feed, nil
}
