package gtfsrt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

var observedAt = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func stopTimeUpdate(stopID string, arrival time.Time) *gtfs.TripUpdate_StopTimeUpdate {
	return &gtfs.TripUpdate_StopTimeUpdate{
		StopId:  proto.String(stopID),
		Arrival: &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(arrival.Unix())},
	}
}

func tripUpdate(id, routeID, vehicleID string, updates ...*gtfs.TripUpdate_StopTimeUpdate) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfs.TripUpdate{
			Trip:           &gtfs.TripDescriptor{RouteId: proto.String(routeID)},
			Vehicle:        &gtfs.VehicleDescriptor{Id: proto.String(vehicleID)},
			StopTimeUpdate: updates,
		},
	}
}

func testFeed() *gtfs.FeedMessage {
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			tripUpdate("t1", "2045", "10447",
				stopTimeUpdate("10000", observedAt.Add(2*time.Minute)),
				stopTimeUpdate("10001", observedAt.Add(5*time.Minute+30*time.Second)),
			),
			tripUpdate("t2", "1822", "20001", stopTimeUpdate("10001", observedAt.Add(3*time.Minute))),
			tripUpdate("t3", "2045", "10448", stopTimeUpdate("10001", observedAt.Add(-90*time.Second))),
			tripUpdate("t4", "2045", "10449", &gtfs.TripUpdate_StopTimeUpdate{StopId: proto.String("10001")}),
			{Id: proto.String("vp"), Vehicle: &gtfs.VehiclePosition{}},
		},
	}
}

func TestExtract(t *testing.T) {
	obs := Extract(testFeed(), 10001, 2045, observedAt)

	require.Len(t, obs, 2)
	assert.Equal(t, "10447", obs[0].VehicleID)
	assert.Equal(t, "5", obs[0].PredictedMinutes)
	assert.Equal(t, "10448", obs[1].VehicleID)
	assert.Equal(t, "-2", obs[1].PredictedMinutes)
	for _, o := range obs {
		assert.Equal(t, int64(10001), o.StopID)
		assert.Equal(t, int64(2045), o.RouteID)
		assert.Equal(t, observedAt, o.ObservedAt)
	}
}

func TestArrivalsFetchesFeedOncePerCycle(t *testing.T) {
	body, err := proto.Marshal(testFeed())
	require.NoError(t, err)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, time.Minute, nil)
	now := observedAt
	c.now = func() time.Time { return now }

	assert.Len(t, c.Arrivals(context.Background(), 10001, 2045), 2)
	assert.Len(t, c.Arrivals(context.Background(), 10000, 2045), 1)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(feedTTL)
	c.Arrivals(context.Background(), 10001, 2045)
	assert.Equal(t, int32(2), calls.Load())
}

func TestArrivalsSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a protobuf \xff\xff"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, time.Minute, nil)
	assert.Empty(t, c.Arrivals(context.Background(), 10001, 2045))

	down := NewClient("http://127.0.0.1:1/feed", 100*time.Millisecond, time.Minute, nil)
	assert.Empty(t, down.Arrivals(context.Background(), 10001, 2045))
}

func TestCacheTTL(t *testing.T) {
	assert.Equal(t, feedTTL, cacheTTL(time.Minute))
	assert.Equal(t, feedTTL, cacheTTL(0))
	assert.Equal(t, 5*time.Second, cacheTTL(10*time.Second))
}

func TestArrivalsRefetchesEveryShortPollInterval(t *testing.T) {
	body, err := proto.Marshal(testFeed())
	require.NoError(t, err)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 10*time.Second, nil)
	now := observedAt
	c.now = func() time.Time { return now }

	first := c.Arrivals(context.Background(), 10001, 2045)
	require.NotEmpty(t, first)

	// next poll run, well inside the default feed TTL
	now = now.Add(10 * time.Second)
	second := c.Arrivals(context.Background(), 10001, 2045)
	require.NotEmpty(t, second)

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, second[0].ObservedAt.After(first[0].ObservedAt))
}
