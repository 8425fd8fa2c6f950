package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

var t0 = time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC)

func arrival(stop, vehicle int64, at time.Time, predicted int64) arrivals.StoredArrival {
	return arrivals.StoredArrival{
		ObservedAt:       at,
		StopID:           stop,
		RouteID:          2045,
		VehicleID:        vehicle,
		PredictedMinutes: predicted,
	}
}

func TestMemoryStore_FindLatestEmpty(t *testing.T) {
	s := NewMemoryStore()

	_, found, err := s.FindLatest(context.Background(), 400075, 20120)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_FindLatestOrdersByTime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// inserted out of order
	for _, a := range []arrivals.StoredArrival{
		arrival(400075, 20120, t0.Add(2*time.Minute), 8),
		arrival(400075, 20120, t0, 10),
		arrival(400075, 20120, t0.Add(time.Minute), 9),
	} {
		inserted, err := s.Insert(ctx, a)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	latest, found, err := s.FindLatest(ctx, 400075, 20120)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(8), latest.PredictedMinutes)

	n, err := s.CountArrivals(ctx, 400075, 20120)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStore_InsertIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inserted, err := s.Insert(ctx, arrival(400075, 20120, t0, 10))
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := arrival(400075, 20120, t0.In(time.FixedZone("EEST", 3*60*60)), 4)
	inserted, err = s.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	latest, _, err := s.FindLatest(ctx, 400075, 20120)
	require.NoError(t, err)
	assert.Equal(t, int64(10), latest.PredictedMinutes)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ConcurrentInserts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := int64(0); v < 50; v++ {
				_, _ = s.Insert(ctx, arrival(400075, v, t0, 5))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
}

func TestMemoryStore_Runs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, found, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.RecordRun(ctx, arrivals.RunReport{Source: "oasa", StartedAt: t0}))
	require.NoError(t, s.RecordRun(ctx, arrivals.RunReport{Source: "gtfsrt", StartedAt: t0.Add(time.Minute)}))

	latest, found, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gtfsrt", latest.Source)
	assert.NotEmpty(t, latest.RunID)
}

func TestMemoryStore_DelayStats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpdateDelayStats(ctx, []metrics.DelayObservation{
		{RouteID: 2045, DelayMinutes: -3, ObservedAt: now},
		{RouteID: 2045, DelayMinutes: 1, ObservedAt: now},
	}))
	require.NoError(t, s.UpdateDelayStats(ctx, []metrics.DelayObservation{
		{RouteID: 2045, DelayMinutes: 2, ObservedAt: now},
		{RouteID: 1100, DelayMinutes: 0, ObservedAt: now.Add(-3 * time.Hour)},
	}))

	stats, err := s.GetHourlyDelayStats(ctx, 2045, 24)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].ObservationCount)
	assert.InDelta(t, 0.0, stats[0].MeanDelayMinutes, 1e-9)
	assert.Equal(t, 1, stats[0].LateCount)
	assert.Equal(t, 1, stats[0].EarlyCount)
	assert.Equal(t, int64(3), stats[0].MaxAbsDelay)

	all, err := s.GetHourlyDelayStats(ctx, 0, 24)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2045), all[0].RouteID, "newest bucket first")

	recent, err := s.GetHourlyDelayStats(ctx, 0, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestMemoryStore_CleanupKeepsArrivals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	_, err := s.Insert(ctx, arrival(400075, 20120, old, 10))
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(ctx, arrivals.RunReport{Source: "oasa", StartedAt: old}))
	require.NoError(t, s.UpdateDelayStats(ctx, []metrics.DelayObservation{
		{RouteID: 2045, DelayMinutes: 0, ObservedAt: old},
	}))

	require.NoError(t, s.Cleanup(ctx, 24*time.Hour))

	_, found, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	stats, err := s.GetHourlyDelayStats(ctx, 0, 72)
	require.NoError(t, err)
	assert.Empty(t, stats)

	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_InsertKeysOnWholeSeconds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inserted, err := s.Insert(ctx, arrival(400075, 20120, t0.Add(200*time.Millisecond), 10))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Insert(ctx, arrival(400075, 20120, t0.Add(900*time.Millisecond), 9))
	require.NoError(t, err)
	assert.False(t, inserted)

	latest, found, err := s.FindLatest(ctx, 400075, 20120)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, t0, latest.ObservedAt)
	assert.Equal(t, int64(10), latest.PredictedMinutes)
}
