package arrivals

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateAt(t0 time.Time, offset time.Duration, predicted int64) Candidate {
	return Candidate{
		StopID:           400075,
		RouteID:          2045,
		VehicleID:        20120,
		PredictedMinutes: predicted,
		ObservedAt:       t0.Add(offset),
	}
}

func priorAt(t0 time.Time, predicted int64) *StoredArrival {
	return &StoredArrival{
		ObservedAt:       t0,
		StopID:           400075,
		RouteID:          2045,
		VehicleID:        20120,
		PredictedMinutes: predicted,
	}
}

func TestComputeDelay_NoPrior(t *testing.T) {
	assert.Nil(t, ComputeDelay(candidateAt(observedAt, 0, 5), nil))
}

func TestComputeDelay(t *testing.T) {
	tests := []struct {
		name       string
		priorPred  int64
		candPred   int64
		elapsed    time.Duration
		wantMinute int64
	}{
		{name: "on schedule", priorPred: 10, candPred: 5, elapsed: 5 * time.Minute, wantMinute: 0},
		{name: "late", priorPred: 10, candPred: 9, elapsed: 5 * time.Minute, wantMinute: -4},
		{name: "on schedule after two minutes", priorPred: 10, candPred: 8, elapsed: 2 * time.Minute, wantMinute: 0},
		{name: "countdown frozen", priorPred: 10, candPred: 10, elapsed: 4 * time.Minute, wantMinute: -4},
		{name: "countdown jumped ahead", priorPred: 10, candPred: 5, elapsed: 2 * time.Minute, wantMinute: 3},
		{name: "same instant", priorPred: 7, candPred: 7, elapsed: 0, wantMinute: 0},
		{name: "half rounds down to even", priorPred: 5, candPred: 2, elapsed: 30 * time.Second, wantMinute: 2},
		{name: "half rounds up to even", priorPred: 6, candPred: 2, elapsed: 30 * time.Second, wantMinute: 4},
		{name: "negative half rounds to even", priorPred: 5, candPred: 5, elapsed: 150 * time.Second, wantMinute: -2},
		{name: "below half", priorPred: 10, candPred: 9, elapsed: 80 * time.Second, wantMinute: 0},
		{name: "candidate before prior", priorPred: 10, candPred: 12, elapsed: -2 * time.Minute, wantMinute: 0},
		{name: "prediction grew", priorPred: 3, candPred: 9, elapsed: time.Minute, wantMinute: -7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDelay(candidateAt(observedAt, tt.elapsed, tt.candPred), priorAt(observedAt, tt.priorPred))

			require.NotNil(t, got)
			assert.Equal(t, tt.wantMinute, *got)
		})
	}
}

func TestComputeDelay_LargeValues(t *testing.T) {
	prior := priorAt(observedAt, math.MaxInt32)
	c := candidateAt(observedAt, 24*time.Hour, -math.MaxInt32)

	got := ComputeDelay(c, prior)

	require.NotNil(t, got)
	assert.Equal(t, int64(2*math.MaxInt32-24*60), *got)
}

func TestComputeDelay_FullIntegerRange(t *testing.T) {
	tests := []struct {
		name      string
		priorPred int64
		candPred  int64
		elapsed   time.Duration
		want      int64
	}{
		{name: "above 2^53", priorPred: 1<<62 + 1, candPred: 1 << 62, want: 1},
		{name: "max int64 neighbours", priorPred: math.MaxInt64, candPred: math.MaxInt64 - 1, want: 1},
		{name: "drop of max int64", priorPred: math.MaxInt64, candPred: 0, want: math.MaxInt64},
		{name: "rise of max int64", priorPred: 0, candPred: math.MaxInt64, want: -math.MaxInt64},
		{name: "rise to min int64", priorPred: 0, candPred: math.MinInt64 + 1, want: math.MaxInt64},
		{name: "drop beyond int64 saturates", priorPred: math.MaxInt64, candPred: math.MinInt64, want: math.MaxInt64},
		{name: "rise beyond int64 saturates", priorPred: math.MinInt64, candPred: math.MaxInt64, want: math.MinInt64},
		{name: "max int64 minus elapsed", priorPred: math.MaxInt64, candPred: 0, elapsed: 3 * time.Minute, want: math.MaxInt64 - 3},
		{name: "min int64 with half tie", priorPred: math.MinInt64 + 1, candPred: 0, elapsed: 90 * time.Second, want: math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDelay(candidateAt(observedAt, tt.elapsed, tt.candPred), priorAt(observedAt, tt.priorPred))

			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestComputeDelay_SubSecondElapsed(t *testing.T) {
	// 30.5s elapsed with a drop of 1: 0.4917 rounds to 0, 29.5s gives 0.5083 and rounds to 1
	prior := priorAt(observedAt, 10)

	got := ComputeDelay(candidateAt(observedAt, 30500*time.Millisecond, 9), prior)
	require.NotNil(t, got)
	assert.Equal(t, int64(0), *got)

	got = ComputeDelay(candidateAt(observedAt, 29500*time.Millisecond, 9), prior)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), *got)
}

func TestCorrelate(t *testing.T) {
	c := candidateAt(observedAt, 3*time.Minute, 6)

	first := Correlate(c, nil)
	assert.Nil(t, first.DelayMinutes)
	assert.Equal(t, c.ObservedAt, first.ObservedAt)
	assert.Equal(t, c.RouteID, first.RouteID)
	assert.Equal(t, c.PredictedMinutes, first.PredictedMinutes)

	next := Correlate(c, priorAt(observedAt, 9))
	require.NotNil(t, next.DelayMinutes)
	assert.Equal(t, int64(0), *next.DelayMinutes)
	assert.Equal(t, Key{ObservedAt: c.ObservedAt, StopID: 400075, VehicleID: 20120}, next.Key())
}
