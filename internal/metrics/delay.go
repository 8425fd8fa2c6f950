package metrics

import (
	"time"
)

// OnTimeThresholdMinutes is the largest absolute delay still counted as on time
const OnTimeThresholdMinutes = 1

// DelayObservation is one computed delay, the input of the hourly aggregation
type DelayObservation struct {
	RouteID      int64
	DelayMinutes int64
	ObservedAt   time.Time
}

// HourBucket returns the RFC3339 start of the UTC hour containing t
func HourBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(time.RFC3339)
}

// BucketKey groups observations into per-route hourly rows
type BucketKey struct {
	RouteID    int64
	HourBucket string
}

// DelayBucket is the aggregate persisted for one route and hour
type DelayBucket struct {
	Welford     WelfordState
	LateCount   int
	EarlyCount  int
	OnTimeCount int
	MaxAbsDelay int64
}

// Add folds one delay into the bucket. Negative delays mean the vehicle lost time.
func (b *DelayBucket) Add(delayMinutes int64) {
	b.Welford.Update(float64(delayMinutes))

	abs := delayMinutes
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs <= OnTimeThresholdMinutes:
		b.OnTimeCount++
	case delayMinutes < 0:
		b.LateCount++
	default:
		b.EarlyCount++
	}
	if abs > b.MaxAbsDelay {
		b.MaxAbsDelay = abs
	}
}

// GroupByBucket splits observations by route and hour, keeping their order
func GroupByBucket(observations []DelayObservation) map[BucketKey][]int64 {
	groups := make(map[BucketKey][]int64)
	for _, obs := range observations {
		key := BucketKey{RouteID: obs.RouteID, HourBucket: HourBucket(obs.ObservedAt)}
		groups[key] = append(groups[key], obs.DelayMinutes)
	}
	return groups
}

// DelayHourlyStat is the read model of one hourly bucket
type DelayHourlyStat struct {
	RouteID          int64   `json:"routeId"`
	HourBucket       string  `json:"hourBucket"`
	ObservationCount int     `json:"observationCount"`
	MeanDelayMinutes float64 `json:"meanDelayMinutes"`
	StdDevMinutes    float64 `json:"stdDevMinutes"`
	OnTimePercent    float64 `json:"onTimePercent"`
	LateCount        int     `json:"lateCount"`
	EarlyCount       int     `json:"earlyCount"`
	MaxAbsDelay      int64   `json:"maxAbsDelayMinutes"`
}

// Stat converts a bucket into its read model
func (b DelayBucket) Stat(key BucketKey) DelayHourlyStat {
	stat := DelayHourlyStat{
		RouteID:          key.RouteID,
		HourBucket:       key.HourBucket,
		ObservationCount: b.Welford.Count,
		MeanDelayMinutes: b.Welford.Mean,
		StdDevMinutes:    b.Welford.StdDev(),
		LateCount:        b.LateCount,
		EarlyCount:       b.EarlyCount,
		MaxAbsDelay:      b.MaxAbsDelay,
	}
	if b.Welford.Count > 0 {
		stat.OnTimePercent = float64(b.OnTimeCount) * 100 / float64(b.Welford.Count)
	}
	return stat
}
