package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

type vehicleKey struct {
	stopID    int64
	vehicleID int64
}

// MemoryStore is a concurrency-safe in-memory arrivals store. It backs tests and
// dry runs; nothing survives the process.
type MemoryStore struct {
	mu sync.RWMutex

	// key: (stop, vehicle), value: arrivals ordered by ObservedAt
	history map[vehicleKey][]arrivals.StoredArrival
	keys    map[arrivals.Key]struct{}

	runs  []arrivals.RunReport
	stats map[metrics.BucketKey]*metrics.DelayBucket
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[vehicleKey][]arrivals.StoredArrival),
		keys:    make(map[arrivals.Key]struct{}),
		stats:   make(map[metrics.BucketKey]*metrics.DelayBucket),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// FindLatest returns the most recent arrival for a stop and vehicle
func (s *MemoryStore) FindLatest(ctx context.Context, stopID, vehicleID int64) (arrivals.StoredArrival, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.history[vehicleKey{stopID, vehicleID}]
	if len(rows) == 0 {
		return arrivals.StoredArrival{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

// Insert appends the arrival unless its key is already present. ObservedAt is keyed at
// whole-second resolution.
func (s *MemoryStore) Insert(ctx context.Context, a arrivals.StoredArrival) (bool, error) {
	a.ObservedAt = arrivals.NormalizeTime(a.ObservedAt)
	key := a.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}

	vk := vehicleKey{a.StopID, a.VehicleID}
	rows := append(s.history[vk], a)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ObservedAt.Before(rows[j].ObservedAt)
	})
	s.history[vk] = rows

	return true, nil
}

// CountArrivals returns the number of rows stored for a stop and vehicle
func (s *MemoryStore) CountArrivals(ctx context.Context, stopID, vehicleID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history[vehicleKey{stopID, vehicleID}]), nil
}

// Len returns the total number of stored arrivals
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// RecordRun keeps a run summary
func (s *MemoryStore) RecordRun(ctx context.Context, report arrivals.RunReport) error {
	if report.RunID == "" {
		report.RunID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, report)
	return nil
}

// LatestRun returns the most recently started run
func (s *MemoryStore) LatestRun(ctx context.Context) (arrivals.RunReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return arrivals.RunReport{}, false, nil
	}
	latest := s.runs[0]
	for _, r := range s.runs[1:] {
		if !r.StartedAt.Before(latest.StartedAt) {
			latest = r
		}
	}
	return latest, true, nil
}

// UpdateDelayStats folds delay observations into hourly per-route stats
func (s *MemoryStore) UpdateDelayStats(ctx context.Context, observations []metrics.DelayObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, delays := range metrics.GroupByBucket(observations) {
		bucket, ok := s.stats[key]
		if !ok {
			bucket = &metrics.DelayBucket{}
			s.stats[key] = bucket
		}
		for _, d := range delays {
			bucket.Add(d)
		}
	}
	return nil
}

// GetHourlyDelayStats returns the hourly buckets of the last `hours` hours, newest first.
// A zero routeID returns every route.
func (s *MemoryStore) GetHourlyDelayStats(ctx context.Context, routeID int64, hours int) ([]metrics.DelayHourlyStat, error) {
	since := metrics.HourBucket(time.Now().Add(-time.Duration(hours) * time.Hour))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats []metrics.DelayHourlyStat
	for key, bucket := range s.stats {
		if key.HourBucket < since || (routeID != 0 && key.RouteID != routeID) {
			continue
		}
		stats = append(stats, bucket.Stat(key))
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].HourBucket != stats[j].HourBucket {
			return stats[i].HourBucket > stats[j].HourBucket
		}
		return stats[i].RouteID < stats[j].RouteID
	})
	return stats, nil
}

// Cleanup drops run reports and hourly stats older than the retention duration.
// Arrivals are never removed.
func (s *MemoryStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-retention)
	bucketCutoff := metrics.HourBucket(cutoff)

	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.runs[:0]
	for _, r := range s.runs {
		if !r.StartedAt.Before(cutoff) {
			runs = append(runs, r)
		}
	}
	s.runs = runs

	for key := range s.stats {
		if key.HourBucket < bucketCutoff {
			delete(s.stats, key)
		}
	}
	return nil
}
