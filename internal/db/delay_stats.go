package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

// UpdateDelayStats folds delay observations into hourly per-route stats using Welford's algorithm
func (db *DB) UpdateDelayStats(ctx context.Context, observations []metrics.DelayObservation) error {
	if len(observations) == 0 {
		return nil
	}

	groups := metrics.GroupByBucket(observations)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return arrivals.StoreError("begin delay stats transaction", err)
	}
	defer tx.Rollback()

	for key, delays := range groups {
		var bucket metrics.DelayBucket

		err := tx.QueryRowContext(ctx, `
			SELECT observation_count, delay_mean_minutes, delay_m2,
				late_count, early_count, on_time_count, max_abs_delay
			FROM stats_delay_hourly
			WHERE route_id = ? AND hour_bucket = ?
		`, key.RouteID, key.HourBucket).Scan(
			&bucket.Welford.Count, &bucket.Welford.Mean, &bucket.Welford.M2,
			&bucket.LateCount, &bucket.EarlyCount, &bucket.OnTimeCount, &bucket.MaxAbsDelay,
		)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return arrivals.StoreError(fmt.Sprintf("read delay stats for route %d", key.RouteID), err)
		}

		for _, d := range delays {
			bucket.Add(d)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stats_delay_hourly (route_id, hour_bucket, observation_count,
				delay_mean_minutes, delay_m2, late_count, early_count, on_time_count, max_abs_delay)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (route_id, hour_bucket) DO UPDATE SET
				observation_count = excluded.observation_count,
				delay_mean_minutes = excluded.delay_mean_minutes,
				delay_m2 = excluded.delay_m2,
				late_count = excluded.late_count,
				early_count = excluded.early_count,
				on_time_count = excluded.on_time_count,
				max_abs_delay = excluded.max_abs_delay
		`, key.RouteID, key.HourBucket, bucket.Welford.Count, bucket.Welford.Mean, bucket.Welford.M2,
			bucket.LateCount, bucket.EarlyCount, bucket.OnTimeCount, bucket.MaxAbsDelay)
		if err != nil {
			return arrivals.StoreError(fmt.Sprintf("upsert delay stats for route %d", key.RouteID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return arrivals.StoreError("commit delay stats", err)
	}
	return nil
}

// GetHourlyDelayStats returns the hourly buckets of the last `hours` hours, newest first.
// A zero routeID returns every route.
func (db *DB) GetHourlyDelayStats(ctx context.Context, routeID int64, hours int) ([]metrics.DelayHourlyStat, error) {
	since := metrics.HourBucket(time.Now().Add(-time.Duration(hours) * time.Hour))

	rows, err := db.conn.QueryContext(ctx, `
		SELECT route_id, hour_bucket, observation_count, delay_mean_minutes, delay_m2,
			late_count, early_count, on_time_count, max_abs_delay
		FROM stats_delay_hourly
		WHERE hour_bucket >= ? AND (? = 0 OR route_id = ?)
		ORDER BY hour_bucket DESC, route_id
	`, since, routeID, routeID)
	if err != nil {
		return nil, arrivals.StoreError("query delay stats", err)
	}
	defer rows.Close()

	var stats []metrics.DelayHourlyStat
	for rows.Next() {
		var (
			key    metrics.BucketKey
			bucket metrics.DelayBucket
		)
		if err := rows.Scan(
			&key.RouteID, &key.HourBucket, &bucket.Welford.Count, &bucket.Welford.Mean, &bucket.Welford.M2,
			&bucket.LateCount, &bucket.EarlyCount, &bucket.OnTimeCount, &bucket.MaxAbsDelay,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delay stats: %w", err)
		}
		stats = append(stats, bucket.Stat(key))
	}

	return stats, rows.Err()
}
