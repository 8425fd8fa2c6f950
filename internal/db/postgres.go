package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresDB stores arrivals in PostgreSQL. Writers in separate processes are safe:
// the primary key on (observed_at, stop_id, vehicle_id) makes inserts idempotent.
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// ConnectPostgres opens a connection pool and verifies it
func ConnectPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresDB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL database")
	return &PostgresDB{pool: pool, logger: logger}, nil
}

// Close releases the pool
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks that the database is reachable
func (p *PostgresDB) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return arrivals.StoreError("ping", err)
	}
	return nil
}

// EnsureSchema creates tables if they don't exist
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	p.logger.Debug("database schema ensured")
	return nil
}

// FindLatest returns the most recent arrival for a stop and vehicle
func (p *PostgresDB) FindLatest(ctx context.Context, stopID, vehicleID int64) (arrivals.StoredArrival, bool, error) {
	var a arrivals.StoredArrival

	err := p.pool.QueryRow(ctx, `
		SELECT observed_at, stop_id, route_id, vehicle_id, predicted_minutes, delay_minutes
		FROM arrivals
		WHERE stop_id = $1 AND vehicle_id = $2
		ORDER BY observed_at DESC
		LIMIT 1
	`, stopID, vehicleID).Scan(&a.ObservedAt, &a.StopID, &a.RouteID, &a.VehicleID, &a.PredictedMinutes, &a.DelayMinutes)

	if errors.Is(err, pgx.ErrNoRows) {
		return arrivals.StoredArrival{}, false, nil
	}
	if err != nil {
		return arrivals.StoredArrival{}, false, arrivals.StoreError("query latest arrival", err)
	}

	a.ObservedAt = a.ObservedAt.UTC()
	return a, true, nil
}

// Insert writes the arrival unless a row with the same key already exists.
// ObservedAt is keyed at whole-second resolution.
func (p *PostgresDB) Insert(ctx context.Context, a arrivals.StoredArrival) (bool, error) {
	a.ObservedAt = arrivals.NormalizeTime(a.ObservedAt)
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO arrivals (observed_at, stop_id, route_id, vehicle_id, predicted_minutes, delay_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (observed_at, stop_id, vehicle_id) DO NOTHING
	`, a.ObservedAt, a.StopID, a.RouteID, a.VehicleID, a.PredictedMinutes, a.DelayMinutes)
	if err != nil {
		return false, arrivals.StoreError(fmt.Sprintf("insert arrival stop %d vehicle %d", a.StopID, a.VehicleID), err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountArrivals returns the number of rows stored for a stop and vehicle
func (p *PostgresDB) CountArrivals(ctx context.Context, stopID, vehicleID int64) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM arrivals WHERE stop_id = $1 AND vehicle_id = $2",
		stopID, vehicleID,
	).Scan(&n)
	if err != nil {
		return 0, arrivals.StoreError("count arrivals", err)
	}
	return n, nil
}

// RecordRun stores a poll run summary. A missing RunID gets a fresh UUID.
func (p *PostgresDB) RecordRun(ctx context.Context, report arrivals.RunReport) error {
	if report.RunID == "" {
		report.RunID = uuid.New().String()
	}

	var runErr *string
	if report.Error != "" {
		runErr = &report.Error
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO poll_runs (
			run_id, source, started_at, finished_at, pairs,
			fetched, validated, rejected, stored, duplicates, error
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO NOTHING
	`,
		report.RunID, report.Source, report.StartedAt.UTC(), report.FinishedAt.UTC(), report.Pairs,
		report.Fetched, report.Validated, report.Rejected, report.Stored, report.Duplicates, runErr,
	)
	if err != nil {
		return arrivals.StoreError("record run", err)
	}
	return nil
}

// LatestRun returns the most recently started run
func (p *PostgresDB) LatestRun(ctx context.Context) (arrivals.RunReport, bool, error) {
	var (
		r      arrivals.RunReport
		runErr *string
	)

	err := p.pool.QueryRow(ctx, `
		SELECT run_id::text, source, started_at, finished_at, pairs,
			fetched, validated, rejected, stored, duplicates, error
		FROM poll_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(
		&r.RunID, &r.Source, &r.StartedAt, &r.FinishedAt, &r.Pairs,
		&r.Fetched, &r.Validated, &r.Rejected, &r.Stored, &r.Duplicates, &runErr,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return arrivals.RunReport{}, false, nil
	}
	if err != nil {
		return arrivals.RunReport{}, false, arrivals.StoreError("query latest run", err)
	}

	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if runErr != nil {
		r.Error = *runErr
	}
	return r, true, nil
}

// UpdateDelayStats folds delay observations into hourly per-route stats
func (p *PostgresDB) UpdateDelayStats(ctx context.Context, observations []metrics.DelayObservation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return arrivals.StoreError("begin delay stats transaction", err)
	}
	defer tx.Rollback(ctx)

	for key, delays := range metrics.GroupByBucket(observations) {
		hour, err := time.Parse(time.RFC3339, key.HourBucket)
		if err != nil {
			return fmt.Errorf("failed to parse hour bucket %q: %w", key.HourBucket, err)
		}

		var bucket metrics.DelayBucket
		// FOR UPDATE keeps concurrent pollers from losing each other's observations.
		err = tx.QueryRow(ctx, `
			SELECT observation_count, delay_mean_minutes, delay_m2,
				late_count, early_count, on_time_count, max_abs_delay
			FROM stats_delay_hourly
			WHERE route_id = $1 AND hour_bucket = $2
			FOR UPDATE
		`, key.RouteID, hour).Scan(
			&bucket.Welford.Count, &bucket.Welford.Mean, &bucket.Welford.M2,
			&bucket.LateCount, &bucket.EarlyCount, &bucket.OnTimeCount, &bucket.MaxAbsDelay,
		)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return arrivals.StoreError(fmt.Sprintf("read delay stats for route %d", key.RouteID), err)
		}

		for _, d := range delays {
			bucket.Add(d)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO stats_delay_hourly (route_id, hour_bucket, observation_count,
				delay_mean_minutes, delay_m2, late_count, early_count, on_time_count, max_abs_delay)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (route_id, hour_bucket) DO UPDATE SET
				observation_count = EXCLUDED.observation_count,
				delay_mean_minutes = EXCLUDED.delay_mean_minutes,
				delay_m2 = EXCLUDED.delay_m2,
				late_count = EXCLUDED.late_count,
				early_count = EXCLUDED.early_count,
				on_time_count = EXCLUDED.on_time_count,
				max_abs_delay = EXCLUDED.max_abs_delay
		`, key.RouteID, hour, bucket.Welford.Count, bucket.Welford.Mean, bucket.Welford.M2,
			bucket.LateCount, bucket.EarlyCount, bucket.OnTimeCount, bucket.MaxAbsDelay)
		if err != nil {
			return arrivals.StoreError(fmt.Sprintf("upsert delay stats for route %d", key.RouteID), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return arrivals.StoreError("commit delay stats", err)
	}
	return nil
}

// GetHourlyDelayStats returns the hourly buckets of the last `hours` hours, newest first.
// A zero routeID returns every route.
func (p *PostgresDB) GetHourlyDelayStats(ctx context.Context, routeID int64, hours int) ([]metrics.DelayHourlyStat, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Truncate(time.Hour)

	rows, err := p.pool.Query(ctx, `
		SELECT route_id, hour_bucket, observation_count, delay_mean_minutes, delay_m2,
			late_count, early_count, on_time_count, max_abs_delay
		FROM stats_delay_hourly
		WHERE hour_bucket >= $1 AND ($2::bigint = 0 OR route_id = $2::bigint)
		ORDER BY hour_bucket DESC, route_id
	`, since, routeID)
	if err != nil {
		return nil, arrivals.StoreError("query delay stats", err)
	}
	defer rows.Close()

	var stats []metrics.DelayHourlyStat
	for rows.Next() {
		var (
			key    metrics.BucketKey
			hour   time.Time
			bucket metrics.DelayBucket
		)
		if err := rows.Scan(
			&key.RouteID, &hour, &bucket.Welford.Count, &bucket.Welford.Mean, &bucket.Welford.M2,
			&bucket.LateCount, &bucket.EarlyCount, &bucket.OnTimeCount, &bucket.MaxAbsDelay,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delay stats: %w", err)
		}
		key.HourBucket = metrics.HourBucket(hour)
		stats = append(stats, bucket.Stat(key))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delay stats rows: %w", err)
	}
	return stats, nil
}

// Cleanup deletes run reports and hourly stats older than the retention duration.
// The arrivals table is never pruned.
func (p *PostgresDB) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-retention)

	runs, err := p.pool.Exec(ctx, "DELETE FROM poll_runs WHERE started_at < $1", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup poll_runs: %w", err)
	}
	stats, err := p.pool.Exec(ctx, "DELETE FROM stats_delay_hourly WHERE hour_bucket < $1", cutoff.Truncate(time.Hour))
	if err != nil {
		return fmt.Errorf("failed to cleanup stats_delay_hourly: %w", err)
	}

	if deleted := runs.RowsAffected() + stats.RowsAffected(); deleted > 0 {
		p.logger.Info("cleanup deleted old records",
			slog.Int64("deleted", deleted),
			slog.Duration("retention", retention))
	}
	return nil
}
