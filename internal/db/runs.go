package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
)

// RecordRun stores a poll run summary. A missing RunID gets a fresh UUID.
func (db *DB) RecordRun(ctx context.Context, report arrivals.RunReport) error {
	if report.RunID == "" {
		report.RunID = uuid.New().String()
	}

	var runErr *string
	if report.Error != "" {
		runErr = &report.Error
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO poll_runs (
			run_id, source, started_at_utc, finished_at_utc, pairs,
			fetched, validated, rejected, stored, duplicates, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID, report.Source, formatTime(report.StartedAt), formatTime(report.FinishedAt), report.Pairs,
		report.Fetched, report.Validated, report.Rejected, report.Stored, report.Duplicates, runErr,
	)
	if err != nil {
		return arrivals.StoreError("record run", err)
	}
	return nil
}

// LatestRun returns the most recently started run
func (db *DB) LatestRun(ctx context.Context) (arrivals.RunReport, bool, error) {
	var (
		r                 arrivals.RunReport
		started, finished string
		runErr            sql.NullString
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT run_id, source, started_at_utc, finished_at_utc, pairs,
			fetched, validated, rejected, stored, duplicates, error
		FROM poll_runs
		ORDER BY started_at_utc DESC
		LIMIT 1
	`).Scan(
		&r.RunID, &r.Source, &started, &finished, &r.Pairs,
		&r.Fetched, &r.Validated, &r.Rejected, &r.Stored, &r.Duplicates, &runErr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return arrivals.RunReport{}, false, nil
	}
	if err != nil {
		return arrivals.RunReport{}, false, arrivals.StoreError("query latest run", err)
	}

	if r.StartedAt, err = parseTime(started); err != nil {
		return arrivals.RunReport{}, false, err
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return arrivals.RunReport{}, false, err
	}
	r.Error = runErr.String

	return r, true, nil
}
