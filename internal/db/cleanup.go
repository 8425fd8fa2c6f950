package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

// Cleanup deletes run reports and hourly stats older than the retention duration.
// The arrivals table is write-once and is never pruned.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-retention)

	queries := []struct {
		name  string
		query string
		arg   string
	}{
		{
			name:  "poll_runs",
			query: "DELETE FROM poll_runs WHERE started_at_utc < ?",
			arg:   formatTime(cutoff),
		},
		{
			name:  "stats_delay_hourly",
			query: "DELETE FROM stats_delay_hourly WHERE hour_bucket < ?",
			arg:   metrics.HourBucket(cutoff),
		},
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, q.arg)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		db.logger.Info("cleanup deleted old records",
			slog.Int("deleted", totalDeleted),
			slog.Duration("retention", retention))
	}

	return nil
}
