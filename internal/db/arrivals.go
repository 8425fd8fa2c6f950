package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
)

// FindLatest returns the most recent arrival for a stop and vehicle
func (db *DB) FindLatest(ctx context.Context, stopID, vehicleID int64) (arrivals.StoredArrival, bool, error) {
	var (
		a          arrivals.StoredArrival
		observedAt string
		delay      sql.NullInt64
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT observed_at_utc, stop_id, route_id, vehicle_id, predicted_minutes, delay_minutes
		FROM arrivals
		WHERE stop_id = ? AND vehicle_id = ?
		ORDER BY observed_at_utc DESC
		LIMIT 1
	`, stopID, vehicleID).Scan(&observedAt, &a.StopID, &a.RouteID, &a.VehicleID, &a.PredictedMinutes, &delay)

	if errors.Is(err, sql.ErrNoRows) {
		return arrivals.StoredArrival{}, false, nil
	}
	if err != nil {
		return arrivals.StoredArrival{}, false, arrivals.StoreError("query latest arrival", err)
	}

	a.ObservedAt, err = parseTime(observedAt)
	if err != nil {
		return arrivals.StoredArrival{}, false, err
	}
	if delay.Valid {
		d := delay.Int64
		a.DelayMinutes = &d
	}

	return a, true, nil
}

// Insert writes the arrival unless a row with the same key already exists.
// ObservedAt is keyed at whole-second resolution.
func (db *DB) Insert(ctx context.Context, a arrivals.StoredArrival) (bool, error) {
	a.ObservedAt = arrivals.NormalizeTime(a.ObservedAt)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO arrivals (
			observed_at_utc, stop_id, route_id, vehicle_id, predicted_minutes, delay_minutes
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (observed_at_utc, stop_id, vehicle_id) DO NOTHING
	`, formatTime(a.ObservedAt), a.StopID, a.RouteID, a.VehicleID, a.PredictedMinutes, nullInt64(a.DelayMinutes))
	if err != nil {
		return false, arrivals.StoreError(fmt.Sprintf("insert arrival stop %d vehicle %d", a.StopID, a.VehicleID), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, arrivals.StoreError("insert arrival", err)
	}
	return rows > 0, nil
}

// CountArrivals returns the number of rows stored for a stop and vehicle
func (db *DB) CountArrivals(ctx context.Context, stopID, vehicleID int64) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM arrivals WHERE stop_id = ? AND vehicle_id = ?",
		stopID, vehicleID,
	).Scan(&n)
	if err != nil {
		return 0, arrivals.StoreError("count arrivals", err)
	}
	return n, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
