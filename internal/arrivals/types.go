package arrivals

import (
	"context"
	"time"
)

// RawObservation is one arrival prediction as returned by an observation source.
// VehicleID and PredictedMinutes keep the text the API sent; an empty string means
// the field was missing from the payload.
type RawObservation struct {
	StopID           int64
	RouteID          int64
	VehicleID        string
	PredictedMinutes string
	ObservedAt       time.Time
}

// Candidate is a validated observation ready for delay computation
type Candidate struct {
	StopID           int64
	RouteID          int64
	VehicleID        int64
	PredictedMinutes int64
	ObservedAt       time.Time // UTC, whole seconds
}

// StoredArrival is a persisted observation. DelayMinutes is nil on the first
// sighting of a vehicle at a stop.
type StoredArrival struct {
	ObservedAt       time.Time
	StopID           int64
	RouteID          int64
	VehicleID        int64
	PredictedMinutes int64
	DelayMinutes     *int64
}

// Key identifies a stored row; no two rows share it.
type Key struct {
	ObservedAt time.Time
	StopID     int64
	VehicleID  int64
}

// Key returns the natural key of the arrival
func (a StoredArrival) Key() Key {
	return Key{ObservedAt: a.ObservedAt.UTC(), StopID: a.StopID, VehicleID: a.VehicleID}
}

// Store is the append-only arrivals relation.
type Store interface {
	// FindLatest returns the row with the greatest ObservedAt for (stopID, vehicleID).
	// The bool is false when no row exists.
	FindLatest(ctx context.Context, stopID, vehicleID int64) (StoredArrival, bool, error)

	// Insert adds the row unless its key already exists. It reports whether a row was
	// written; an existing key is not an error.
	Insert(ctx context.Context, arrival StoredArrival) (bool, error)
}
