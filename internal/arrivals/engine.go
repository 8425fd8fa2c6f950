package arrivals

import (
	"context"
	"fmt"
)

// Result summarises one Process call
type Result struct {
	Fetched    int
	Validated  int
	Rejected   int
	Stored     int
	Duplicates int

	// Arrivals holds the rows written by this call, in processing order.
	Arrivals []StoredArrival
	// Rejections holds one *ValidationError per dropped observation.
	Rejections []error
}

// Add accumulates r2 into r
func (r *Result) Add(r2 Result) {
	r.Fetched += r2.Fetched
	r.Validated += r2.Validated
	r.Rejected += r2.Rejected
	r.Stored += r2.Stored
	r.Duplicates += r2.Duplicates
	r.Arrivals = append(r.Arrivals, r2.Arrivals...)
	r.Rejections = append(r.Rejections, r2.Rejections...)
}

// Engine correlates observations against the store and persists them.
type Engine struct {
	store Store
}

// NewEngine creates an engine writing to store
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Process normalizes raws and handles the candidates one at a time: look up the prior
// row for (stop, vehicle), compute the delay, insert. Lookups and inserts are
// interleaved, so a row inserted earlier in the batch is the prior for a later
// observation of the same vehicle at the same stop.
//
// A store error stops processing and is returned together with the partial result.
func (e *Engine) Process(ctx context.Context, raws []RawObservation) (Result, error) {
	candidates, rejections := Normalize(raws)

	result := Result{
		Fetched:    len(raws),
		Validated:  len(candidates),
		Rejected:   len(rejections),
		Rejections: rejections,
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		prior, found, err := e.store.FindLatest(ctx, c.StopID, c.VehicleID)
		if err != nil {
			return result, fmt.Errorf("find latest for stop %d vehicle %d: %w", c.StopID, c.VehicleID, err)
		}

		var priorRef *StoredArrival
		if found {
			priorRef = &prior
		}

		arrival := Correlate(c, priorRef)
		inserted, err := e.store.Insert(ctx, arrival)
		if err != nil {
			return result, fmt.Errorf("insert stop %d vehicle %d: %w", c.StopID, c.VehicleID, err)
		}

		if !inserted {
			result.Duplicates++
			continue
		}
		result.Stored++
		result.Arrivals = append(result.Arrivals, arrival)
	}

	return result, nil
}
