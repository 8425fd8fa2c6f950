package arrivals

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalize converts raw observations into candidates, preserving order.
// Observations with a missing or non-integer vehicle id or prediction are dropped and
// reported as *ValidationError values in the second return; they never fail the batch.
func Normalize(raws []RawObservation) ([]Candidate, []error) {
	candidates := make([]Candidate, 0, len(raws))
	var rejected []error

	for _, raw := range raws {
		c, err := normalizeOne(raw)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		candidates = append(candidates, c)
	}

	return candidates, rejected
}

func normalizeOne(raw RawObservation) (Candidate, error) {
	if raw.StopID == 0 {
		return Candidate{}, &ValidationError{Field: "stop_id", Reason: "missing"}
	}
	if raw.RouteID == 0 {
		return Candidate{}, &ValidationError{Field: "route_id", Reason: "missing"}
	}

	vehicleID, err := parseInteger("vehicle_id", raw.VehicleID)
	if err != nil {
		return Candidate{}, err
	}
	predicted, err := parseInteger("predicted_minutes", raw.PredictedMinutes)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		StopID:           raw.StopID,
		RouteID:          raw.RouteID,
		VehicleID:        vehicleID,
		PredictedMinutes: predicted,
		ObservedAt:       NormalizeTime(raw.ObservedAt),
	}, nil
}

// NormalizeTime returns t in UTC truncated to whole seconds, the resolution rows are keyed on.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// parseInteger accepts base-10 integers and integral decimals such as "7.0".
func parseInteger(field, value string) (int64, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, &ValidationError{Field: field, Reason: "missing"}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	// plain decimal only; exponent and hex-float forms are not integers on the wire
	if strings.ContainsAny(s, "eEpPxX") {
		return 0, &ValidationError{Field: field, Value: value, Reason: "not an integer"}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ValidationError{Field: field, Value: value, Reason: "not an integer"}
	}
	if f != math.Trunc(f) {
		return 0, &ValidationError{Field: field, Value: value, Reason: "has a fractional part"}
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, &ValidationError{Field: field, Value: value, Reason: "out of range"}
	}
	return int64(f), nil
}
