package arrivals

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks failures of the persistence layer itself. A run that hits
// it stops inserting; rows written before the failure are kept.
var ErrStoreUnavailable = errors.New("arrivals store unavailable")

// ValidationError describes a raw observation that was dropped during normalization
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// StoreError wraps err so that errors.Is(result, ErrStoreUnavailable) holds.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
