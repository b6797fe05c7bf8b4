/*
errors.go - Error types for the billing engine

ERROR CATEGORIES:
  1. Validation errors - bad periods, price ordering violations
  2. Lookup errors - unknown station, settlement or price entry
  3. Store errors - concurrent full-collection overwrite

Missing data is NOT an error here. An absent meter reading or a period with
no covering price is modelled as decimal.NullDecimal / a zero sentinel so the
caller can render a dash or a warning badge.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a period string is not "YYYY-MM".
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrPriceOrdering is returned when a new price does not start strictly
	// after the latest entry of the schedule.
	ErrPriceOrdering = errors.New("price must start after the latest price")

	// ErrPriceOverlap is returned when a new price would start inside a closed interval.
	ErrPriceOverlap = errors.New("price interval overlaps an existing price")

	// ErrPriceNotFound is returned when no schedule entry starts at the given period.
	ErrPriceNotFound = errors.New("price entry not found")

	// ErrInvalidSchedule is returned by PriceSchedule.Validate.
	ErrInvalidSchedule = errors.New("invalid price schedule")

	ErrStationNotFound    = errors.New("station not found")
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrStationStartRequired is a programmer error: replay needs a start date.
	ErrStationStartRequired = errors.New("station start date is required")

	// ErrConcurrentModification is returned by VersionedStore.Commit when the
	// collections changed since the snapshot was taken.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// PriceOrderingError reports which entry blocked an AddPrice call.
type PriceOrderingError struct {
	Latest    Period
	Requested Period
}

func (e *PriceOrderingError) Error() string {
	return fmt.Sprintf("price starting %s must start after %s", e.Requested, e.Latest)
}

func (e *PriceOrderingError) Unwrap() error { return ErrPriceOrdering }

// ScheduleError points at the first entry violating the schedule invariants.
type ScheduleError struct {
	Index  int
	Reason string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("price schedule entry %d: %s", e.Index, e.Reason)
}

func (e *ScheduleError) Unwrap() error { return ErrInvalidSchedule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPriceOrdering) ||
		errors.Is(err, ErrPriceOverlap) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrStationStartRequired)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStationNotFound) ||
		errors.Is(err, ErrSettlementNotFound) ||
		errors.Is(err, ErrPriceNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
