package querystate

import "github.com/goliatone/go-query-state/pkg/datemath"

// TimeRangeValidator decides whether a time range read from the container may
// be handed to the time service.
type TimeRangeValidator func(*TimeRange) bool

// ValidateTimeRange reports whether both bounds of tr parse as date math. A
// nil range is invalid. Bound ordering is not checked.
func ValidateTimeRange(tr *TimeRange) bool {
	if tr == nil {
		return false
	}
	if !datemath.IsValid(tr.From) {
		return false
	}
	return datemath.IsValid(tr.To)
}
