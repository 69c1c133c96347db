package metrics

import (
	"errors"
	"fmt"
)

// Granularity is the time-bucket width for rollup queries.
type Granularity string

const (
	// None returns raw samples instead of rollups.
	None    Granularity = "none"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
	// Total collapses the whole range into a single group.
	Total Granularity = "total"
)

// ErrInvalidGranularity is returned for an unknown granularity token.
var ErrInvalidGranularity = errors.New("invalid granularity")

// ParseGranularity validates a granularity token. The empty string is valid
// and means "use the kind's default".
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "", None, Daily, Weekly, Monthly, Yearly, Total:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("parsing %q: %w", s, ErrInvalidGranularity)
}
