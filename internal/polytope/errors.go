package polytope

import "errors"

// ErrNoInterior is returned when a region is empty, flat, or unbounded so that
// no Chebyshev centre with a positive finite radius exists.
var ErrNoInterior = errors.New("region has no interior")

// ValidationError represents a malformed region description.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid region: " + e.Field + " " + e.Reason
}
