package walk

import (
	"fmt"

	"github.com/cwbudde/polywalk/internal/opt"
)

// ErrInvalidRegion matches any *InvalidRegionError.
// Use errors.Is(err, ErrInvalidRegion) to check for this error.
var ErrInvalidRegion = &InvalidRegionError{}

// ErrInfeasibleOrUnbounded matches any *InfeasibleOrUnboundedError.
var ErrInfeasibleOrUnbounded = &InfeasibleOrUnboundedError{}

// InvalidRegionError is returned by Initialize when a region cannot be walked:
// it has no inequalities, or its interior point is not feasible.
type InvalidRegionError struct {
	Reason string
}

func (e *InvalidRegionError) Error() string {
	if e.Reason != "" {
		return "invalid region: " + e.Reason
	}
	return "invalid region"
}

func (e *InvalidRegionError) Is(target error) bool {
	_, ok := target.(*InvalidRegionError)
	return ok
}

// InfeasibleOrUnboundedError is returned by Step when the per-step linear
// program does not reach a global optimum. The walker state is unchanged.
type InfeasibleOrUnboundedError struct {
	Step      int
	Status    opt.LPStatus
	Direction []float64
	Err       error
}

func (e *InfeasibleOrUnboundedError) Error() string {
	msg := fmt.Sprintf("step %d: linear program %s", e.Step, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InfeasibleOrUnboundedError) Is(target error) bool {
	_, ok := target.(*InfeasibleOrUnboundedError)
	return ok
}

func (e *InfeasibleOrUnboundedError) Unwrap() error {
	return e.Err
}
