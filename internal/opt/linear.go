package opt

import (
	"errors"
	"fmt"
)

// LPStatus reports how a linear program terminated
type LPStatus int

const (
	StatusOptimal LPStatus = iota
	StatusInfeasible
	StatusUnbounded
	StatusFailed
)

func (s LPStatus) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("LPStatus(%d)", int(s))
	}
}

// LPResult is the outcome of a LinearSolver call.
// X and Value are only meaningful when Status is StatusOptimal.
type LPResult struct {
	Status LPStatus
	X      []float64
	Value  float64
	Err    error
}

// Success reports whether the solver reached a global optimum
func (r LPResult) Success() bool {
	return r.Status == StatusOptimal
}

// ErrDimensionMismatch is reported when objective, matrix and bound sizes disagree.
var ErrDimensionMismatch = errors.New("lp: dimension mismatch")

func failed(err error) LPResult {
	return LPResult{Status: StatusFailed, Err: err}
}
