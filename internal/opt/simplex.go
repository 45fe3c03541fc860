package opt

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultSimplexTolerance is the pivot tolerance handed to gonum's simplex.
const DefaultSimplexTolerance = 1e-10

// Simplex solves inequality-form LPs with gonum's simplex method.
//
// The general form  max cᵀx  s.t.  a·x ≤ b  (x free) is converted with
// lp.Convert into standard form over [x⁺, x⁻, s] ≥ 0, so the solution is
// recovered as x = x⁺ − x⁻.
type Simplex struct {
	tol float64
}

// NewSimplex creates a simplex solver. tol <= 0 selects DefaultSimplexTolerance.
func NewSimplex(tol float64) *Simplex {
	if tol <= 0 {
		tol = DefaultSimplexTolerance
	}
	return &Simplex{tol: tol}
}

// Maximize implements LinearSolver
func (s *Simplex) Maximize(objective []float64, a mat.Matrix, b []float64) LPResult {
	if a == nil {
		return failed(fmt.Errorf("%w: nil constraint matrix", ErrDimensionMismatch))
	}
	m, n := a.Dims()
	if len(objective) != n {
		return failed(fmt.Errorf("%w: objective has %d entries, matrix has %d columns", ErrDimensionMismatch, len(objective), n))
	}
	if len(b) != m {
		return failed(fmt.Errorf("%w: bound has %d entries, matrix has %d rows", ErrDimensionMismatch, len(b), m))
	}
	for _, v := range objective {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return failed(fmt.Errorf("lp: objective is not finite"))
		}
	}

	// gonum minimizes, so negate the objective.
	c := make([]float64, n)
	floats.ScaleTo(c, -1, objective)

	cNew, aNew, bNew := lp.Convert(c, a, b, nil, nil)
	_, xNew, err := lp.Simplex(cNew, aNew, bNew, s.tol, nil)
	if err != nil {
		status := classify(err)
		slog.Debug("Simplex did not reach an optimum", "status", status, "error", err)
		return LPResult{Status: status, Err: err}
	}

	x := make([]float64, n)
	floats.SubTo(x, xNew[:n], xNew[n:2*n])

	return LPResult{
		Status: StatusOptimal,
		X:      x,
		Value:  floats.Dot(objective, x),
	}
}

func classify(err error) LPStatus {
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return StatusInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return StatusUnbounded
	default:
		return StatusFailed
	}
}
