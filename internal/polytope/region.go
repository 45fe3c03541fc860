// Package polytope describes convex regions of configuration space as
// systems of linear inequalities A·q ≤ b together with an interior point.
package polytope

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the feasibility slack accepted by Contains callers.
const DefaultTolerance = 1e-6

// Region is an immutable convex polytope {q : A·q ≤ b} with a known interior
// point. A region may carry zero inequalities; consumers that need a bounded
// region reject it.
type Region struct {
	name   string
	a      *mat.Dense // nil when there are no inequalities
	b      []float64
	center []float64
}

// NewRegion builds a region from row-major inequality rows.
// Every row must have len(center) entries and len(b) must equal len(rows).
func NewRegion(rows [][]float64, b, center []float64) (*Region, error) {
	n := len(center)
	if n == 0 {
		return nil, &ValidationError{Field: "center", Reason: "cannot be empty"}
	}
	if len(rows) != len(b) {
		return nil, &ValidationError{
			Field:  "b",
			Reason: fmt.Sprintf("has %d entries for %d inequalities", len(b), len(rows)),
		}
	}
	if len(rows) == 0 {
		return &Region{b: []float64{}, center: cloneVec(center)}, nil
	}

	data := make([]float64, 0, len(rows)*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("a[%d]", i),
				Reason: fmt.Sprintf("has %d entries, expected %d", len(row), n),
			}
		}
		data = append(data, row...)
	}
	return NewRegionDense(mat.NewDense(len(rows), n, data), b, center)
}

// NewRegionDense builds a region from a gonum matrix. The matrix is copied.
func NewRegionDense(a mat.Matrix, b, center []float64) (*Region, error) {
	if a == nil {
		return NewRegion(nil, b, center)
	}
	m, n := a.Dims()
	if len(center) != n {
		return nil, &ValidationError{
			Field:  "center",
			Reason: fmt.Sprintf("has %d entries, matrix has %d columns", len(center), n),
		}
	}
	if len(b) != m {
		return nil, &ValidationError{
			Field:  "b",
			Reason: fmt.Sprintf("has %d entries for %d inequalities", len(b), m),
		}
	}
	dense := mat.DenseCopyOf(a)
	for i := 0; i < m; i++ {
		if !allFinite(dense.RawRowView(i)) {
			return nil, &ValidationError{Field: fmt.Sprintf("a[%d]", i), Reason: "must be finite"}
		}
	}
	if !allFinite(b) {
		return nil, &ValidationError{Field: "b", Reason: "must be finite"}
	}
	if !allFinite(center) {
		return nil, &ValidationError{Field: "center", Reason: "must be finite"}
	}
	return &Region{
		a:      dense,
		b:      cloneVec(b),
		center: cloneVec(center),
	}, nil
}

// Box returns the axis-aligned region lower ≤ q ≤ upper centred at the midpoint.
func Box(lower, upper []float64) (*Region, error) {
	if len(lower) != len(upper) {
		return nil, &ValidationError{Field: "upper", Reason: "length differs from lower"}
	}
	n := len(lower)
	rows := make([][]float64, 0, 2*n)
	b := make([]float64, 0, 2*n)
	center := make([]float64, n)
	for i := 0; i < n; i++ {
		if lower[i] > upper[i] {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("lower[%d]", i),
				Reason: fmt.Sprintf("%g exceeds upper bound %g", lower[i], upper[i]),
			}
		}
		up := make([]float64, n)
		up[i] = 1
		lo := make([]float64, n)
		lo[i] = -1
		rows = append(rows, up, lo)
		b = append(b, upper[i], -lower[i])
		center[i] = (lower[i] + upper[i]) / 2
	}
	return NewRegion(rows, b, center)
}

// Name returns the optional region label.
func (r *Region) Name() string { return r.name }

// WithName returns a copy of r labelled name.
func (r *Region) WithName(name string) *Region {
	out := *r
	out.name = name
	return &out
}

// Dim returns the dimension of the configuration space.
func (r *Region) Dim() int { return len(r.center) }

// NumConstraints returns the number of inequalities.
func (r *Region) NumConstraints() int { return len(r.b) }

// A returns the inequality matrix, or nil for a region without inequalities.
// Callers must not modify it.
func (r *Region) A() mat.Matrix {
	if r.a == nil {
		return nil
	}
	return r.a
}

// Row returns a copy of inequality row i.
func (r *Region) Row(i int) []float64 {
	return cloneVec(r.a.RawRowView(i))
}

// Rows returns a copy of all inequality rows.
func (r *Region) Rows() [][]float64 {
	rows := make([][]float64, r.NumConstraints())
	for i := range rows {
		rows[i] = r.Row(i)
	}
	return rows
}

// B returns a copy of the right-hand side.
func (r *Region) B() []float64 { return cloneVec(r.b) }

// Center returns a copy of the interior point.
func (r *Region) Center() []float64 { return cloneVec(r.center) }

// WithCenter returns a copy of r with a different interior point.
// Feasibility of the point is not checked here.
func (r *Region) WithCenter(center []float64) (*Region, error) {
	if len(center) != r.Dim() {
		return nil, &ValidationError{
			Field:  "center",
			Reason: fmt.Sprintf("has %d entries, region has dimension %d", len(center), r.Dim()),
		}
	}
	out := *r
	out.center = cloneVec(center)
	return &out, nil
}

// Intersect stacks the inequalities of r and other. The interior point of r is
// kept; use Recenter if it may fall outside the intersection.
func (r *Region) Intersect(other *Region) (*Region, error) {
	if other.Dim() != r.Dim() {
		return nil, &ValidationError{
			Field:  "other",
			Reason: fmt.Sprintf("dimension %d differs from %d", other.Dim(), r.Dim()),
		}
	}
	rows := append(r.Rows(), other.Rows()...)
	b := append(r.B(), other.b...)
	out, err := NewRegion(rows, b, r.center)
	if err != nil {
		return nil, err
	}
	out.name = r.name
	return out, nil
}

// Slack returns b − A·q. Negative entries are violated inequalities.
func (r *Region) Slack(q []float64) []float64 {
	slack := cloneVec(r.b)
	if r.a == nil {
		return slack
	}
	for i := range slack {
		slack[i] -= floats.Dot(r.a.RawRowView(i), q)
	}
	return slack
}

// MaxViolation returns max(0, max_i (A·q − b)_i).
func (r *Region) MaxViolation(q []float64) float64 {
	worst := 0.0
	for _, s := range r.Slack(q) {
		worst = math.Max(worst, -s)
	}
	return worst
}

// Contains reports whether q satisfies every inequality within tol.
func (r *Region) Contains(q []float64, tol float64) bool {
	if len(q) != r.Dim() {
		return false
	}
	return r.MaxViolation(q) <= tol
}

func cloneVec(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append(make([]float64, 0, len(v)), v...)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
