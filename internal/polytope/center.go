package polytope

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/polywalk/internal/opt"
)

// ChebyshevCenter returns the centre and radius of the largest ball inside
// {x : a·x ≤ b}. It solves
//
//	max r  s.t.  aᵢ·x + ‖aᵢ‖·r ≤ bᵢ,  −r ≤ 0
//
// and fails with ErrNoInterior when the region is empty, has zero width, or
// the ball is unbounded.
func ChebyshevCenter(a mat.Matrix, b []float64, solver opt.LinearSolver) ([]float64, float64, error) {
	if a == nil {
		return nil, 0, fmt.Errorf("%w: no inequalities", ErrNoInterior)
	}
	m, n := a.Dims()

	lifted := mat.NewDense(m+1, n+1, nil)
	row := make([]float64, n)
	for i := 0; i < m; i++ {
		mat.Row(row, i, a)
		for j, v := range row {
			lifted.Set(i, j, v)
		}
		lifted.Set(i, n, floats.Norm(row, 2))
	}
	lifted.Set(m, n, -1)

	h := make([]float64, m+1)
	copy(h, b)

	objective := make([]float64, n+1)
	objective[n] = 1

	res := solver.Maximize(objective, lifted, h)
	if !res.Success() {
		return nil, 0, fmt.Errorf("%w: chebyshev program %s: %v", ErrNoInterior, res.Status, res.Err)
	}

	radius := res.X[n]
	if radius <= 0 || math.IsInf(radius, 0) {
		return nil, 0, fmt.Errorf("%w: radius %g", ErrNoInterior, radius)
	}
	return res.X[:n], radius, nil
}

// Recenter replaces the interior point of r with its Chebyshev centre.
func Recenter(r *Region, solver opt.LinearSolver) (*Region, float64, error) {
	center, radius, err := ChebyshevCenter(r.A(), r.b, solver)
	if err != nil {
		return nil, 0, err
	}
	slog.Debug("Computed Chebyshev center", "region", r.name, "radius", radius)
	out, err := r.WithCenter(center)
	if err != nil {
		return nil, 0, err
	}
	return out, radius, nil
}

// InscribedRadius returns the distance from q to the nearest facet of r, or a
// negative value when q lies outside.
func InscribedRadius(r *Region, q []float64) float64 {
	if r.NumConstraints() == 0 {
		return math.Inf(1)
	}
	best := math.Inf(1)
	slack := r.Slack(q)
	for i, s := range slack {
		norm := floats.Norm(r.a.RawRowView(i), 2)
		if norm == 0 {
			continue
		}
		best = math.Min(best, s/norm)
	}
	return best
}

// EstimateCenter searches the box [lower, upper] for the point that maximises
// InscribedRadius using a derivative-free optimizer. It is slower and less
// exact than ChebyshevCenter but needs no LP solver.
func EstimateCenter(r *Region, optimizer opt.Optimizer, lower, upper []float64) ([]float64, float64, error) {
	n := r.Dim()
	if len(lower) != n || len(upper) != n {
		return nil, 0, &ValidationError{Field: "bounds", Reason: fmt.Sprintf("must have %d entries", n)}
	}
	if r.NumConstraints() == 0 {
		return nil, 0, fmt.Errorf("%w: no inequalities", ErrNoInterior)
	}

	cost := func(q []float64) float64 {
		return -InscribedRadius(r, q)
	}
	best, negRadius := optimizer.Run(cost, lower, upper, n)
	radius := -negRadius
	if radius <= 0 {
		return nil, 0, fmt.Errorf("%w: best radius found %g", ErrNoInterior, radius)
	}
	return best, radius, nil
}

// BoundingBox returns the tightest axis-aligned box containing r by solving
// one LP per coordinate direction.
func BoundingBox(r *Region, solver opt.LinearSolver) (lower, upper []float64, err error) {
	n := r.Dim()
	if r.NumConstraints() == 0 {
		return nil, nil, fmt.Errorf("%w: no inequalities", ErrNoInterior)
	}
	lower = make([]float64, n)
	upper = make([]float64, n)
	dir := make([]float64, n)
	for i := 0; i < n; i++ {
		dir[i] = 1
		res := solver.Maximize(dir, r.a, r.b)
		if !res.Success() {
			return nil, nil, fmt.Errorf("bounding box: maximizing q[%d]: %s: %v", i, res.Status, res.Err)
		}
		upper[i] = res.X[i]

		dir[i] = -1
		res = solver.Maximize(dir, r.a, r.b)
		if !res.Success() {
			return nil, nil, fmt.Errorf("bounding box: minimizing q[%d]: %s: %v", i, res.Status, res.Err)
		}
		lower[i] = res.X[i]
		dir[i] = 0
	}
	return lower, upper, nil
}
