// Package walk animates a random walk inside a convex region of configuration
// space. Each step samples a Gaussian direction, solves a linear program for
// the farthest point of the region in that direction, and emits a linear
// interpolation from the current configuration to that point.
package walk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/polywalk/internal/opt"
	"github.com/cwbudde/polywalk/internal/polytope"
)

// maxDirectionDraws bounds resampling of a degenerate (near-zero) direction.
const maxDirectionDraws = 8

// State is the mutable walker state. It belongs to a single caller.
type State struct {
	Current []float64 `json:"current"`
	Steps   int       `json:"steps"`
}

// StepReport describes one finished (or failed) step.
type StepReport struct {
	Step      int
	Direction []float64
	Target    []float64
	Duration  time.Duration
	Err       error
}

// Initialize returns a state positioned at the region's interior point.
func Initialize(region *polytope.Region, opts ...Option) (*State, error) {
	cfg := newConfig(opts)
	if err := validateRegion(region, cfg.tolerance); err != nil {
		return nil, err
	}
	return &State{Current: region.Center()}, nil
}

// Resume returns a state at an arbitrary feasible configuration, e.g. one
// loaded from a checkpoint.
func Resume(region *polytope.Region, current []float64, steps int, opts ...Option) (*State, error) {
	cfg := newConfig(opts)
	if err := validateRegion(region, cfg.tolerance); err != nil {
		return nil, err
	}
	if len(current) != region.Dim() {
		return nil, &InvalidRegionError{Reason: fmt.Sprintf("resume point has %d entries, region has dimension %d", len(current), region.Dim())}
	}
	if v := region.MaxViolation(current); v > cfg.tolerance {
		return nil, &InvalidRegionError{Reason: fmt.Sprintf("resume point violates the region by %g", v)}
	}
	if steps < 0 {
		steps = 0
	}
	return &State{Current: append([]float64(nil), current...), Steps: steps}, nil
}

func validateRegion(region *polytope.Region, tol float64) error {
	if region == nil {
		return &InvalidRegionError{Reason: "region is nil"}
	}
	if region.NumConstraints() == 0 {
		return &InvalidRegionError{Reason: "region has no inequalities"}
	}
	if v := region.MaxViolation(region.Center()); v > tol {
		return &InvalidRegionError{Reason: fmt.Sprintf("interior point violates the region by %g", v)}
	}
	return nil
}

// Walker performs hit-and-run style steps inside a fixed region.
// It is synchronous and must not be shared between goroutines.
type Walker struct {
	region *polytope.Region
	solver opt.LinearSolver
	rng    RandomSource
	cfg    config
}

// New creates a walker over region.
func New(region *polytope.Region, solver opt.LinearSolver, rng RandomSource, opts ...Option) (*Walker, error) {
	if region == nil {
		return nil, &InvalidRegionError{Reason: "region is nil"}
	}
	if solver == nil {
		return nil, fmt.Errorf("walk: solver is nil")
	}
	if rng == nil {
		return nil, fmt.Errorf("walk: random source is nil")
	}
	return &Walker{
		region: region,
		solver: solver,
		rng:    rng,
		cfg:    newConfig(opts),
	}, nil
}

// Region returns the region being walked.
func (w *Walker) Region() *polytope.Region { return w.region }

// InterpolationSteps returns the number of segments per step.
func (w *Walker) InterpolationSteps() int { return w.cfg.interpolation }

// Step advances the walk by one LP solve. On success it returns the new
// target and the waypoints from the previous position to it, and moves
// state.Current to the target. On failure the state is left untouched.
func (w *Walker) Step(state *State) ([]float64, []Waypoint, error) {
	if len(state.Current) != w.region.Dim() {
		return nil, nil, &InvalidRegionError{
			Reason: fmt.Sprintf("state has %d entries, region has dimension %d", len(state.Current), w.region.Dim()),
		}
	}

	step := state.Steps + 1
	start := time.Now()
	direction := w.sampleDirection()

	target, err := w.solveTarget(step, direction, state.Current)
	report := StepReport{
		Step:      step,
		Direction: direction,
		Target:    target,
		Duration:  time.Since(start),
		Err:       err,
	}
	if w.cfg.observer != nil {
		w.cfg.observer(report)
	}
	if err != nil {
		return nil, nil, err
	}

	points := Interpolate(state.Current, target, w.cfg.interpolation)
	waypoints := make([]Waypoint, len(points))
	for i, q := range points {
		waypoints[i] = Waypoint{
			Step:  step,
			Index: i,
			T:     float64(i) / float64(len(points)-1),
			Q:     q,
		}
	}

	state.Current = append(state.Current[:0:0], target...)
	state.Steps = step

	slog.Debug("Walk step", "step", step, "target", target, "duration", report.Duration)
	return target, waypoints, nil
}

// Run repeatedly steps the walk and hands every waypoint to onWaypoint in
// order. shouldStop is consulted before each step; a step that has started
// always completes. A step error ends the run and is returned.
func (w *Walker) Run(state *State, onWaypoint func(Waypoint), shouldStop func() bool) error {
	for {
		if shouldStop != nil && shouldStop() {
			return nil
		}
		_, waypoints, err := w.Step(state)
		if err != nil {
			return err
		}
		if onWaypoint == nil {
			continue
		}
		for _, wp := range waypoints {
			onWaypoint(wp)
		}
	}
}

func (w *Walker) sampleDirection() []float64 {
	n := w.region.Dim()
	var direction []float64
	for i := 0; i < maxDirectionDraws; i++ {
		direction = w.rng.NextGaussianVector(n)
		if floats.Norm(direction, 2) > 1e-12 {
			return direction
		}
	}
	// A run of degenerate draws is practically impossible with a Gaussian
	// source; fall back to the last draw and let the solver decide.
	return direction
}

func (w *Walker) solveTarget(step int, direction, current []float64) ([]float64, error) {
	res := w.solver.Maximize(direction, w.region.A(), w.region.B())
	if !res.Success() {
		slog.Warn("Walk step failed", "step", step, "status", res.Status, "error", res.Err)
		return nil, &InfeasibleOrUnboundedError{
			Step:      step,
			Status:    res.Status,
			Direction: direction,
			Err:       res.Err,
		}
	}
	if !w.cfg.tieBreak {
		return res.X, nil
	}
	if nearest, ok := w.nearestOnFace(direction, res.Value, current); ok {
		return nearest, nil
	}
	return res.X, nil
}

// nearestOnFace picks, among the maximisers of direction·q, the one closest in
// L1 distance to current. It solves, over (q, s),
//
//	max −Σs  s.t.  A·q ≤ b,  q − s ≤ current,  −q − s ≤ −current,
//	               −direction·q ≤ −(value − ε)
func (w *Walker) nearestOnFace(direction []float64, value float64, current []float64) ([]float64, bool) {
	n := w.region.Dim()
	m := w.region.NumConstraints()
	a := w.region.A()
	b := w.region.B()

	g := mat.NewDense(m+2*n+1, 2*n, nil)
	h := make([]float64, m+2*n+1)
	row := make([]float64, n)
	for i := 0; i < m; i++ {
		mat.Row(row, i, a)
		for j, v := range row {
			g.Set(i, j, v)
		}
		h[i] = b[i]
	}
	for j := 0; j < n; j++ {
		g.Set(m+j, j, 1)
		g.Set(m+j, n+j, -1)
		h[m+j] = current[j]

		g.Set(m+n+j, j, -1)
		g.Set(m+n+j, n+j, -1)
		h[m+n+j] = -current[j]

		g.Set(m+2*n, j, -direction[j])
	}
	h[m+2*n] = -(value - w.cfg.faceTolerance*math.Max(1, math.Abs(value)))

	objective := make([]float64, 2*n)
	for j := n; j < 2*n; j++ {
		objective[j] = -1
	}

	res := w.solver.Maximize(objective, g, h)
	if !res.Success() {
		slog.Debug("Face tie-break failed, keeping vertex optimum", "status", res.Status, "error", res.Err)
		return nil, false
	}
	return res.X[:n], true
}
