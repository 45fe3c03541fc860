package walk

import "github.com/cwbudde/polywalk/internal/polytope"

type config struct {
	interpolation int
	tolerance     float64
	faceTolerance float64
	tieBreak      bool
	observer      func(StepReport)
}

// Option configures Initialize, Resume and New.
type Option func(*config)

func newConfig(opts []Option) config {
	cfg := config{
		interpolation: DefaultInterpolationSteps,
		tolerance:     polytope.DefaultTolerance,
		faceTolerance: 1e-9,
		tieBreak:      true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithInterpolationSteps sets the number of segments between consecutive
// targets; each step emits steps+1 waypoints.
func WithInterpolationSteps(steps int) Option {
	return func(c *config) {
		if steps > 0 {
			c.interpolation = steps
		}
	}
}

// WithTolerance sets the feasibility tolerance used to validate interior points.
func WithTolerance(tol float64) Option {
	return func(c *config) {
		if tol >= 0 {
			c.tolerance = tol
		}
	}
}

// WithFaceTieBreak toggles choosing the optimal-face point nearest to the
// current configuration. When disabled the solver's vertex is used as is.
func WithFaceTieBreak(enabled bool) Option {
	return func(c *config) {
		c.tieBreak = enabled
	}
}

// WithStepObserver registers a callback invoked after every step attempt.
func WithStepObserver(fn func(StepReport)) Option {
	return func(c *config) {
		c.observer = fn
	}
}
