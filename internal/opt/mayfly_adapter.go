package opt

import (
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter.
// mayfly v0.1.0 needs a population of at least 20.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	if popSize < 20 {
		popSize = 20
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
//
// The library only accepts scalar bounds, so the search runs in the enclosing
// cube and every candidate is clamped into the per-dimension box before eval
// sees it. The returned position is clamped the same way.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < dim; i++ {
		lo = math.Min(lo, lower[i])
		hi = math.Max(hi, upper[i])
	}

	clamped := func(x []float64) []float64 {
		out := make([]float64, dim)
		for i := range out {
			out[i] = math.Max(lower[i], math.Min(upper[i], x[i]))
		}
		return out
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(x []float64) float64 { return eval(clamped(x)) }
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly optimization failed, falling back to box midpoint", "error", err)
		mid := make([]float64, dim)
		for i := range mid {
			mid[i] = (lower[i] + upper[i]) / 2
		}
		return mid, eval(mid)
	}

	best := clamped(result.GlobalBest.Position)
	return best, eval(best)
}
