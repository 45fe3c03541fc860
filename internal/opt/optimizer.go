package opt

import "gonum.org/v1/gonum/mat"

// Optimizer defines a derivative-free optimization algorithm interface
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// LinearSolver maximizes a linear objective over a system of inequalities a·x ≤ b.
// x is free (no sign constraints). Implementations never panic on malformed
// input; they report StatusFailed instead.
type LinearSolver interface {
	Maximize(objective []float64, a mat.Matrix, b []float64) LPResult
}
