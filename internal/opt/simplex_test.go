package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// unitSquare is {q : -1 <= q1 <= 1, -1 <= q2 <= 1}.
func unitSquare() (*mat.Dense, []float64) {
	a := mat.NewDense(4, 2, []float64{
		1, 0,
		-1, 0,
		0, 1,
		0, -1,
	})
	return a, []float64{1, 1, 1, 1}
}

func TestSimplex_MaximizeVertex(t *testing.T) {
	a, b := unitSquare()
	s := NewSimplex(0)

	res := s.Maximize([]float64{1, 1}, a, b)

	require.True(t, res.Success(), "status %s: %v", res.Status, res.Err)
	assert.InDelta(t, 1.0, res.X[0], 1e-9)
	assert.InDelta(t, 1.0, res.X[1], 1e-9)
	assert.InDelta(t, 2.0, res.Value, 1e-9)
}

func TestSimplex_NegativeDirection(t *testing.T) {
	a, b := unitSquare()

	res := NewSimplex(0).Maximize([]float64{-2, 0.5}, a, b)

	require.True(t, res.Success())
	assert.InDelta(t, -1.0, res.X[0], 1e-9)
	assert.InDelta(t, 1.0, res.X[1], 1e-9)
	assert.InDelta(t, 2.5, res.Value, 1e-9)
}

func TestSimplex_Triangle(t *testing.T) {
	// q1 >= 0, q2 >= 0, q1 + q2 <= 1
	a := mat.NewDense(3, 2, []float64{
		-1, 0,
		0, -1,
		1, 1,
	})
	b := []float64{0, 0, 1}

	res := NewSimplex(0).Maximize([]float64{0, 1}, a, b)

	require.True(t, res.Success())
	assert.InDelta(t, 0.0, res.X[0], 1e-9)
	assert.InDelta(t, 1.0, res.X[1], 1e-9)
}

func TestSimplex_Unbounded(t *testing.T) {
	// Only q1 <= 1 and q2 <= 1: unbounded towards -inf.
	a := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})

	res := NewSimplex(0).Maximize([]float64{-1, 0}, a, []float64{1, 1})

	assert.False(t, res.Success())
	assert.Equal(t, StatusUnbounded, res.Status)
	assert.Error(t, res.Err)
}

func TestSimplex_Infeasible(t *testing.T) {
	// q1 <= -1 and q1 >= 1
	a := mat.NewDense(2, 1, []float64{1, -1})

	res := NewSimplex(0).Maximize([]float64{1}, a, []float64{-1, -1})

	assert.False(t, res.Success())
	assert.Equal(t, StatusInfeasible, res.Status)
}

func TestSimplex_DimensionMismatch(t *testing.T) {
	a, b := unitSquare()
	s := NewSimplex(0)

	res := s.Maximize([]float64{1, 2, 3}, a, b)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrDimensionMismatch)

	res = s.Maximize([]float64{1, 2}, a, []float64{1})
	assert.ErrorIs(t, res.Err, ErrDimensionMismatch)

	res = s.Maximize([]float64{1, 2}, nil, b)
	assert.ErrorIs(t, res.Err, ErrDimensionMismatch)
}

func TestLPStatus_String(t *testing.T) {
	assert.Equal(t, "optimal", StatusOptimal.String())
	assert.Equal(t, "infeasible", StatusInfeasible.String())
	assert.Equal(t, "unbounded", StatusUnbounded.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "LPStatus(9)", LPStatus(9).String())
}
