package polytope

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/polywalk/internal/opt"
)

func TestChebyshevCenter_UnitSquare(t *testing.T) {
	r := unitSquare(t)

	center, radius, err := ChebyshevCenter(r.A(), r.B(), opt.NewSimplex(0))
	require.NoError(t, err)

	assert.InDelta(t, 0, center[0], 1e-9)
	assert.InDelta(t, 0, center[1], 1e-9)
	assert.InDelta(t, 1, radius, 1e-9)
}

func TestChebyshevCenter_Triangle(t *testing.T) {
	// Right triangle with legs of length 1: inradius (2 - sqrt 2) / 2.
	r, err := NewRegion(
		[][]float64{{-1, 0}, {0, -1}, {1, 1}},
		[]float64{0, 0, 1},
		[]float64{0.1, 0.1},
	)
	require.NoError(t, err)

	center, radius, err := ChebyshevCenter(r.A(), r.B(), opt.NewSimplex(0))
	require.NoError(t, err)

	want := (2 - math.Sqrt2) / 2
	assert.InDelta(t, want, radius, 1e-9)
	assert.InDelta(t, want, center[0], 1e-9)
	assert.InDelta(t, want, center[1], 1e-9)
}

func TestChebyshevCenter_NoInterior(t *testing.T) {
	solver := opt.NewSimplex(0)

	// Empty: q <= -1 and q >= 1.
	empty, err := NewRegion([][]float64{{1}, {-1}}, []float64{-1, -1}, []float64{0})
	require.NoError(t, err)
	_, _, err = ChebyshevCenter(empty.A(), empty.B(), solver)
	assert.ErrorIs(t, err, ErrNoInterior)

	// Flat: q = 0.
	flat, err := NewRegion([][]float64{{1}, {-1}}, []float64{0, 0}, []float64{0})
	require.NoError(t, err)
	_, _, err = ChebyshevCenter(flat.A(), flat.B(), solver)
	assert.ErrorIs(t, err, ErrNoInterior)

	// No inequalities at all.
	_, _, err = ChebyshevCenter(nil, nil, solver)
	assert.ErrorIs(t, err, ErrNoInterior)
}

func TestRecenter(t *testing.T) {
	r, err := Box([]float64{0, 0}, []float64{2, 2})
	require.NoError(t, err)
	off, err := r.WithCenter([]float64{1.9, 0.1})
	require.NoError(t, err)

	centered, radius, err := Recenter(off, opt.NewSimplex(0))
	require.NoError(t, err)

	assert.InDelta(t, 1, radius, 1e-9)
	assert.InDelta(t, 1, centered.Center()[0], 1e-9)
	assert.InDelta(t, 1, centered.Center()[1], 1e-9)
}

func TestInscribedRadius(t *testing.T) {
	r := unitSquare(t)

	assert.InDelta(t, 1, InscribedRadius(r, []float64{0, 0}), 1e-12)
	assert.InDelta(t, 0.25, InscribedRadius(r, []float64{0.75, 0}), 1e-12)
	assert.Less(t, InscribedRadius(r, []float64{2, 0}), 0.0)
}

func TestEstimateCenter(t *testing.T) {
	r := unitSquare(t)

	center, radius, err := EstimateCenter(r, opt.NewMayfly(100, 20, 42), []float64{-1, -1}, []float64{1, 1})
	require.NoError(t, err)

	assert.True(t, r.Contains(center, 0))
	assert.Greater(t, radius, 0.5)
}

func TestBoundingBox(t *testing.T) {
	// Diamond |q1| + |q2| <= 1
	r, err := NewRegion(
		[][]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0},
	)
	require.NoError(t, err)

	lower, upper, err := BoundingBox(r, opt.NewSimplex(0))
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{-1, -1}, lower, 1e-9)
	assert.InDeltaSlice(t, []float64{1, 1}, upper, 1e-9)
}

func TestRegionSpec_BuildComputesCenter(t *testing.T) {
	spec, err := ParseRegionSpec([]byte(`
name: square
a: [[1, 0], [-1, 0], [0, 1], [0, -1]]
b: [3, 1, 1, 1]
`))
	require.NoError(t, err)

	r, err := spec.Build(opt.NewSimplex(0))
	require.NoError(t, err)

	assert.Equal(t, "square", r.Name())
	assert.True(t, r.Contains(r.Center(), 0))
	assert.InDelta(t, 0, r.Center()[1], 1e-9)
	assert.InDelta(t, 1, InscribedRadius(r, r.Center()), 1e-9)
}

func TestRegionSpec_JointLimits(t *testing.T) {
	spec := RegionSpec{
		A:      [][]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}},
		B:      []float64{1, 1, 1, 1},
		Center: []float64{-0.9, 0},
		Lower:  []float64{0, -0.5},
		Upper:  []float64{10, 0.5},
	}

	r, err := spec.Build(opt.NewSimplex(0))
	require.NoError(t, err)

	assert.Equal(t, 8, r.NumConstraints())
	// The supplied center is outside the joint limits, so it gets recomputed.
	assert.True(t, r.Contains(r.Center(), DefaultTolerance))
	assert.InDelta(t, 0.5, InscribedRadius(r, r.Center()), 1e-9)
}

func TestRegionSpec_JSONAndRoundTrip(t *testing.T) {
	spec, err := ParseRegionSpec([]byte(`{"a": [[1], [-1]], "b": [2, 2], "center": [0.5]}`))
	require.NoError(t, err)

	r, err := spec.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, r.Center())

	path := filepath.Join(t.TempDir(), "region.yaml")
	require.NoError(t, SaveRegionSpec(path, RegionSpec{A: r.Rows(), B: r.B(), Center: r.Center()}))

	loaded, err := LoadRegionSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "region.yaml", loaded.Name)
	assert.Equal(t, [][]float64{{1}, {-1}}, loaded.A)
	assert.Equal(t, []float64{0.5}, loaded.Center)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRegionSpec_MissingCenterWithoutSolver(t *testing.T) {
	spec := RegionSpec{A: [][]float64{{1}}, B: []float64{1}}

	_, err := spec.Build(nil)
	assert.Error(t, err)
}
