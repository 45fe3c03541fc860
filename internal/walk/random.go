package walk

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// RandomSource produces direction samples.
type RandomSource interface {
	// NextGaussianVector returns n independent standard-normal values.
	NextGaussianVector(n int) []float64
}

const pcgStream = 0x9e3779b97f4a7c15

// pcgSource adapts a PCG generator to the uint64 source distuv draws from.
type pcgSource struct {
	pcg *rand.PCG
}

func (s pcgSource) Uint64() uint64 { return s.pcg.Uint64() }

func (s pcgSource) Seed(seed uint64) { s.pcg.Seed(seed, seed^pcgStream) }

// GaussianSource draws standard normals from a seeded PCG generator.
// Two sources with the same seed produce the same sequence.
type GaussianSource struct {
	src  pcgSource
	dist distuv.Normal
}

// NewGaussianSource creates a seeded source.
func NewGaussianSource(seed uint64) *GaussianSource {
	src := pcgSource{pcg: rand.NewPCG(seed, seed^pcgStream)}
	return &GaussianSource{
		src:  src,
		dist: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// NextGaussianVector implements RandomSource.
func (g *GaussianSource) NextGaussianVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = g.dist.Rand()
	}
	return v
}

// MarshalBinary captures the generator position so a walk can be resumed.
func (g *GaussianSource) MarshalBinary() ([]byte, error) {
	return g.src.pcg.MarshalBinary()
}

// UnmarshalBinary restores a position captured by MarshalBinary.
func (g *GaussianSource) UnmarshalBinary(data []byte) error {
	if err := g.src.pcg.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("failed to restore random state: %w", err)
	}
	return nil
}
