package polytope

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/polywalk/internal/opt"
)

// RegionSpec is the on-disk and over-the-wire description of a region.
// JSON documents are valid YAML, so ParseRegionSpec accepts both.
//
//	name: shelf-reach
//	a: [[1, 0], [-1, 0], [0, 1], [0, -1]]
//	b: [1, 1, 1, 1]
//	center: [0, 0]     # optional, Chebyshev centre when absent
//	lower: [-2, -2]    # optional joint limits, intersected as a box
//	upper: [2, 2]
type RegionSpec struct {
	Name   string      `json:"name,omitempty" yaml:"name,omitempty"`
	A      [][]float64 `json:"a" yaml:"a"`
	B      []float64   `json:"b" yaml:"b"`
	Center []float64   `json:"center,omitempty" yaml:"center,omitempty"`
	Lower  []float64   `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper  []float64   `json:"upper,omitempty" yaml:"upper,omitempty"`
}

// Dim infers the dimension from the first available field.
func (s RegionSpec) Dim() int {
	switch {
	case len(s.Center) > 0:
		return len(s.Center)
	case len(s.A) > 0:
		return len(s.A[0])
	default:
		return len(s.Lower)
	}
}

// Build turns the description into a Region. When no centre is given, or the region
// was narrowed by joint limits, the Chebyshev centre is computed with solver.
func (s RegionSpec) Build(solver opt.LinearSolver) (*Region, error) {
	n := s.Dim()
	if n == 0 {
		return nil, &ValidationError{Field: "a", Reason: "cannot infer dimension"}
	}

	center := s.Center
	if len(center) == 0 {
		center = make([]float64, n)
	}

	region, err := NewRegion(s.A, s.B, center)
	if err != nil {
		return nil, err
	}

	limited := len(s.Lower) > 0 || len(s.Upper) > 0
	if limited {
		if len(s.Lower) != n || len(s.Upper) != n {
			return nil, &ValidationError{Field: "lower/upper", Reason: fmt.Sprintf("must both have %d entries", n)}
		}
		box, err := Box(s.Lower, s.Upper)
		if err != nil {
			return nil, err
		}
		region, err = region.Intersect(box)
		if err != nil {
			return nil, err
		}
	}

	if len(s.Center) == 0 || (limited && !region.Contains(s.Center, DefaultTolerance)) {
		if solver == nil {
			return nil, &ValidationError{Field: "center", Reason: "missing and no solver to compute it"}
		}
		region, _, err = Recenter(region, solver)
		if err != nil {
			return nil, fmt.Errorf("computing center: %w", err)
		}
	}
	return region.WithName(s.Name), nil
}

// ParseRegionSpec decodes a YAML or JSON region document.
func ParseRegionSpec(data []byte) (RegionSpec, error) {
	var spec RegionSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return RegionSpec{}, fmt.Errorf("failed to parse region: %w", err)
	}
	return spec, nil
}

// LoadRegionSpec reads a region document from disk.
func LoadRegionSpec(path string) (RegionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RegionSpec{}, fmt.Errorf("failed to read region file: %w", err)
	}
	spec, err := ParseRegionSpec(data)
	if err != nil {
		return RegionSpec{}, err
	}
	if spec.Name == "" {
		spec.Name = filepath.Base(path)
	}
	return spec, nil
}

// SaveRegionSpec writes spec as YAML, replacing the file atomically.
func SaveRegionSpec(path string, spec RegionSpec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to serialize region: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write region file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename region file: %w", err)
	}
	return nil
}
