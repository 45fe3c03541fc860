package walk

import (
	"fmt"
	"log/slog"
	"math"
)

// StallConfig defines when a walk is considered to have explored its region
type StallConfig struct {
	// Enabled controls whether stall detection is active
	Enabled bool

	// Patience is the number of consecutive steps whose targets did not
	// grow the explored bounding box enough
	Patience int

	// Threshold is the minimum relative growth of the explored extent that
	// counts as progress. Extent is the sum of per-coordinate ranges of all
	// targets seen so far.
	// Example: 0.01 = 1% growth required
	Threshold float64
}

// DefaultStallConfig returns sensible defaults for stall detection
func DefaultStallConfig() StallConfig {
	return StallConfig{
		Enabled:   true,
		Patience:  25,
		Threshold: 0.01,
	}
}

// DisabledStallConfig returns a config with stall detection disabled
func DisabledStallConfig() StallConfig {
	return StallConfig{Enabled: false}
}

// StallTracker records visited targets and detects when the explored bounding
// box stops growing.
type StallTracker struct {
	config          StallConfig
	lower, upper    []float64
	lastSignificant float64 // extent at the last significant growth
	staleCount      int
	observed        int
	stalled         bool
}

// NewStallTracker creates a new tracker with the given config
func NewStallTracker(config StallConfig) *StallTracker {
	return &StallTracker{config: config}
}

// Update records a target and returns true once the walk has stalled
func (s *StallTracker) Update(target []float64) bool {
	if !s.config.Enabled {
		return false
	}
	s.observed++

	if s.lower == nil {
		s.lower = append([]float64(nil), target...)
		s.upper = append([]float64(nil), target...)
		s.lastSignificant = 0
		return false
	}

	for i, v := range target {
		s.lower[i] = math.Min(s.lower[i], v)
		s.upper[i] = math.Max(s.upper[i], v)
	}
	extent := s.Extent()

	growth := math.Inf(1)
	if s.lastSignificant > 0 {
		growth = (extent - s.lastSignificant) / s.lastSignificant
	} else if extent == 0 {
		growth = 0
	}

	if growth >= s.config.Threshold {
		s.lastSignificant = extent
		s.staleCount = 0
		return false
	}

	s.staleCount++
	slog.Debug("No significant exploration growth",
		"extent", extent,
		"growth", growth,
		"stale_count", s.staleCount,
		"patience", s.config.Patience,
	)
	if s.staleCount >= s.config.Patience {
		if !s.stalled {
			slog.Info("Walk stalled - region explored",
				"targets", s.observed,
				"extent", extent,
			)
		}
		s.stalled = true
	}
	return s.stalled
}

// Observe adapts Update to a StepReport observer.
func (s *StallTracker) Observe(report StepReport) {
	if report.Err == nil {
		s.Update(report.Target)
	}
}

// ShouldStop reports whether a stall has been detected; usable as a Run predicate.
func (s *StallTracker) ShouldStop() bool {
	return s.stalled
}

// Extent returns the sum of per-coordinate ranges of the targets seen so far
func (s *StallTracker) Extent() float64 {
	var sum float64
	for i := range s.lower {
		sum += s.upper[i] - s.lower[i]
	}
	return sum
}

// Bounds returns copies of the explored bounding box
func (s *StallTracker) Bounds() (lower, upper []float64) {
	return append([]float64(nil), s.lower...), append([]float64(nil), s.upper...)
}

// StaleCount returns the current number of steps without growth
func (s *StallTracker) StaleCount() int {
	return s.staleCount
}

// StallSnapshot is the persistable state of a StallTracker.
type StallSnapshot struct {
	Lower           []float64 `json:"lower,omitempty"`
	Upper           []float64 `json:"upper,omitempty"`
	LastSignificant float64   `json:"lastSignificant"`
	StaleCount      int       `json:"staleCount"`
	Observed        int       `json:"observed"`
	Stalled         bool      `json:"stalled,omitempty"`
}

// Snapshot captures the explored box and counters.
func (s *StallTracker) Snapshot() StallSnapshot {
	lower, upper := s.Bounds()
	return StallSnapshot{
		Lower:           lower,
		Upper:           upper,
		LastSignificant: s.lastSignificant,
		StaleCount:      s.staleCount,
		Observed:        s.observed,
		Stalled:         s.stalled,
	}
}

// Restore replaces the tracker's state with snap. The config is kept.
func (s *StallTracker) Restore(snap StallSnapshot) error {
	if len(snap.Lower) != len(snap.Upper) {
		return fmt.Errorf("stall snapshot bounds differ in length: %d != %d", len(snap.Lower), len(snap.Upper))
	}
	s.lower, s.upper = nil, nil
	if len(snap.Lower) > 0 {
		s.lower = append([]float64(nil), snap.Lower...)
		s.upper = append([]float64(nil), snap.Upper...)
	}
	s.lastSignificant = snap.LastSignificant
	s.staleCount = snap.StaleCount
	s.observed = snap.Observed
	s.stalled = snap.Stalled
	return nil
}

// Reset clears the tracker's state
func (s *StallTracker) Reset() {
	s.lower, s.upper = nil, nil
	s.lastSignificant = 0
	s.staleCount = 0
	s.observed = 0
	s.stalled = false
}
