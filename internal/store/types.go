package store

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/polywalk/internal/polytope"
	"github.com/cwbudde/polywalk/internal/walk"
)

// SessionConfig is the persisted configuration of a walk session. It is
// shared by the server's create request, the CLI and checkpoints, which
// keeps the server package out of the store's imports.
type SessionConfig struct {
	Region polytope.RegionSpec `json:"region"`
	Seed   uint64              `json:"seed"`

	// MaxSteps limits the number of steps (0 = until stopped or stalled)
	MaxSteps int `json:"maxSteps,omitempty"`

	// Interpolation is the number of segments per step (0 = 20)
	Interpolation int `json:"interpolation,omitempty"`

	// DelayMillis paces waypoint emission for live animation
	DelayMillis int `json:"delayMs,omitempty"`

	// CheckpointInterval saves a checkpoint every N seconds (0 = disabled)
	CheckpointInterval int `json:"checkpointInterval,omitempty"`

	// StallPatience stops the walk after this many steps without the
	// explored box growing by StallThreshold (0 = disabled)
	StallPatience  int     `json:"stallPatience,omitempty"`
	StallThreshold float64 `json:"stallThreshold,omitempty"`

	DisableTieBreak bool `json:"disableTieBreak,omitempty"`
}

// WithDefaults fills zero-valued tuning fields.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.Interpolation == 0 {
		c.Interpolation = walk.DefaultInterpolationSteps
	}
	if c.StallPatience > 0 && c.StallThreshold == 0 {
		c.StallThreshold = walk.DefaultStallConfig().Threshold
	}
	return c
}

// Stall returns the stall detection settings.
func (c SessionConfig) Stall() walk.StallConfig {
	if c.StallPatience <= 0 {
		return walk.DisabledStallConfig()
	}
	threshold := c.StallThreshold
	if threshold == 0 {
		threshold = walk.DefaultStallConfig().Threshold
	}
	return walk.StallConfig{Enabled: true, Patience: c.StallPatience, Threshold: threshold}
}

// WalkOptions translates the tuning fields into walker options.
func (c SessionConfig) WalkOptions() []walk.Option {
	return []walk.Option{
		walk.WithInterpolationSteps(c.Interpolation),
		walk.WithFaceTieBreak(!c.DisableTieBreak),
	}
}

// Delay returns the pacing delay between waypoints.
func (c SessionConfig) Delay() time.Duration {
	return time.Duration(c.DelayMillis) * time.Millisecond
}

// Validate checks the configuration without solving anything.
func (c SessionConfig) Validate() error {
	if c.Region.Dim() == 0 {
		return &ValidationError{Field: "Config.Region", Reason: "cannot infer dimension"}
	}
	if len(c.Region.A) == 0 && len(c.Region.Lower) == 0 {
		return &ValidationError{Field: "Config.Region", Reason: "has no inequalities"}
	}
	if len(c.Region.A) != len(c.Region.B) {
		return &ValidationError{Field: "Config.Region.B", Reason: "length must match number of rows"}
	}
	if c.MaxSteps < 0 {
		return &ValidationError{Field: "Config.MaxSteps", Reason: "cannot be negative"}
	}
	if c.Interpolation < 0 {
		return &ValidationError{Field: "Config.Interpolation", Reason: "cannot be negative"}
	}
	if c.DelayMillis < 0 {
		return &ValidationError{Field: "Config.DelayMillis", Reason: "cannot be negative"}
	}
	if c.CheckpointInterval < 0 {
		return &ValidationError{Field: "Config.CheckpointInterval", Reason: "cannot be negative"}
	}
	if c.StallPatience < 0 {
		return &ValidationError{Field: "Config.StallPatience", Reason: "cannot be negative"}
	}
	return nil
}

// Checkpoint is a resumable walk state.
//
// Unlike a population-based optimizer, the walker's whole state is small:
// the current configuration, the step counter, the generator position and
// the stall detector's explored box. Restoring them continues the exact
// waypoint sequence, and the stopping step, of an uninterrupted walk.
type Checkpoint struct {
	SessionID string `json:"sessionId"`

	// Current is q_current after the last completed step
	Current []float64 `json:"current"`

	// Steps is the number of completed steps
	Steps int `json:"steps"`

	// Waypoints is the number of waypoints emitted so far
	Waypoints int `json:"waypoints"`

	// RandState is the serialised direction generator (base64 in JSON)
	RandState []byte `json:"randState,omitempty"`

	// Status is the session state when the checkpoint was taken
	Status string `json:"status,omitempty"`

	// Stall is the stall detector state; nil when detection is off
	Stall *walk.StallSnapshot `json:"stall,omitempty"`

	Timestamp time.Time     `json:"timestamp"`
	Config    SessionConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata for listings.
type CheckpointInfo struct {
	SessionID   string    `json:"sessionId"`
	Region      string    `json:"region,omitempty"`
	Dim         int       `json:"dim"`
	Constraints int       `json:"constraints"`
	Steps       int       `json:"steps"`
	Waypoints   int       `json:"waypoints"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(sessionID string, current []float64, steps, waypoints int, randState []byte, config SessionConfig) *Checkpoint {
	return &Checkpoint{
		SessionID: sessionID,
		Current:   slices.Clone(current),
		Steps:     steps,
		Waypoints: waypoints,
		RandState: slices.Clone(randState),
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		SessionID:   c.SessionID,
		Region:      c.Config.Region.Name,
		Dim:         len(c.Current),
		Constraints: len(c.Config.Region.A),
		Steps:       c.Steps,
		Waypoints:   c.Waypoints,
		Status:      c.Status,
		Timestamp:   c.Timestamp,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.SessionID == "" {
		return &ValidationError{Field: "SessionID", Reason: "cannot be empty"}
	}
	if len(c.Current) == 0 {
		return &ValidationError{Field: "Current", Reason: "cannot be empty"}
	}
	for _, v := range c.Current {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "Current", Reason: "must be finite"}
		}
	}
	if c.Steps < 0 {
		return &ValidationError{Field: "Steps", Reason: "cannot be negative"}
	}
	if c.Waypoints < 0 {
		return &ValidationError{Field: "Waypoints", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if dim := c.Config.Region.Dim(); dim != len(c.Current) {
		return &ValidationError{
			Field:  "Current",
			Reason: fmt.Sprintf("length mismatch: expected %d coordinates, got %d", dim, len(c.Current)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether this checkpoint can be resumed under config.
// The region must be identical; pacing and limits may change.
func (c *Checkpoint) IsCompatible(config SessionConfig) error {
	want, got := c.Config.Region, config.Region
	if want.Dim() != got.Dim() {
		return &CompatibilityError{
			Field:    "Region.Dim",
			Expected: fmt.Sprint(want.Dim()),
			Actual:   fmt.Sprint(got.Dim()),
		}
	}
	if len(want.A) != len(got.A) {
		return &CompatibilityError{
			Field:    "Region.Constraints",
			Expected: fmt.Sprint(len(want.A)),
			Actual:   fmt.Sprint(len(got.A)),
		}
	}
	if !sameRows(want.A, got.A) || !slices.Equal(want.B, got.B) {
		return &CompatibilityError{Field: "Region", Expected: "identical inequalities", Actual: "modified inequalities"}
	}
	if !slices.Equal(want.Lower, got.Lower) || !slices.Equal(want.Upper, got.Upper) {
		return &CompatibilityError{Field: "Region.Limits", Expected: fmt.Sprint(want.Lower, want.Upper), Actual: fmt.Sprint(got.Lower, got.Upper)}
	}
	if c.Config.Interpolation != config.Interpolation {
		return &CompatibilityError{
			Field:    "Interpolation",
			Expected: fmt.Sprint(c.Config.Interpolation),
			Actual:   fmt.Sprint(config.Interpolation),
		}
	}
	return nil
}

func sameRows(a, b [][]float64) bool {
	return slices.EqualFunc(a, b, func(x, y []float64) bool { return slices.Equal(x, y) })
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
