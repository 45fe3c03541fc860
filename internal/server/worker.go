package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/polywalk/internal/opt"
	"github.com/cwbudde/polywalk/internal/store"
	"github.com/cwbudde/polywalk/internal/walk"
)

// workerDeps are the collaborators a walk worker needs. store and dataDir
// may be empty, which disables checkpoints and traces respectively.
type workerDeps struct {
	sessions   *SessionManager
	store      store.Store
	dataDir    string
	metrics    *Metrics
	solver     opt.LinearSolver
	onWaypoint func(walk.Waypoint) // optional, called after the trace write
}

// runWalk executes a walk session until its step limit, a stall, a stop
// request, a solver failure or ctx cancellation. from, when not nil, is
// the checkpoint the session resumes.
func runWalk(ctx context.Context, deps workerDeps, sessionID string, from *store.Checkpoint) error {
	sm := deps.sessions
	session, exists := sm.GetSession(sessionID)
	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	cfg := session.Config

	sm.UpdateSession(sessionID, func(s *Session) {
		s.State = StateRunning
	})
	deps.metrics.activeWalks.Inc()
	defer deps.metrics.activeWalks.Dec()
	broadcastState(sm, sessionID)

	slog.Info("Starting walk", "session_id", sessionID, "region", cfg.Region.Name, "seed", cfg.Seed, "resume", from != nil)

	region, err := cfg.Region.Build(deps.solver)
	if err != nil {
		return finishSession(deps, sessionID, StateFailed, fmt.Errorf("failed to build region: %w", err))
	}

	rng := walk.NewGaussianSource(cfg.Seed)
	stall := walk.NewStallTracker(cfg.Stall())
	opts := append(cfg.WalkOptions(), walk.WithStepObserver(func(report walk.StepReport) {
		deps.metrics.ObserveStep(report)
		stall.Observe(report)
		if report.Err != nil {
			slog.Warn("Walk step failed", "session_id", sessionID, "step", report.Step, "error", report.Err)
		}
	}))

	var state *walk.State
	if from != nil {
		if err := from.IsCompatible(cfg); err != nil {
			return finishSession(deps, sessionID, StateFailed, err)
		}
		if len(from.RandState) > 0 {
			if err := rng.UnmarshalBinary(from.RandState); err != nil {
				return finishSession(deps, sessionID, StateFailed, err)
			}
		}
		if from.Stall != nil && cfg.Stall().Enabled {
			if err := stall.Restore(*from.Stall); err != nil {
				return finishSession(deps, sessionID, StateFailed, err)
			}
		}
		state, err = walk.Resume(region, from.Current, from.Steps, opts...)
	} else {
		state, err = walk.Initialize(region, opts...)
	}
	if err != nil {
		return finishSession(deps, sessionID, StateFailed, err)
	}

	walker, err := walk.New(region, deps.solver, rng, opts...)
	if err != nil {
		return finishSession(deps, sessionID, StateFailed, err)
	}

	waypoints := 0
	if from != nil {
		waypoints = from.Waypoints
	}
	sm.UpdateSession(sessionID, func(s *Session) {
		s.Current = append([]float64(nil), state.Current...)
		s.Steps = state.Steps
		s.Waypoints = waypoints
		if from != nil {
			s.ResumedAt = from.Steps
		}
	})

	var trace *store.TraceWriter
	if deps.dataDir != "" {
		// Waypoints written after the checkpoint are emitted again.
		if from != nil {
			if err := store.TruncateTrace(deps.dataDir, sessionID, from.Waypoints); err != nil {
				slog.Warn("Failed to truncate trace", "session_id", sessionID, "error", err)
			}
		}
		trace, err = store.NewTraceWriter(deps.dataDir, sessionID, from != nil)
		if err != nil {
			slog.Warn("Trace disabled", "session_id", sessionID, "error", err)
			trace = nil
		}
	}

	checkpointEvery := time.Duration(cfg.CheckpointInterval) * time.Second
	lastCheckpoint := time.Now()
	delay := cfg.Delay()
	lastIndex := walker.InterpolationSteps()

	onWaypoint := func(wp walk.Waypoint) {
		// Pacing stops once ctx is done; the step still completes.
		if delay > 0 && ctx.Err() == nil {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}

		waypoints++
		deps.metrics.waypoints.Inc()
		if trace != nil {
			if err := trace.WriteWaypoint(wp); err != nil {
				slog.Warn("Failed to write trace", "session_id", sessionID, "error", err)
			}
		}
		if deps.onWaypoint != nil {
			deps.onWaypoint(wp)
		}

		sm.UpdateSession(sessionID, func(s *Session) {
			s.Current = append(s.Current[:0], wp.Q...)
			s.Waypoints = waypoints
			if wp.Index == lastIndex {
				s.Steps = wp.Step
			}
		})
		sm.Broadcaster().Broadcast(WalkEvent{
			SessionID: sessionID,
			Type:      EventWaypoint,
			State:     StateRunning,
			Waypoint:  &wp,
			Steps:     wp.Step,
			Waypoints: waypoints,
			Timestamp: time.Now(),
		})

		// Checkpoints are only consistent at step boundaries, where state
		// and the generator agree.
		if wp.Index == lastIndex && deps.store != nil && checkpointEvery > 0 && time.Since(lastCheckpoint) >= checkpointEvery {
			lastCheckpoint = time.Now()
			if err := saveCheckpoint(ctx, deps.store, sessionID, state, waypoints, rng, stall, cfg, StateRunning); err != nil {
				slog.Error("Failed to save checkpoint", "session_id", sessionID, "error", err)
			}
			if trace != nil {
				if err := trace.Flush(); err != nil {
					slog.Warn("Failed to flush trace", "session_id", sessionID, "error", err)
				}
			}
		}
	}

	// The first predicate to fire names the reason; StopAny still
	// evaluates the rest so the step counter stays in step.
	stopReason := ""
	because := func(reason string, pred func() bool) func() bool {
		return func() bool {
			if !pred() {
				return false
			}
			if stopReason == "" {
				stopReason = reason
			}
			return true
		}
	}
	shouldStop := walk.StopAny(
		because("server shutdown", walk.StopOnContext(ctx)),
		because("stop requested", func() bool { return sm.StopRequested(sessionID) }),
		because("step limit reached", stepLimit(cfg.MaxSteps, state.Steps)),
		because("walk stalled", stall.ShouldStop),
	)

	runErr := walker.Run(state, onWaypoint, shouldStop)

	// The trace is complete before the session turns terminal.
	if trace != nil {
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "session_id", sessionID, "error", err)
		}
	}

	final := StateCompleted
	switch {
	case runErr != nil:
		final = StateFailed
	case ctx.Err() != nil:
		final = StateCancelled
	case stopReason == "stop requested":
		final = StateStopped
	}

	if deps.store != nil {
		if err := saveCheckpoint(context.WithoutCancel(ctx), deps.store, sessionID, state, waypoints, rng, stall, cfg, final); err != nil {
			slog.Error("Failed to save final checkpoint", "session_id", sessionID, "error", err)
		}
	}

	sm.UpdateSession(sessionID, func(s *Session) {
		s.Current = append(s.Current[:0], state.Current...)
		s.Steps = state.Steps
		s.StopReason = stopReason
	})
	return finishSession(deps, sessionID, final, runErr)
}

// stepLimit allows the steps left of maxSteps after done; 0 means no limit.
func stepLimit(maxSteps, done int) func() bool {
	if maxSteps <= 0 {
		return walk.StopAfter(0)
	}
	if done >= maxSteps {
		return func() bool { return true }
	}
	return walk.StopAfter(maxSteps - done)
}

// saveCheckpoint persists the walker state together with the generator
// position and the stall detector.
func saveCheckpoint(ctx context.Context, st store.Store, sessionID string, state *walk.State, waypoints int, rng *walk.GaussianSource, stall *walk.StallTracker, cfg SessionConfig, status SessionState) error {
	randState, err := rng.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to capture random state: %w", err)
	}
	checkpoint := store.NewCheckpoint(sessionID, state.Current, state.Steps, waypoints, randState, cfg)
	checkpoint.Status = string(status)
	if cfg.Stall().Enabled {
		snap := stall.Snapshot()
		checkpoint.Stall = &snap
	}
	if err := st.SaveCheckpoint(ctx, sessionID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	slog.Info("Checkpoint saved", "session_id", sessionID, "steps", state.Steps, "status", status)
	return nil
}

// finishSession moves a session into a terminal state, notifies clients and
// closes their streams. It returns err so callers can `return finishSession(...)`.
func finishSession(deps workerDeps, sessionID string, final SessionState, err error) error {
	endTime := time.Now()
	deps.sessions.UpdateSession(sessionID, func(s *Session) {
		s.State = final
		s.EndTime = &endTime
		if err != nil {
			s.Error = err.Error()
		}
	})
	deps.metrics.sessions.WithLabelValues(string(final)).Inc()

	if final == StateFailed {
		slog.Error("Walk failed", "session_id", sessionID, "error", err)
	} else if session, ok := deps.sessions.GetSession(sessionID); ok {
		slog.Info("Walk finished", "session_id", sessionID, "state", final, "steps", session.Steps, "waypoints", session.Waypoints, "reason", session.StopReason)
	}

	broadcastState(deps.sessions, sessionID)
	deps.sessions.Broadcaster().CloseSession(sessionID)
	return err
}

func broadcastState(sm *SessionManager, sessionID string) {
	if session, ok := sm.GetSession(sessionID); ok {
		sm.Broadcaster().Broadcast(stateEvent(session))
	}
}
