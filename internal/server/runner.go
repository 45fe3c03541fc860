package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cwbudde/polywalk/internal/opt"
	"github.com/cwbudde/polywalk/internal/store"
	"github.com/cwbudde/polywalk/internal/walk"
)

// Runner executes walk sessions in the calling goroutine. It shares the
// server's worker, so local walks write the same traces and checkpoints.
type Runner struct {
	deps workerDeps
}

// NewRunner creates a Runner. checkpointStore may be nil and dataDir empty.
func NewRunner(checkpointStore store.Store, dataDir string) *Runner {
	return &Runner{deps: workerDeps{
		sessions: NewSessionManager(),
		store:    checkpointStore,
		dataDir:  dataDir,
		metrics:  NewMetrics(),
		solver:   opt.NewSimplex(0),
	}}
}

// OnWaypoint registers a callback for every emitted waypoint.
func (r *Runner) OnWaypoint(fn func(walk.Waypoint)) {
	r.deps.onWaypoint = fn
}

// Sessions returns the runner's session manager
func (r *Runner) Sessions() *SessionManager {
	return r.deps.sessions
}

// Run walks a new session until it finishes or ctx is cancelled. An empty
// id is replaced by a fresh UUID. The final session snapshot is returned
// together with the walk error, if any.
func (r *Runner) Run(ctx context.Context, id string, cfg SessionConfig) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	if _, err := r.deps.sessions.CreateSessionWithID(id, cfg); err != nil {
		return nil, err
	}
	return r.finish(id, runWalk(ctx, r.deps, id, nil))
}

// Resume continues a checkpointed session. cfg replaces the stored
// configuration when not nil; it must describe the same region.
func (r *Runner) Resume(ctx context.Context, checkpoint *store.Checkpoint, cfg *SessionConfig) (*Session, error) {
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	config := checkpoint.Config
	if cfg != nil {
		config = cfg.WithDefaults()
	}
	if _, err := r.deps.sessions.CreateSessionWithID(checkpoint.SessionID, config); err != nil {
		return nil, err
	}
	return r.finish(checkpoint.SessionID, runWalk(ctx, r.deps, checkpoint.SessionID, checkpoint))
}

func (r *Runner) finish(id string, err error) (*Session, error) {
	session, _ := r.deps.sessions.GetSession(id)
	return session, err
}
