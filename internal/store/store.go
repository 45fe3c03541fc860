package store

import "context"

// Store persists walk checkpoints. Implementations must be safe for
// concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a checkpoint doesn't exist (Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveCheckpoint saves the checkpoint of a walk session, replacing any
	// previous one. Writes must be atomic: a reader sees either the old or
	// the new checkpoint, never a partial one.
	SaveCheckpoint(ctx context.Context, sessionID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint of a session.
	LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for all stored checkpoints. Entries
	// that cannot be decoded are skipped.
	ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error)

	// DeleteCheckpoint removes a checkpoint and, where the backend keeps
	// them, its associated artifacts (trace.jsonl).
	DeleteCheckpoint(ctx context.Context, sessionID string) error
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint or trace.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	if e.SessionID != "" {
		return "checkpoint not found: " + e.SessionID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
