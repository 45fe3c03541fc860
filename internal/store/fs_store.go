package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore implements Store on the filesystem. Each session owns a
// directory <baseDir>/walks/<sessionID>/ holding checkpoint.json and
// trace.jsonl.
//
// Writes go through temp file + rename, so no locks are needed.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store, creating baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root data directory.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// SessionDir returns the directory of a session.
func (fs *FSStore) SessionDir(sessionID string) string {
	return SessionDir(fs.baseDir, sessionID)
}

// SessionDir returns <baseDir>/walks/<sessionID>.
func SessionDir(baseDir, sessionID string) string {
	return filepath.Join(baseDir, "walks", sessionID)
}

func (fs *FSStore) checkpointPath(sessionID string) string {
	return filepath.Join(fs.SessionDir(sessionID), "checkpoint.json")
}

// SaveCheckpoint atomically saves a checkpoint.
func (fs *FSStore) SaveCheckpoint(ctx context.Context, sessionID string, checkpoint *Checkpoint) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(fs.SessionDir(sessionID), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := fs.checkpointPath(sessionID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved", "session_id", sessionID, "steps", checkpoint.Steps, "path", finalPath)
	return nil
}

// LoadCheckpoint reads the checkpoint of a session.
func (fs *FSStore) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := fs.checkpointPath(sessionID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{SessionID: sessionID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "session_id", sessionID, "path", path)
	return &checkpoint, nil
}

// ListCheckpoints scans <baseDir>/walks for sessions with a checkpoint.
func (fs *FSStore) ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error) {
	walksDir := filepath.Join(fs.baseDir, "walks")

	entries, err := os.ReadDir(walksDir)
	if os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read walks directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sessionID := entry.Name()
		if _, err := os.Stat(fs.checkpointPath(sessionID)); os.IsNotExist(err) {
			continue
		}

		checkpoint, err := fs.LoadCheckpoint(ctx, sessionID)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "session_id", sessionID, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the whole session directory.
func (fs *FSStore) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := fs.SessionDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{SessionID: sessionID}
	} else if err != nil {
		return fmt.Errorf("failed to stat session directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "session_id", sessionID, "path", dir)
	return nil
}
