package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/polywalk/internal/polytope"
)

func testConfig() SessionConfig {
	return SessionConfig{
		Region: polytope.RegionSpec{
			Name:   "square",
			A:      [][]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}},
			B:      []float64{1, 1, 1, 1},
			Center: []float64{0, 0},
		},
		Seed:               42,
		MaxSteps:           100,
		Interpolation:      20,
		CheckpointInterval: 5,
	}
}

// createTestCheckpoint creates a checkpoint with test data.
func createTestCheckpoint(sessionID string) *Checkpoint {
	return &Checkpoint{
		SessionID: sessionID,
		Current:   []float64{0.25, -0.5},
		Steps:     12,
		Waypoints: 252,
		RandState: []byte{0x70, 0x63, 0x67, 0x3a, 1, 2, 3},
		Status:    "running",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Config:    testConfig(),
	}
}

// runStoreContract exercises behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := createTestCheckpoint("walk-1")

		require.NoError(t, s.SaveCheckpoint(ctx, "walk-1", want))
		got, err := s.LoadCheckpoint(ctx, "walk-1")
		require.NoError(t, err)

		assert.Equal(t, want.SessionID, got.SessionID)
		assert.Equal(t, want.Current, got.Current)
		assert.Equal(t, want.Steps, got.Steps)
		assert.Equal(t, want.Waypoints, got.Waypoints)
		assert.Equal(t, want.RandState, got.RandState)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, want.Config, got.Config)
		assert.NoError(t, got.Validate())
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t)
		cp := createTestCheckpoint("walk-1")
		require.NoError(t, s.SaveCheckpoint(ctx, "walk-1", cp))

		cp.Steps = 99
		cp.Current = []float64{1, 1}
		require.NoError(t, s.SaveCheckpoint(ctx, "walk-1", cp))

		got, err := s.LoadCheckpoint(ctx, "walk-1")
		require.NoError(t, err)
		assert.Equal(t, 99, got.Steps)
		assert.Equal(t, []float64{1, 1}, got.Current)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadCheckpoint(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)

		var nf *NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "nope", nf.SessionID)
	})

	t.Run("EmptyID", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.SaveCheckpoint(ctx, "", createTestCheckpoint("x")))
		assert.Error(t, s.SaveCheckpoint(ctx, "x", nil))
		_, err := s.LoadCheckpoint(ctx, "")
		assert.Error(t, err)
		assert.Error(t, s.DeleteCheckpoint(ctx, ""))
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		s := newStore(t)
		infos, err := s.ListCheckpoints(ctx)
		require.NoError(t, err)
		assert.Empty(t, infos)

		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("walk-%d", i)
			cp := createTestCheckpoint(id)
			cp.Steps = i
			require.NoError(t, s.SaveCheckpoint(ctx, id, cp))
		}

		infos, err = s.ListCheckpoints(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 3)
		sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
		for i, info := range infos {
			assert.Equal(t, fmt.Sprintf("walk-%d", i), info.SessionID)
			assert.Equal(t, i, info.Steps)
			assert.Equal(t, "square", info.Region)
			assert.Equal(t, 2, info.Dim)
			assert.Equal(t, 4, info.Constraints)
		}

		require.NoError(t, s.DeleteCheckpoint(ctx, "walk-1"))
		_, err = s.LoadCheckpoint(ctx, "walk-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteCheckpoint(ctx, "walk-1"), ErrNotFound)

		infos, err = s.ListCheckpoints(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 2)
	})

	t.Run("ConcurrentSave", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("concurrent-%d", i)
				errs <- s.SaveCheckpoint(ctx, id, createTestCheckpoint(id))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		infos, err := s.ListCheckpoints(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 10)
	})
}
