package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/polywalk/internal/opt"
	"github.com/cwbudde/polywalk/internal/polytope"
	"github.com/cwbudde/polywalk/internal/store"
)

func squareConfig(maxSteps, interp int) SessionConfig {
	return SessionConfig{
		Region: polytope.RegionSpec{
			Name: "square",
			A:    [][]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}},
			B:    []float64{1, 1, 1, 1},
		},
		Seed:          7,
		MaxSteps:      maxSteps,
		Interpolation: interp,
	}
}

func newTestDeps(t *testing.T) (workerDeps, *store.FSStore) {
	t.Helper()
	dataDir := t.TempDir()
	fs, err := store.NewFSStore(dataDir)
	require.NoError(t, err)
	return workerDeps{
		sessions: NewSessionManager(),
		store:    fs,
		dataDir:  dataDir,
		metrics:  NewMetrics(),
		solver:   opt.NewSimplex(0),
	}, fs
}

func readTrace(t *testing.T, dataDir, id string) []store.TraceEntry {
	t.Helper()
	tr, err := store.NewTraceReader(dataDir, id)
	require.NoError(t, err)
	defer tr.Close()
	entries, err := tr.ReadAll()
	require.NoError(t, err)
	return entries
}

func TestRunWalk_Completes(t *testing.T) {
	deps, fs := newTestDeps(t)
	session := deps.sessions.CreateSession(squareConfig(3, 4))

	require.NoError(t, runWalk(context.Background(), deps, session.ID, nil))

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 3, got.Steps)
	assert.Equal(t, 15, got.Waypoints)
	assert.Equal(t, "step limit reached", got.StopReason)
	assert.NotNil(t, got.EndTime)
	assert.Len(t, got.Current, 2)

	entries := readTrace(t, deps.dataDir, session.ID)
	require.Len(t, entries, 15)
	assert.Equal(t, got.Current, entries[14].Q)

	checkpoint, err := fs.LoadCheckpoint(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, checkpoint.Steps)
	assert.Equal(t, 15, checkpoint.Waypoints)
	assert.Equal(t, string(StateCompleted), checkpoint.Status)
	assert.NotEmpty(t, checkpoint.RandState)
	assert.NoError(t, checkpoint.Validate())
}

func TestRunWalk_ResumeContinuesSequence(t *testing.T) {
	ctx := context.Background()

	// Uninterrupted reference walk of four steps.
	refDeps, _ := newTestDeps(t)
	ref := refDeps.sessions.CreateSession(squareConfig(4, 5))
	require.NoError(t, runWalk(ctx, refDeps, ref.ID, nil))
	want := readTrace(t, refDeps.dataDir, ref.ID)
	require.Len(t, want, 4*6)

	// Two steps, then resume the checkpoint for two more.
	deps, fs := newTestDeps(t)
	first, err := deps.sessions.CreateSessionWithID("resumable", squareConfig(2, 5))
	require.NoError(t, err)
	require.NoError(t, runWalk(ctx, deps, first.ID, nil))

	checkpoint, err := fs.LoadCheckpoint(ctx, "resumable")
	require.NoError(t, err)
	require.Equal(t, 2, checkpoint.Steps)

	_, err = deps.sessions.CreateSessionWithID("resumable", squareConfig(4, 5))
	require.NoError(t, err)
	require.NoError(t, runWalk(ctx, deps, "resumable", checkpoint))

	got := readTrace(t, deps.dataDir, "resumable")
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Step, got[i].Step)
		assert.Equal(t, want[i].Index, got[i].Index)
		assert.Equal(t, want[i].Q, got[i].Q, "waypoint %d", i)
	}

	session, _ := deps.sessions.GetSession("resumable")
	assert.Equal(t, 2, session.ResumedAt)
	assert.Equal(t, 4, session.Steps)
	assert.Equal(t, 24, session.Waypoints)
}

func TestRunWalk_IncompatibleCheckpoint(t *testing.T) {
	deps, _ := newTestDeps(t)
	checkpoint := store.NewCheckpoint("walk", []float64{0, 0}, 1, 21, nil, squareConfig(0, 20))

	_, err := deps.sessions.CreateSessionWithID("walk", squareConfig(0, 10))
	require.NoError(t, err)

	err = runWalk(context.Background(), deps, "walk", checkpoint)
	var ce *store.CompatibilityError
	assert.ErrorAs(t, err, &ce)

	session, _ := deps.sessions.GetSession("walk")
	assert.Equal(t, StateFailed, session.State)
}

func TestRunWalk_InvalidRegion(t *testing.T) {
	deps, _ := newTestDeps(t)
	cfg := squareConfig(3, 4)
	cfg.Region.Center = []float64{5, 5}
	session := deps.sessions.CreateSession(cfg)

	err := runWalk(context.Background(), deps, session.ID, nil)
	assert.Error(t, err)

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.NotEmpty(t, got.Error)
}

func TestRunWalk_UnboundedRegionFails(t *testing.T) {
	deps, _ := newTestDeps(t)
	cfg := SessionConfig{
		Region: polytope.RegionSpec{A: [][]float64{{1, 0}}, B: []float64{1}, Center: []float64{0, 0}},
		Seed:   1,
	}.WithDefaults()
	session := deps.sessions.CreateSession(cfg)

	err := runWalk(context.Background(), deps, session.ID, nil)
	require.Error(t, err)

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Error, "linear program")
}

func TestRunWalk_StopRequest(t *testing.T) {
	deps, _ := newTestDeps(t)
	session := deps.sessions.CreateSession(squareConfig(0, 4))

	events := deps.sessions.Broadcaster().Subscribe(session.ID)
	done := make(chan error, 1)
	go func() { done <- runWalk(context.Background(), deps, session.ID, nil) }()

	for ev := range events {
		if ev.Type == EventWaypoint && ev.Steps >= 2 {
			_, err := deps.sessions.RequestStop(session.ID)
			require.NoError(t, err)
			break
		}
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("walk did not stop")
	}

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateStopped, got.State)
	assert.Equal(t, "stop requested", got.StopReason)
	assert.Equal(t, got.Steps*5, got.Waypoints, "a started step always completes")
}

func TestRunWalk_ContextCancel(t *testing.T) {
	deps, fs := newTestDeps(t)
	cfg := squareConfig(0, 4)
	cfg.DelayMillis = 1
	session := deps.sessions.CreateSession(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	require.NoError(t, runWalk(ctx, deps, session.ID, nil))

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateCancelled, got.State)
	assert.Equal(t, "server shutdown", got.StopReason)

	checkpoint, err := fs.LoadCheckpoint(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StateCancelled), checkpoint.Status)
	assert.Equal(t, got.Steps, checkpoint.Steps)
}

func TestRunWalk_Stall(t *testing.T) {
	deps, _ := newTestDeps(t)
	cfg := squareConfig(0, 2)
	cfg.StallPatience = 3
	cfg.StallThreshold = 10 // no step can grow the explored box by 1000%
	session := deps.sessions.CreateSession(cfg)

	require.NoError(t, runWalk(context.Background(), deps, session.ID, nil))

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, "walk stalled", got.StopReason)
	assert.Greater(t, got.Steps, 3)
}

func TestRunWalk_ResumeKeepsStallProgress(t *testing.T) {
	ctx := context.Background()
	stallConfig := func(maxSteps int) SessionConfig {
		cfg := squareConfig(maxSteps, 2)
		cfg.StallPatience = 5
		cfg.StallThreshold = 0.01
		return cfg
	}

	refDeps, _ := newTestDeps(t)
	ref := refDeps.sessions.CreateSession(stallConfig(1000))
	require.NoError(t, runWalk(ctx, refDeps, ref.ID, nil))
	want, _ := refDeps.sessions.GetSession(ref.ID)
	require.Equal(t, "walk stalled", want.StopReason)
	split := want.Steps / 2
	require.Positive(t, split)

	deps, fs := newTestDeps(t)
	_, err := deps.sessions.CreateSessionWithID("stalling", stallConfig(split))
	require.NoError(t, err)
	require.NoError(t, runWalk(ctx, deps, "stalling", nil))

	checkpoint, err := fs.LoadCheckpoint(ctx, "stalling")
	require.NoError(t, err)
	require.Equal(t, split, checkpoint.Steps)
	require.NotNil(t, checkpoint.Stall)
	assert.Equal(t, split, checkpoint.Stall.Observed)

	_, err = deps.sessions.CreateSessionWithID("stalling", stallConfig(1000))
	require.NoError(t, err)
	require.NoError(t, runWalk(ctx, deps, "stalling", checkpoint))

	got, _ := deps.sessions.GetSession("stalling")
	assert.Equal(t, "walk stalled", got.StopReason)
	assert.Equal(t, want.Steps, got.Steps)
	assert.Equal(t, want.Waypoints, got.Waypoints)
}

func TestRunWalk_ResumeDropsTraceAfterCheckpoint(t *testing.T) {
	ctx := context.Background()
	deps, fs := newTestDeps(t)
	_, err := deps.sessions.CreateSessionWithID("crashed", squareConfig(3, 4))
	require.NoError(t, err)
	require.NoError(t, runWalk(ctx, deps, "crashed", nil))
	want := readTrace(t, deps.dataDir, "crashed")
	require.Len(t, want, 15)

	// A checkpoint taken after two steps, while the trace already holds three.
	final, err := fs.LoadCheckpoint(ctx, "crashed")
	require.NoError(t, err)
	short, err := deps.sessions.CreateSessionWithID("short", squareConfig(2, 4))
	require.NoError(t, err)
	shortDeps, shortFS := newTestDeps(t)
	shortDeps.sessions = deps.sessions
	require.NoError(t, runWalk(ctx, shortDeps, short.ID, nil))
	checkpoint, err := shortFS.LoadCheckpoint(ctx, short.ID)
	require.NoError(t, err)
	require.Equal(t, 10, checkpoint.Waypoints)
	checkpoint.SessionID = "crashed"

	_, err = deps.sessions.CreateSessionWithID("crashed", final.Config)
	require.NoError(t, err)
	require.NoError(t, runWalk(ctx, deps, "crashed", checkpoint))

	got := readTrace(t, deps.dataDir, "crashed")
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Step, got[i].Step, "entry %d", i)
		assert.Equal(t, want[i].Index, got[i].Index, "entry %d", i)
		assert.Equal(t, want[i].Q, got[i].Q, "entry %d", i)
	}
}

func TestRunWalk_WithoutStoreOrTrace(t *testing.T) {
	deps := workerDeps{
		sessions: NewSessionManager(),
		metrics:  NewMetrics(),
		solver:   opt.NewSimplex(0),
	}
	session := deps.sessions.CreateSession(squareConfig(2, 3))

	require.NoError(t, runWalk(context.Background(), deps, session.ID, nil))

	got, _ := deps.sessions.GetSession(session.ID)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 8, got.Waypoints)
}

func TestRunWalk_UnknownSession(t *testing.T) {
	deps, _ := newTestDeps(t)
	assert.Error(t, runWalk(context.Background(), deps, "missing", nil))
}
