package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/polywalk/internal/walk"
)

func testWaypoints(step int) []walk.Waypoint {
	points := walk.Interpolate([]float64{0, 0}, []float64{1, 0.5}, 4)
	out := make([]walk.Waypoint, len(points))
	for i, q := range points {
		out[i] = walk.Waypoint{Step: step, Index: i, T: float64(i) / 4, Q: q}
	}
	return out
}

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tempDir := t.TempDir()

	tw, err := NewTraceWriter(tempDir, "walk-1", false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	if tw.Path() != filepath.Join(tempDir, "walks", "walk-1", "trace.jsonl") {
		t.Errorf("unexpected trace path %s", tw.Path())
	}

	want := testWaypoints(1)
	for _, wp := range want {
		if err := tw.WriteWaypoint(wp); err != nil {
			t.Fatalf("WriteWaypoint failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	tr, err := NewTraceReader(tempDir, "walk-1")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		got := e.Waypoint()
		if got.Step != want[i].Step || got.Index != want[i].Index || got.T != want[i].T {
			t.Errorf("entry %d: got %+v, want %+v", i, got, want[i])
		}
		for j := range got.Q {
			if got.Q[j] != want[i].Q[j] {
				t.Errorf("entry %d coord %d: got %v, want %v", i, j, got.Q[j], want[i].Q[j])
			}
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has zero timestamp", i)
		}
	}
}

func TestTraceWriter_AppendAndTruncate(t *testing.T) {
	tempDir := t.TempDir()

	write := func(appendMode bool, step int) {
		tw, err := NewTraceWriter(tempDir, "walk-1", appendMode)
		if err != nil {
			t.Fatal(err)
		}
		for _, wp := range testWaypoints(step) {
			if err := tw.WriteWaypoint(wp); err != nil {
				t.Fatal(err)
			}
		}
		if err := tw.Close(); err != nil {
			t.Fatal(err)
		}
	}
	count := func() int {
		tr, err := NewTraceReader(tempDir, "walk-1")
		if err != nil {
			t.Fatal(err)
		}
		defer tr.Close()
		entries, err := tr.ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		return len(entries)
	}

	write(false, 1)
	write(true, 2)
	if n := count(); n != 10 {
		t.Errorf("after append expected 10 entries, got %d", n)
	}

	write(false, 3)
	if n := count(); n != 5 {
		t.Errorf("after truncate expected 5 entries, got %d", n)
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "walk-1", false)
	if err != nil {
		t.Fatal(err)
	}
	defer tw.Close()

	if err := tw.Write(TraceEntry{Step: 1, Q: []float64{0}, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(tw.Path())
	if info.Size() != 0 {
		t.Errorf("expected buffered write, file has %d bytes", info.Size())
	}

	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	info, _ = os.Stat(tw.Path())
	if info.Size() == 0 {
		t.Error("expected data on disk after Flush")
	}
}

func TestReadTrace_Stream(t *testing.T) {
	input := `{"step":1,"index":0,"t":0,"q":[0,0],"timestamp":"2024-01-01T00:00:00Z"}

{"step":1,"index":1,"t":1,"q":[1,0],"timestamp":"2024-01-01T00:00:01Z"}
`
	tr := ReadTrace(strings.NewReader(input))
	defer tr.Close()

	first, err := tr.Read()
	if err != nil {
		t.Fatal(err)
	}
	if first.Index != 0 || first.Q[0] != 0 {
		t.Errorf("unexpected first entry %+v", first)
	}
	second, err := tr.Read()
	if err != nil {
		t.Fatal(err)
	}
	if second.T != 1 || second.Q[0] != 1 {
		t.Errorf("unexpected second entry %+v", second)
	}
	if _, err := tr.Read(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadTrace_MalformedLine(t *testing.T) {
	tr := ReadTrace(strings.NewReader("{\"step\":1}\nnot-json\n"))

	if _, err := tr.Read(); err != nil {
		t.Fatal(err)
	}
	_, err := tr.Read()
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error naming line 2, got %v", err)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTruncateTrace(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "walk-1", false)
	if err != nil {
		t.Fatal(err)
	}
	for step := 1; step <= 2; step++ {
		for _, wp := range testWaypoints(step) {
			if err := tw.WriteWaypoint(wp); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	// A torn line from a crash mid-write.
	f, err := os.OpenFile(TracePath(tempDir, "walk-1"), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"step":3,"ind`)
	f.Close()

	read := func() []TraceEntry {
		tr, err := NewTraceReader(tempDir, "walk-1")
		if err != nil {
			t.Fatal(err)
		}
		defer tr.Close()
		entries, err := tr.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		return entries
	}

	if err := TruncateTrace(tempDir, "walk-1", 20); err != nil {
		t.Fatalf("TruncateTrace failed: %v", err)
	}
	if n := len(read()); n != 10 {
		t.Errorf("expected the 10 complete entries, got %d", n)
	}

	if err := TruncateTrace(tempDir, "walk-1", 7); err != nil {
		t.Fatalf("TruncateTrace failed: %v", err)
	}
	entries := read()
	if len(entries) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(entries))
	}
	if last := entries[6]; last.Step != 2 || last.Index != 1 {
		t.Errorf("unexpected last entry step=%d index=%d", last.Step, last.Index)
	}

	if err := TruncateTrace(tempDir, "missing", 3); err != nil {
		t.Errorf("truncating a missing trace should succeed, got %v", err)
	}
}

func TestDeleteTrace(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "walk-1", false)
	if err != nil {
		t.Fatal(err)
	}
	tw.Close()

	if err := DeleteTrace(tempDir, "walk-1"); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}
	if _, err := os.Stat(TracePath(tempDir, "walk-1")); !os.IsNotExist(err) {
		t.Error("trace file still exists")
	}
	if err := DeleteTrace(tempDir, "walk-1"); err != nil {
		t.Errorf("deleting a missing trace should succeed, got %v", err)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "walk-1", false)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := tw.Write(TraceEntry{Step: g, Index: i, Q: []float64{float64(i)}}); err != nil {
					t.Error(fmt.Errorf("goroutine %d: %w", g, err))
				}
			}
		}(g)
	}
	wg.Wait()
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	tr, err := NewTraceReader(tempDir, "walk-1")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("interleaved lines: %v", err)
	}
	if len(entries) != 400 {
		t.Errorf("expected 400 entries, got %d", len(entries))
	}
}
