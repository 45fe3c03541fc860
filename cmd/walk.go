package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/polytope"
	"github.com/cwbudde/polywalk/internal/render"
	"github.com/cwbudde/polywalk/internal/server"
	"github.com/cwbudde/polywalk/internal/store"
	"github.com/cwbudde/polywalk/internal/walk"
)

// walkFlags are the tuning flags shared by walk and resume.
type walkFlags struct {
	steps              int
	seed               uint64
	interp             int
	delay              time.Duration
	checkpointInterval time.Duration
	stallPatience      int
	stallThreshold     float64
	noTieBreak         bool
	print              bool
	plot               string
}

func (f *walkFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.steps, "steps", 100, "Number of walker steps (0 = until stalled or interrupted)")
	cmd.Flags().IntVar(&f.interp, "interp", walk.DefaultInterpolationSteps, "Interpolation segments per step")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Pause between waypoints")
	cmd.Flags().DurationVar(&f.checkpointInterval, "checkpoint-interval", 10*time.Second, "Checkpoint interval (0 = final checkpoint only)")
	cmd.Flags().IntVar(&f.stallPatience, "stall-patience", 0, "Stop after N steps without exploring new space (0 = disabled)")
	cmd.Flags().Float64Var(&f.stallThreshold, "stall-threshold", 0, "Relative growth of the explored box that counts as progress")
	cmd.Flags().BoolVar(&f.noTieBreak, "no-tie-break", false, "Use the solver's optimum as is instead of the nearest point of the optimal face")
	cmd.Flags().BoolVar(&f.print, "print", false, "Print waypoints to stdout")
	cmd.Flags().StringVar(&f.plot, "plot", "", "Write a projection plot of q[0], q[1] to this PNG file")
}

// apply copies the flags onto cfg.
func (f *walkFlags) apply(cfg store.SessionConfig) store.SessionConfig {
	cfg.MaxSteps = f.steps
	cfg.Interpolation = f.interp
	cfg.DelayMillis = int(f.delay / time.Millisecond)
	cfg.CheckpointInterval = int(f.checkpointInterval / time.Second)
	cfg.StallPatience = f.stallPatience
	cfg.StallThreshold = f.stallThreshold
	cfg.DisableTieBreak = f.noTieBreak
	return cfg
}

var (
	walkRegion  string
	walkSession string
	walkOpts    walkFlags
	walkStore   storeFlags
)

var walkCmd = &cobra.Command{
	Use:   "walk",
	Short: "Run a random walk locally",
	Long: `Walks the region in --region until the step limit, a stall or Ctrl-C.
The trace and a final checkpoint are written so the walk can be resumed.`,
	RunE: runWalkCommand,
}

func init() {
	walkCmd.Flags().StringVar(&walkRegion, "region", "", "Region file, YAML or JSON (required)")
	walkCmd.Flags().StringVar(&walkSession, "session", "", "Session ID (default: random UUID)")
	walkCmd.Flags().Uint64Var(&walkOpts.seed, "seed", 42, "Random seed")
	walkOpts.register(walkCmd)
	walkStore.register(walkCmd)

	walkCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(walkCmd)
}

func runWalkCommand(cmd *cobra.Command, args []string) error {
	spec, err := polytope.LoadRegionSpec(walkRegion)
	if err != nil {
		return err
	}
	cfg := walkOpts.apply(store.SessionConfig{Region: spec, Seed: walkOpts.seed})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := walkStore.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := server.NewRunner(st, walkStore.dataDir)
	if walkOpts.print {
		runner.OnWaypoint(waypointPrinter(cmd.OutOrStdout()))
	}

	slog.Info("Starting local walk", "region", spec.Name, "steps", cfg.MaxSteps, "seed", cfg.Seed)
	start := time.Now()
	session, err := runner.Run(ctx, walkSession, cfg)
	if session == nil {
		return err
	}
	if err != nil {
		return fmt.Errorf("walk %s failed after %d steps: %w", session.ID, session.Steps, err)
	}

	return reportWalk(cmd.OutOrStdout(), session, time.Since(start), walkStore.dataDir, walkOpts.plot)
}

// reportWalk prints a summary and writes the optional plot.
func reportWalk(out io.Writer, session *server.Session, elapsed time.Duration, dataDir, plotPath string) error {
	fmt.Fprintf(out, "Session %s %s after %d steps, %d waypoints (%s)\n",
		session.ID, session.State, session.Steps, session.Waypoints, elapsed.Round(time.Millisecond))
	if session.StopReason != "" {
		fmt.Fprintf(out, "Reason: %s\n", session.StopReason)
	}
	fmt.Fprintf(out, "Final q: %s\n", formatVector(session.Current))

	if plotPath == "" {
		return nil
	}
	if len(session.Current) < 2 {
		return fmt.Errorf("cannot plot a %d-dimensional walk", len(session.Current))
	}
	reader, err := store.NewTraceReader(dataDir, session.ID)
	if err != nil {
		return fmt.Errorf("failed to open trace for plot: %w", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		return err
	}
	waypoints := make([]walk.Waypoint, len(entries))
	for i, e := range entries {
		waypoints[i] = e.Waypoint()
	}

	projection := render.Projection{X: 0, Y: 1, Title: session.Config.Region.Name}
	if err := projection.SavePNG(plotPath, waypoints); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", plotPath)
	return nil
}

func waypointPrinter(out io.Writer) func(walk.Waypoint) {
	return func(wp walk.Waypoint) {
		fmt.Fprintf(out, "%d\t%d\t%.2f\t%s\n", wp.Step, wp.Index, wp.T, formatVector(wp.Q))
	}
}

func formatVector(q []float64) string {
	parts := make([]string, len(q))
	for i, v := range q {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
