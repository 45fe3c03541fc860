package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/server"
	"github.com/cwbudde/polywalk/internal/store"
)

var (
	resumeOpts  walkFlags
	resumeStore storeFlags
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a walk from its checkpoint",
	Long: `Reloads a checkpoint, including the random generator state, and
continues the walk where it stopped. Flags given explicitly replace the
stored settings; --steps counts total steps, not additional ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeOpts.register(resumeCmd)
	resumeStore.register(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := resumeStore.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	checkpoint, err := st.LoadCheckpoint(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for session %s", sessionID)
	} else if err != nil {
		return err
	}

	cfg := resumeConfig(cmd, checkpoint.Config)

	runner := server.NewRunner(st, resumeStore.dataDir)
	if resumeOpts.print {
		runner.OnWaypoint(waypointPrinter(cmd.OutOrStdout()))
	}

	slog.Info("Resuming walk", "session_id", sessionID, "steps", checkpoint.Steps, "max_steps", cfg.MaxSteps)
	start := time.Now()
	session, err := runner.Resume(ctx, checkpoint, &cfg)
	if session == nil {
		return err
	}
	if err != nil {
		return fmt.Errorf("walk %s failed after %d steps: %w", session.ID, session.Steps, err)
	}
	return reportWalk(cmd.OutOrStdout(), session, time.Since(start), resumeStore.dataDir, resumeOpts.plot)
}

// resumeConfig overrides the stored settings with explicitly set flags.
func resumeConfig(cmd *cobra.Command, stored store.SessionConfig) store.SessionConfig {
	flagged := resumeOpts.apply(stored)
	cfg := stored
	changed := cmd.Flags().Changed
	if changed("steps") {
		cfg.MaxSteps = flagged.MaxSteps
	}
	if changed("interp") {
		cfg.Interpolation = flagged.Interpolation
	}
	if changed("delay") {
		cfg.DelayMillis = flagged.DelayMillis
	}
	if changed("checkpoint-interval") {
		cfg.CheckpointInterval = flagged.CheckpointInterval
	}
	if changed("stall-patience") {
		cfg.StallPatience = flagged.StallPatience
	}
	if changed("stall-threshold") {
		cfg.StallThreshold = flagged.StallThreshold
	}
	if changed("no-tie-break") {
		cfg.DisableTieBreak = flagged.DisableTieBreak
	}
	return cfg
}
