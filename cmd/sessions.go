package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/store"
)

var (
	sessionStore  storeFlags
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage walk checkpoints",
	Long: `Manage stored walk sessions: list their checkpoints or remove old ones
together with their traces.`,
}

var listSessionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all checkpointed sessions",
	RunE:  runListSessions,
}

var cleanSessionsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old checkpoints and traces",
	Long: `Delete checkpoints based on retention policy. Keep the N most recent
sessions, delete sessions older than N days, or both.`,
	RunE: runCleanSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(listSessionsCmd)
	sessionsCmd.AddCommand(cleanSessionsCmd)

	sessionStore.register(listSessionsCmd)
	sessionStore.register(cleanSessionsCmd)

	cleanSessionsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recent sessions (0 = keep all)")
	cleanSessionsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete sessions older than N days (0 = no age limit)")
	cleanSessionsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runListSessions(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	st, closeStore, err := sessionStore.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := st.ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Session", "Region", "Dim", "Steps", "Waypoints", "Status", "Timestamp", "Size"})
	for _, info := range infos {
		t.AppendRow(table.Row{
			info.SessionID,
			info.Region,
			info.Dim,
			info.Steps,
			info.Waypoints,
			info.Status,
			info.Timestamp.Format(time.DateTime),
			sessionSize(sessionStore.dataDir, info.SessionID),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(infos)})
	t.Render()
	return nil
}

func runCleanSessions(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	ctx := commandContext(cmd)
	st, closeStore, err := sessionStore.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := st.ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := cmd.OutOrStdout()
	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d session(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%d steps, %s)\n", info.SessionID, info.Steps, info.Timestamp.Format(time.DateTime))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if r := strings.TrimSpace(response); r != "y" && r != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteCheckpoint(ctx, info.SessionID); err != nil {
			slog.Error("Failed to delete checkpoint", "session_id", info.SessionID, "error", err)
			failed++
			continue
		}
		// The file store removes the trace with the session directory.
		if err := store.DeleteTrace(sessionStore.dataDir, info.SessionID); err != nil {
			slog.Warn("Failed to delete trace", "session_id", info.SessionID, "error", err)
		}
		os.Remove(store.SessionDir(sessionStore.dataDir, info.SessionID))
		slog.Info("Deleted session", "session_id", info.SessionID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d session(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the retention policy: sessions older
// than olderThanDays, plus everything but the keepLast most recent ones.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast, olderThanDays int, now time.Time) []store.CheckpointInfo {
	var toDelete []store.CheckpointInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.SessionID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := slices.Clone(infos)
		slices.SortStableFunc(sorted, func(a, b store.CheckpointInfo) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.SessionID] {
				toDelete = append(toDelete, info)
				selected[info.SessionID] = true
			}
		}
	}

	return toDelete
}

// sessionSize formats the on-disk size of a session directory, or "-".
func sessionSize(dataDir, sessionID string) string {
	size, err := getDirSize(store.SessionDir(dataDir, sessionID))
	if err != nil {
		return "-"
	}
	return formatBytes(size)
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
