package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Query server status or a specific walk",
	Long: `Queries a running walk server. Without a session ID all walks are
listed; with one, details of that walk are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// walkStatus mirrors the server's status response
type walkStatus struct {
	server.Session
	Elapsed        float64 `json:"elapsed"`
	StepsPerSecond float64 `json:"stepsPerSecond"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimSuffix(serverURL, "/")
	if len(args) == 0 {
		return listWalks(cmd.OutOrStdout(), base+"/api/v1/walks")
	}
	return showWalk(cmd.OutOrStdout(), base+"/api/v1/walks/"+args[0], args[0])
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

func listWalks(out io.Writer, url string) error {
	var sessions []server.Session
	if err := getJSON(url, &sessions); err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No walks found")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"ID", "Region", "State", "Steps", "Waypoints", "Started"})
	for _, s := range sessions {
		t.AppendRow(table.Row{s.ID, s.Config.Region.Name, s.State, s.Steps, s.Waypoints, s.StartTime.Format(time.DateTime)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(sessions)})
	t.Render()
	return nil
}

func showWalk(out io.Writer, url, id string) error {
	var status walkStatus
	if err := getJSON(url, &status); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return fmt.Errorf("walk not found: %s", id)
		}
		return err
	}

	cfg := status.Config
	fmt.Fprintf(out, "Walk: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Region: %s (%d dims, %d inequalities)\n", cfg.Region.Name, cfg.Region.Dim(), len(cfg.Region.A))
	fmt.Fprintf(out, "  Seed: %d\n", cfg.Seed)
	if cfg.MaxSteps > 0 {
		fmt.Fprintf(out, "  Max steps: %d\n", cfg.MaxSteps)
	}
	fmt.Fprintf(out, "  Interpolation: %d\n", cfg.Interpolation)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Steps: %d\n", status.Steps)
	fmt.Fprintf(out, "  Waypoints: %d\n", status.Waypoints)
	if status.ResumedAt > 0 {
		fmt.Fprintf(out, "  Resumed at step: %d\n", status.ResumedAt)
	}
	if len(status.Current) > 0 {
		fmt.Fprintf(out, "  Current q: %s\n", formatVector(status.Current))
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.StepsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.1f steps/sec\n", status.StepsPerSecond)
	}
	if status.StopReason != "" {
		fmt.Fprintf(out, "  Stop reason: %s\n", status.StopReason)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}
