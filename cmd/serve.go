package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/server"
)

var (
	serveAddr         string
	servePingInterval time.Duration
	serveStore        storeFlags
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP walk server",
	Long: `Serves the walk API: create, stop and resume walks, stream waypoints
over SSE, download traces and projection plots, and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&servePingInterval, "ping-interval", 30*time.Second, "SSE keep-alive interval")
	serveStore.register(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := serveStore.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := server.NewServer(serveAddr, st, serveStore.dataDir, server.WithPingInterval(servePingInterval))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Server stopped")
	return nil
}
