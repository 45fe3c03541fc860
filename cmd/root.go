package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/polywalk/internal/config"
)

var (
	logLevel   string
	configPath string
	logger     *slog.Logger
	appConfig  = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "polywalk",
	Short: "Random-walk sampler for convex configuration-space regions",
	Long: `polywalk animates a convex region A·q <= b by walking between
boundary points chosen with random linear programs, streaming the
interpolated waypoints to files, the terminal or an HTTP/SSE server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		appConfig = cfg
		if err := applyConfigDefaults(cmd.Flags(), appConfig); err != nil {
			return err
		}

		opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// configFlagValues maps flag names to their configuration file values.
func configFlagValues(c config.Config) map[string]string {
	return map[string]string{
		"log-level":           c.LogLevel,
		"data-dir":            c.DataDir,
		"addr":                c.Server.Addr,
		"ping-interval":       c.Server.PingInterval.String(),
		"redis":               c.Redis.Addr,
		"redis-password":      c.Redis.Password,
		"redis-db":            strconv.Itoa(c.Redis.DB),
		"redis-prefix":        c.Redis.Prefix,
		"redis-ttl":           c.Redis.TTL.String(),
		"steps":               strconv.Itoa(c.Walk.Steps),
		"seed":                strconv.FormatUint(c.Walk.Seed, 10),
		"interp":              strconv.Itoa(c.Walk.Interpolation),
		"delay":               c.Walk.Delay.String(),
		"checkpoint-interval": c.Walk.CheckpointInterval.String(),
		"stall-patience":      strconv.Itoa(c.Walk.StallPatience),
		"stall-threshold":     strconv.FormatFloat(c.Walk.StallThreshold, 'g', -1, 64),
		"no-tie-break":        strconv.FormatBool(c.Walk.DisableTieBreak),
	}
}

// applyConfigDefaults copies configuration values into every flag the user
// did not set on the command line.
func applyConfigDefaults(flags *pflag.FlagSet, c config.Config) error {
	values := configFlagValues(c)
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		v, ok := values[f.Name]
		if !ok || v == "" || f.Changed || err != nil {
			return
		}
		if setErr := f.Value.Set(v); setErr != nil {
			err = fmt.Errorf("config value for --%s: %w", f.Name, setErr)
		}
	})
	return err
}
