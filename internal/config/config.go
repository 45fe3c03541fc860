// Package config loads the optional polywalk YAML configuration file.
//
//	log_level: debug
//	data_dir: /var/lib/polywalk
//	server:
//	  addr: :8080
//	  ping_interval: 15s
//	redis:
//	  addr: localhost:6379
//	  db: 2
//	  ttl: 72h
//	walk:
//	  steps: 500
//	  seed: 7
//	  interpolation: 20
//	  delay: 50ms
//	  checkpoint_interval: 30s
//	  stall_patience: 25
//
// Values only provide defaults; command-line flags set explicitly win.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/polywalk/internal/store"
)

// Config is the decoded configuration file.
type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	DataDir  string       `mapstructure:"data_dir"`
	Server   ServerConfig `mapstructure:"server"`
	Redis    RedisConfig  `mapstructure:"redis"`
	Walk     WalkConfig   `mapstructure:"walk"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// RedisConfig selects the Redis checkpoint store when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Options translates the settings into store options.
func (r RedisConfig) Options() []store.RedisOption {
	var opts []store.RedisOption
	if r.Prefix != "" {
		opts = append(opts, store.WithPrefix(r.Prefix))
	}
	if r.TTL > 0 {
		opts = append(opts, store.WithTTL(r.TTL))
	}
	return opts
}

// WalkConfig holds defaults for local and served walks.
type WalkConfig struct {
	Steps              int           `mapstructure:"steps"`
	Seed               uint64        `mapstructure:"seed"`
	Interpolation      int           `mapstructure:"interpolation"`
	Delay              time.Duration `mapstructure:"delay"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	StallPatience      int           `mapstructure:"stall_patience"`
	StallThreshold     float64       `mapstructure:"stall_threshold"`
	DisableTieBreak    bool          `mapstructure:"disable_tie_break"`
}

// Default returns the built-in settings used without a file.
func Default() Config {
	return Config{
		LogLevel: "info",
		DataDir:  "./data",
		Server: ServerConfig{
			Addr:         ":8080",
			PingInterval: 30 * time.Second,
		},
		Walk: WalkConfig{
			Steps:              100,
			Seed:               42,
			Interpolation:      20,
			CheckpointInterval: 10 * time.Second,
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode merges a YAML document into cfg. Unknown keys are rejected so
// typos do not silently fall back to defaults.
func Decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if raw == nil {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}
