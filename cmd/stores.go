package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/config"
	"github.com/cwbudde/polywalk/internal/store"
)

// storeFlags selects the checkpoint backend of a command.
type storeFlags struct {
	dataDir       string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	redisTTL      time.Duration
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "./data", "Base directory for traces and file checkpoints")
	cmd.Flags().StringVar(&f.redisAddr, "redis", "", "Redis address for checkpoints (default: files in --data-dir)")
	cmd.Flags().StringVar(&f.redisPassword, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&f.redisDB, "redis-db", 0, "Redis database")
	cmd.Flags().StringVar(&f.redisPrefix, "redis-prefix", store.DefaultRedisPrefix, "Redis key prefix")
	cmd.Flags().DurationVar(&f.redisTTL, "redis-ttl", 0, "Redis checkpoint expiry (0 = never)")
}

func (f *storeFlags) redis() config.RedisConfig {
	return config.RedisConfig{
		Addr:     f.redisAddr,
		Password: f.redisPassword,
		DB:       f.redisDB,
		Prefix:   f.redisPrefix,
		TTL:      f.redisTTL,
	}
}

// open returns the configured store and a function releasing it.
func (f *storeFlags) open(ctx context.Context) (store.Store, func(), error) {
	rc := f.redis()
	if !rc.Enabled() {
		fs, err := store.NewFSStore(f.dataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		return fs, func() {}, nil
	}

	rs := store.NewRedisStore(rc.Addr, rc.Password, rc.DB, rc.Options()...)
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
	}
	slog.Debug("Using redis checkpoint store", "addr", rc.Addr, "db", rc.DB)
	return rs, func() { rs.Close() }, nil
}
