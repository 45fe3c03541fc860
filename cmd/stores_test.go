package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/cwbudde/polywalk/internal/polytope"
	"github.com/cwbudde/polywalk/internal/store"
)

func TestStoreFlags_OpenFiles(t *testing.T) {
	flags := storeFlags{dataDir: t.TempDir()}
	st, closeStore, err := flags.open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*store.FSStore); !ok {
		t.Errorf("Expected a file store, got %T", st)
	}
}

func TestStoreFlags_OpenRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	flags := storeFlags{redisAddr: mr.Addr(), redisPrefix: "walks:", redisTTL: time.Hour}

	st, closeStore, err := flags.open(ctx)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*store.RedisStore); !ok {
		t.Fatalf("Expected a redis store, got %T", st)
	}

	cfg := store.SessionConfig{
		Region: polytope.RegionSpec{
			A: [][]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}},
			B: []float64{1, 1, 1, 1},
		},
		Seed: 1,
	}.WithDefaults()
	if err := st.SaveCheckpoint(ctx, "w1", store.NewCheckpoint("w1", []float64{0, 0}, 1, 21, nil, cfg)); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if !mr.Exists("walks:w1") {
		t.Errorf("Expected key walks:w1, keys: %v", mr.Keys())
	}
	if ttl := mr.TTL("walks:w1"); ttl != time.Hour {
		t.Errorf("Expected a one hour TTL, got %s", ttl)
	}
}

func TestStoreFlags_OpenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	flags := storeFlags{redisAddr: addr}
	if _, _, err := flags.open(context.Background()); err == nil {
		t.Error("Expected an error for an unreachable redis")
	}
}
