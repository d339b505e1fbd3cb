package ratelimit_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/corewire/bedrock-gateway/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestRPMLimiter_AllowsUpToConfiguredRPM(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	const rpm = 10
	limiter := ratelimit.NewRPMLimiter(rdb, rpm)
	ctx := context.Background()

	// A burst of chat completions within one window all pass.
	for i := 0; i < rpm; i++ {
		allowed, err := limiter.Allow(ctx)
		if err != nil {
			t.Fatalf("completion %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("completion %d rejected below the RPM limit", i+1)
		}
	}
}

func TestRPMLimiter_RejectsBeyondRPM(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	const rpm = 3
	limiter := ratelimit.NewRPMLimiter(rdb, rpm)
	ctx := context.Background()

	for i := 0; i < rpm; i++ {
		if allowed, err := limiter.Allow(ctx); err != nil || !allowed {
			t.Fatalf("completion %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}

	// One more within the same minute must get throttled so the gateway
	// can answer 429 before touching Bedrock.
	allowed, err := limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("request beyond the RPM limit was allowed")
	}
}

func TestRPMLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	// Kill Redis before the first check. A dead limiter backend must not
	// take chat traffic down with it.
	cleanup()

	limiter := ratelimit.NewRPMLimiter(rdb, 5)

	allowed, err := limiter.Allow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("limiter blocked traffic while Redis was unavailable")
	}
}
