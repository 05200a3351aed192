package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "repo:https://x/y.git")
	if err != nil || !allowed {
		t.Fatalf("expected first delivery allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "repo:https://x/y.git")
	if !allowed {
		t.Fatalf("expected second delivery allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "repo:https://x/y.git")
	if allowed {
		t.Fatalf("expected third delivery rejected at capacity")
	}

	// A different repository has its own bucket.
	allowed, _, _ = bucket.Allow(ctx, "repo:https://x/other.git")
	if !allowed {
		t.Fatalf("expected independent bucket per repository key")
	}
}
