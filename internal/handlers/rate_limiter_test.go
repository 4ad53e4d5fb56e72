package handlers

import (
	"testing"
	"time"
)

func TestActorRateLimiterRefillsPerActor(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := newActorRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("staff-1") || !limiter.Allow("staff-1") {
		t.Fatalf("expected burst of two to pass")
	}
	if limiter.Allow("staff-1") {
		t.Fatalf("expected third call to be limited")
	}
	if !limiter.Allow("staff-2") {
		t.Fatalf("expected other actors to have their own bucket")
	}

	now = now.Add(30 * time.Second)
	if !limiter.Allow("staff-1") {
		t.Fatalf("expected one token after half a window")
	}
	if limiter.Allow("staff-1") {
		t.Fatalf("expected bucket to be empty again")
	}
}

func TestActorRateLimiterDropsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := newActorRateLimiter(1, time.Hour, func() time.Time { return now }).(*actorRateLimiter)

	limiter.Allow("staff-1")
	now = now.Add(idleLimiterTTL)
	limiter.Allow("staff-2")
	if _, ok := limiter.buckets["staff-1"]; ok {
		t.Fatalf("expected idle bucket to be swept")
	}
}

func TestNewActorRateLimiterDisabled(t *testing.T) {
	if newActorRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
}
