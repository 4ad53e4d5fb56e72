package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Claim(ctx, "cashier-1|k1", "fp", opened, time.Hour)
	if err != nil || first.Verdict != Proceed {
		t.Fatalf("first claim = %+v, %v", first, err)
	}
	if first.Entry.Phase != PhaseInFlight || !first.Entry.ExpiresAt.Equal(opened.Add(time.Hour)) {
		t.Fatalf("unexpected held entry %+v", first.Entry)
	}
	if again, _ := store.Claim(ctx, "cashier-1|k1", "fp", opened, time.Hour); again.Verdict != Busy {
		t.Fatalf("second claim verdict = %v, want Busy", again.Verdict)
	}
	if _, err := store.Claim(ctx, "cashier-1|k1", "other", opened, time.Hour); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}

	reply := Reply{Status: http.StatusCreated, Header: http.Header{"X-Ticket": {"tkt_7"}, "Date": {"now"}}, Body: []byte("{}")}
	if err := store.Settle(ctx, "cashier-1|k1", "fp", reply, opened.Add(time.Minute), 0); err != nil {
		t.Fatalf("settle: %v", err)
	}
	settled, err := store.Claim(ctx, "cashier-1|k1", "fp", opened.Add(2*time.Minute), time.Hour)
	if err != nil || settled.Verdict != Replay {
		t.Fatalf("claim after settle = %+v, %v", settled, err)
	}
	if settled.Entry.Status != http.StatusCreated || settled.Entry.Header["Date"] != nil || settled.Entry.Header["X-Ticket"][0] != "tkt_7" {
		t.Fatalf("unexpected settled entry %+v", settled.Entry)
	}
	if want := opened.Add(time.Minute).Add(DefaultTTL); !settled.Entry.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %s, want %s", settled.Entry.ExpiresAt, want)
	}
}

func TestClaimAfterExpiryStartsOver(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Claim(ctx, "k", "fp-old", opened, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	fresh, err := store.Claim(ctx, "k", "fp-new", opened.Add(time.Minute), time.Minute)
	if err != nil || fresh.Verdict != Proceed || fresh.Entry.Fingerprint != "fp-new" {
		t.Fatalf("claim after expiry = %+v, %v", fresh, err)
	}
}

func TestSettleRejectsForeignFingerprint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Claim(ctx, "k", "fp", opened, time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Settle(ctx, "k", "intruder", Reply{Status: 200}, opened, time.Hour); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
}

func TestMemoryCleanupRemovesOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for key, ttl := range map[string]time.Duration{"a": time.Minute, "b": 2 * time.Minute, "c": time.Hour} {
		if _, err := store.Claim(ctx, key, "fp", opened, ttl); err != nil {
			t.Fatalf("claim %s: %v", key, err)
		}
	}
	removed, err := store.CleanupExpired(ctx, opened.Add(10*time.Minute), 1)
	if err != nil || removed != 1 {
		t.Fatalf("removed = %d, %v", removed, err)
	}
	if got, _ := store.Claim(ctx, "a", "fp2", opened.Add(10*time.Minute), time.Hour); got.Verdict != Proceed {
		t.Fatalf("oldest key should be gone")
	}
	if _, err := store.Claim(ctx, "b", "fp2", opened.Add(10*time.Minute), time.Hour); err != nil {
		t.Fatalf("expired key b is reclaimable regardless: %v", err)
	}
	removed, _ = store.CleanupExpired(ctx, opened.Add(10*time.Minute), 0)
	if removed != 0 {
		t.Fatalf("nothing else is expired, removed %d", removed)
	}
	if err := store.Release(ctx, "c"); err != nil {
		t.Fatalf("release: %v", err)
	}
}
