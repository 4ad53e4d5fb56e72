// Package idempotency lets clients retry money-moving requests safely. The first request under a
// key runs; later requests with the same key and payload get the stored response back.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a key stays claimed when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Phase is where a keyed request stands.
type Phase string

const (
	PhaseInFlight Phase = "in_flight"
	PhaseSettled  Phase = "settled"
)

// Entry is the stored state of one idempotency key.
type Entry struct {
	Key         string
	Fingerprint string
	Phase       Phase
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Verdict tells the middleware what to do with a request after claiming its key.
type Verdict int

const (
	// Proceed means the key was free and is now held by the caller.
	Proceed Verdict = iota
	// Replay means a settled response exists for the key.
	Replay
	// Busy means another request holds the key right now.
	Busy
)

// Claim is the result of Store.Claim.
type Claim struct {
	Verdict Verdict
	Entry   Entry
}

// Reply is the response captured for later replays.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists idempotency keys. Implementations decide Claim and Settle atomically per key.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Settle(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused is returned when a key comes back with a different request behind it.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// entryID hashes the scoped key so arbitrary client keys are safe document ids.
func entryID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

// claim decides a Claim against the stored entry, nil when absent. A non-nil second result is the
// in-flight entry the store must write.
func claim(stored *Entry, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, *Entry, error) {
	if stored == nil || stored.expired(now) {
		held := Entry{
			Key:         key,
			Fingerprint: fingerprint,
			Phase:       PhaseInFlight,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(orDefaultTTL(ttl)),
		}
		return Claim{Verdict: Proceed, Entry: held}, &held, nil
	}
	if stored.Fingerprint != fingerprint {
		return Claim{}, nil, ErrKeyReused
	}
	if stored.Phase == PhaseSettled {
		return Claim{Verdict: Replay, Entry: *stored}, nil, nil
	}
	return Claim{Verdict: Busy, Entry: *stored}, nil, nil
}

// settle records reply on the stored entry. A vanished entry is recreated.
func settle(stored *Entry, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) (Entry, error) {
	out := Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if stored != nil {
		if stored.Fingerprint != fingerprint {
			return Entry{}, ErrKeyReused
		}
		out = *stored
	}
	out.Phase = PhaseSettled
	out.Status = reply.Status
	out.Header = replayableHeader(reply.Header)
	out.Body = append([]byte(nil), reply.Body...)
	out.UpdatedAt = now
	out.ExpiresAt = now.Add(orDefaultTTL(ttl))
	return out, nil
}

func orDefaultTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// transportHeaders are recomputed on every write and never replayed.
var transportHeaders = map[string]bool{
	"Connection":          true,
	"Content-Length":      true,
	"Date":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if transportHeaders[name] || len(values) == 0 {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
