package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

// signingFixture serves a one-key JWKS document and signs tokens with the private half.
type signingFixture struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newSigningFixture(t *testing.T, cacheControl string) *signingFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &signingFixture{key: key, kid: "scheduler-key"}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     f.kid,
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *signingFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type steppedClock struct{ now time.Time }

func (c *steppedClock) Now() time.Time { return c.now }

func TestJWKSCacheServesKeyUntilMaxAge(t *testing.T) {
	fixture := newSigningFixture(t, "public, max-age=60")
	clock := &steppedClock{now: time.Unix(1_000_000, 0)}
	cache := NewJWKSCache(fixture.server.URL, WithJWKSClock(clock.Now))
	ctx := context.Background()

	for range 3 {
		key, err := cache.Key(ctx, fixture.kid)
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("key type = %T, want *rsa.PublicKey", key)
		}
	}
	if got := fixture.fetches.Load(); got != 1 {
		t.Fatalf("fetches within max-age = %d, want 1", got)
	}

	clock.now = clock.now.Add(61 * time.Second)
	if _, err := cache.Key(ctx, fixture.kid); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := fixture.fetches.Load(); got != 2 {
		t.Fatalf("fetches after expiry = %d, want 2", got)
	}
}

func TestJWKSCacheSpacesRefreshesForUnknownKid(t *testing.T) {
	fixture := newSigningFixture(t, "max-age=3600")
	clock := &steppedClock{now: time.Unix(1_000_000, 0)}
	cache := NewJWKSCache(fixture.server.URL, WithJWKSClock(clock.Now))

	for range 3 {
		if _, err := cache.Key(context.Background(), "forged"); !errors.Is(err, ErrJWKSKeyNotFound) {
			t.Fatalf("err = %v, want ErrJWKSKeyNotFound", err)
		}
	}
	clock.now = clock.now.Add(minForcedRefresh)
	_, _ = cache.Key(context.Background(), "forged")

	if got := fixture.fetches.Load(); got != 2 {
		t.Fatalf("fetches = %d, want initial plus one spaced refresh", got)
	}
}

func TestJWKSCacheReportsFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	_, err := NewJWKSCache(server.URL).Key(context.Background(), "any")
	if !errors.Is(err, ErrJWKSFetchFailed) {
		t.Fatalf("err = %v, want ErrJWKSFetchFailed", err)
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=19830, must-revalidate": 19830 * time.Second,
		"Max-Age=5":                              5 * time.Second,
		"no-cache":                               0,
		"max-age=abc":                            0,
		"max-age=-1":                             0,
	}
	for header, want := range cases {
		if got := parseMaxAge(header); got != want {
			t.Fatalf("parseMaxAge(%q) = %s, want %s", header, got, want)
		}
	}
}
