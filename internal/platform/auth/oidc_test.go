package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	internalAudience = "https://repairdesk.example/internal"
	googleIssuer     = "https://accounts.google.com"
	schedulerEmail   = "scheduler@repairdesk.iam.gserviceaccount.com"
)

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

func (m *recordingMetrics) last() verificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return verificationRecord{}
	}
	return m.records[len(m.records)-1]
}

func schedulerClaims(mutate func(jwt.MapClaims)) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"aud":   []string{internalAudience},
		"iss":   googleIssuer,
		"sub":   "1049871234",
		"email": "Scheduler@RepairDesk.iam.gserviceaccount.com",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	return claims
}

func TestRequireOIDCAdmitsScheduler(t *testing.T) {
	fixture := newSigningFixture(t, "max-age=600")
	metrics := &recordingMetrics{}
	validator := NewOIDCValidator(NewJWKSCache(fixture.server.URL), WithOIDCMetrics(metrics))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/exports/inventory", nil)
	req.Header.Set("Authorization", "Bearer "+fixture.sign(t, schedulerClaims(nil)))
	rr := httptest.NewRecorder()

	var identity *ServiceIdentity
	validator.RequireOIDC(OIDCPolicy{Audience: internalAudience, Issuers: []string{googleIssuer}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ = ServiceIdentityFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	want := ServiceIdentity{Subject: "1049871234", Email: schedulerEmail, Issuer: googleIssuer, Audience: internalAudience}
	if identity == nil || *identity != want {
		t.Fatalf("identity = %+v, want %+v", identity, want)
	}
	if got := metrics.last(); got != (verificationRecord{kind: "oidc", success: true, reason: "ok"}) {
		t.Fatalf("metric = %+v", got)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	fixture := newSigningFixture(t, "max-age=600")
	signed := func(mutate func(jwt.MapClaims)) string { return fixture.sign(t, schedulerClaims(mutate)) }
	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, schedulerClaims(nil)).SignedString([]byte("shared"))
	if err != nil {
		t.Fatalf("sign hmac: %v", err)
	}

	cases := []struct {
		name   string
		policy OIDCPolicy
		header string
		token  string
		cache  *JWKSCache
		status int
		code   string
		reason string
	}{
		{
			name:   "missing token",
			policy: OIDCPolicy{Audience: internalAudience},
			status: http.StatusUnauthorized, code: "unauthenticated", reason: "token_missing",
		},
		{
			name:   "audience not configured",
			policy: OIDCPolicy{Audience: "  "},
			header: "Authorization", token: "Bearer " + signed(nil),
			status: http.StatusServiceUnavailable, code: "verification_unavailable", reason: "audience_not_configured",
		},
		{
			name:   "audience mismatch",
			policy: OIDCPolicy{Audience: "https://other.example"},
			header: "Authorization", token: "Bearer " + signed(nil),
			status: http.StatusUnauthorized, code: "invalid_token", reason: "audience_mismatch",
		},
		{
			name:   "issuer mismatch",
			policy: OIDCPolicy{Audience: internalAudience, Issuers: []string{"https://cloud.google.com/iap"}},
			header: "Authorization", token: "Bearer " + signed(nil),
			status: http.StatusUnauthorized, code: "invalid_token", reason: "issuer_mismatch",
		},
		{
			name:   "expired",
			policy: OIDCPolicy{Audience: internalAudience},
			header: "Authorization", token: "Bearer " + signed(func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }),
			status: http.StatusUnauthorized, code: "invalid_token", reason: "token_invalid",
		},
		{
			name:   "symmetric algorithm",
			policy: OIDCPolicy{Audience: internalAudience},
			header: "Authorization", token: "Bearer " + hmacToken,
			status: http.StatusUnauthorized, code: "invalid_token", reason: "token_invalid",
		},
		{
			name:   "caller not allowed",
			policy: OIDCPolicy{Audience: internalAudience, Callers: []string{"exports@repairdesk.iam.gserviceaccount.com"}},
			header: "Authorization", token: "Bearer " + signed(nil),
			status: http.StatusForbidden, code: "forbidden", reason: "caller_not_allowed",
		},
		{
			name:   "keys unreachable",
			policy: OIDCPolicy{Audience: internalAudience},
			header: "Authorization", token: "Bearer " + signed(nil),
			cache:  NewJWKSCache("http://127.0.0.1:1/certs"),
			status: http.StatusServiceUnavailable, code: "invalid_token", reason: "jwks_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := tc.cache
			if cache == nil {
				cache = NewJWKSCache(fixture.server.URL)
			}
			metrics := &recordingMetrics{}
			validator := NewOIDCValidator(cache, WithOIDCMetrics(metrics))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/idempotency:cleanup", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.token)
			}
			rr := httptest.NewRecorder()
			validator.RequireOIDC(tc.policy)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler reached")
			})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("code = %q, want %q", code, tc.code)
			}
			if got := metrics.last(); got.success || got.reason != tc.reason {
				t.Fatalf("metric = %+v, want failure %q", got, tc.reason)
			}
		})
	}
}

func TestRequireOIDCAcceptsIAPAssertionAndFoldedCaller(t *testing.T) {
	fixture := newSigningFixture(t, "")
	const backend = "/projects/123/global/backendServices/456"
	token := fixture.sign(t, schedulerClaims(func(c jwt.MapClaims) {
		c["aud"] = backend
		c["iss"] = "https://cloud.google.com/iap"
	}))
	policy := OIDCPolicy{
		Audience: backend,
		Issuers:  []string{" https://cloud.google.com/iap "},
		Callers:  []string{"  SCHEDULER@repairdesk.iam.gserviceaccount.com "},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/exports/inventory", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", token)
	rr := httptest.NewRecorder()
	NewOIDCValidator(NewJWKSCache(fixture.server.URL)).RequireOIDC(policy)(noContent).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestRequireOIDCWithoutCache(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/exports/inventory", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	rr := httptest.NewRecorder()
	NewOIDCValidator(nil).RequireOIDC(OIDCPolicy{Audience: internalAudience})(noContent).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable || errorCode(t, rr) != "verification_unavailable" {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
}
