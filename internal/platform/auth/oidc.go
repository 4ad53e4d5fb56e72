package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// MetricsRecorder receives one call per verification attempt.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

// OIDCPolicy describes which Google-signed tokens may reach the internal routes. Audience is
// mandatory. Empty Issuers or Callers accept any issuer or caller email.
type OIDCPolicy struct {
	Audience string
	Issuers  []string
	Callers  []string
}

func (p OIDCPolicy) normalised() OIDCPolicy {
	clean := func(values []string, fold bool) []string {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				if fold {
					v = strings.ToLower(v)
				}
				out = append(out, v)
			}
		}
		return out
	}
	return OIDCPolicy{
		Audience: strings.TrimSpace(p.Audience),
		Issuers:  clean(p.Issuers, false),
		Callers:  clean(p.Callers, true),
	}
}

// googleIDClaims is the subset of a Google ID token the internal routes rely on.
type googleIDClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// ServiceIdentity is the verified caller of an internal route, typically Cloud Scheduler.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity stores identity on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext returns the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator checks Google-signed ID tokens and IAP assertions.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption customises an OIDCValidator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs a validator resolving keys through cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithOIDCLogger sets the validator logger.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMetrics sets the metrics recorder.
func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = recorder }
}

// WithOIDCClock replaces time.Now for token time checks and latency.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// rejection is a failed verification: the HTTP answer plus the metric reason.
type rejection struct {
	status  int
	code    string
	reason  string
	message string
}

// RequireOIDC admits requests carrying a token that satisfies policy and stores the caller's
// ServiceIdentity on the request context.
func (v *OIDCValidator) RequireOIDC(policy OIDCPolicy) func(http.Handler) http.Handler {
	policy = policy.normalised()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			identity, rej := v.verify(r, policy)
			if rej != nil {
				v.record(r.Context(), false, rej.reason, start)
				authFailure{rej.status, rej.code, rej.message}.write(w, r)
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(r.Context(), identity)))
		})
	}
}

func (v *OIDCValidator) verify(r *http.Request, policy OIDCPolicy) (*ServiceIdentity, *rejection) {
	if policy.Audience == "" {
		return nil, &rejection{http.StatusServiceUnavailable, "verification_unavailable", "audience_not_configured", "oidc audience not configured"}
	}
	raw, source := extractOIDCToken(r)
	if raw == "" {
		return nil, &rejection{http.StatusUnauthorized, "unauthenticated", "token_missing", "oidc token missing"}
	}
	if v.cache == nil {
		return nil, &rejection{http.StatusServiceUnavailable, "verification_unavailable", "cache_unavailable", "oidc verification unavailable"}
	}

	var claims googleIDClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, &claims, v.cache.Keyfunc(r.Context())); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.logger.Warn("oidc jwks unavailable", zap.Error(err))
			return nil, &rejection{http.StatusServiceUnavailable, "invalid_token", "jwks_unavailable", "oidc token verification failed"}
		}
		v.logger.Info("oidc token rejected", zap.Error(err), zap.String("source", source))
		return nil, &rejection{http.StatusUnauthorized, "invalid_token", "token_invalid", "oidc token verification failed"}
	}

	if len(policy.Issuers) > 0 && !slices.Contains(policy.Issuers, claims.Issuer) {
		return nil, &rejection{http.StatusUnauthorized, "invalid_token", "issuer_mismatch", "oidc issuer mismatch"}
	}
	if !claims.VerifyAudience(policy.Audience, true) {
		return nil, &rejection{http.StatusUnauthorized, "invalid_token", "audience_mismatch", "oidc audience mismatch"}
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if len(policy.Callers) > 0 && !slices.Contains(policy.Callers, email) {
		return nil, &rejection{http.StatusForbidden, "forbidden", "caller_not_allowed", "caller not allowed"}
	}

	return &ServiceIdentity{Subject: claims.Subject, Email: email, Issuer: claims.Issuer, Audience: policy.Audience}, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
	}
}

// extractOIDCToken prefers the Authorization bearer and falls back to the IAP assertion header.
func extractOIDCToken(r *http.Request) (token, source string) {
	if bearer, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return bearer, "authorization"
	}
	if assertion := strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion")); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}
