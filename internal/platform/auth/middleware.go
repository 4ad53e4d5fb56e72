package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/repairdesk/api/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "roles"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	ErrTokenRevoked = errors.New("auth: firebase id token revoked")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// RevocationVerifier is implemented by verifiers that can also consult the user record.
type RevocationVerifier interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into staff identities.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	checkRevoked bool
}

type Option func(*Authenticator)

// WithRoleClaim names the custom claim holding shop roles. Defaults to "roles".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithRevocationCheck makes every request confirm the session was not revoked. It only takes
// effect when the verifier implements RevocationVerifier.
func WithRevocationCheck(enabled bool) Option {
	return func(a *Authenticator) {
		a.checkRevoked = enabled
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// authFailure is a rejection written as an error envelope.
type authFailure struct {
	status  int
	code    string
	message string
}

var (
	failNoToken     = authFailure{http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid"}
	failNoIdentity  = authFailure{http.StatusUnauthorized, "unauthenticated", "authentication required"}
	failExpired     = authFailure{http.StatusUnauthorized, "token_expired", "firebase id token expired"}
	failRevoked     = authFailure{http.StatusUnauthorized, "token_revoked", "session revoked, sign in again"}
	failDisabled    = authFailure{http.StatusForbidden, "account_disabled", "staff account is disabled"}
	failInvalid     = authFailure{http.StatusUnauthorized, "invalid_token", "firebase id token invalid"}
	failUnavailable = authFailure{http.StatusServiceUnavailable, "verification_unavailable", "authorization service unavailable"}
	failNotStaff    = authFailure{http.StatusForbidden, "missing_role", "identity is not a shop staff member"}
	failRole        = authFailure{http.StatusForbidden, "insufficient_role", "identity does not have required role"}
)

func (f authFailure) write(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError(f.code, f.message, f.status))
}

// RequireStaff admits bearers of a valid staff token. When roles are listed the identity must hold
// one of them; a token without any shop role is always turned away.
func (a *Authenticator) RequireStaff(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := a.authenticate(r)
			if failure != nil {
				failure.write(w, r)
				return
			}
			if len(roles) > 0 && !identity.HoldsAny(roles...) {
				failRole.write(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, *authFailure) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, &failNoToken
	}
	if a == nil || a.verifier == nil {
		return nil, &failUnavailable
	}
	token, err := a.verify(r.Context(), raw)
	if err != nil {
		failure := classifyVerifyError(err)
		return nil, &failure
	}
	identity := NewIdentity(token.UID, claimString(token.Claims, "email"), claimRoles(token.Claims[a.roleClaim])...)
	if len(identity.Roles) == 0 {
		return nil, &failNotStaff
	}
	return identity, nil
}

func (a *Authenticator) verify(ctx context.Context, raw string) (*firebaseauth.Token, error) {
	if rv, ok := a.verifier.(RevocationVerifier); ok && a.checkRevoked {
		return rv.VerifyIDTokenAndCheckRevoked(ctx, raw)
	}
	return a.verifier.VerifyIDToken(ctx, raw)
}

func classifyVerifyError(err error) authFailure {
	switch {
	case errors.Is(err, ErrTokenRevoked), firebaseauth.IsIDTokenRevoked(err):
		return failRevoked
	case firebaseauth.IsUserDisabled(err):
		return failDisabled
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return failExpired
	case errors.Is(err, context.DeadlineExceeded):
		return failUnavailable
	default:
		return failInvalid
	}
}

// RequireRole gates a route on a role after RequireStaff has populated the identity.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			switch {
			case !ok:
				failNoIdentity.write(w, r)
			case !identity.HoldsAny(roles...):
				failRole.write(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// claimRoles reads a role claim written as a string, a list or a map of flags.
func claimRoles(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		out := make([]string, 0, len(v))
		for role, flag := range v {
			if on, _ := flag.(bool); on {
				out = append(out, role)
			}
		}
		return out
	default:
		return nil
	}
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
