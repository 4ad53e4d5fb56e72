package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/repairdesk/api/internal/platform/requestctx"
)

type fakeFirebase struct {
	token   *firebaseauth.Token
	err     error
	seen    string
	revoked int
}

func (f *fakeFirebase) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	f.seen = idToken
	return f.token, f.err
}

type fakeRevocationFirebase struct {
	fakeFirebase
	revokedErr error
}

func (f *fakeRevocationFirebase) VerifyIDTokenAndCheckRevoked(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	f.seen = idToken
	f.revoked++
	if f.revokedErr != nil {
		return nil, f.revokedErr
	}
	return f.token, f.err
}

func staffToken(uid string, claims map[string]any) *firebaseauth.Token {
	return &firebaseauth.Token{UID: uid, Claims: claims}
}

func call(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestNewIdentityFiltersRoles(t *testing.T) {
	identity := NewIdentity(" tech-4 ", "bench@shop.test", "Technician", "customer", "technician", " CASHIER ")
	if identity.UID != "tech-4" {
		t.Fatalf("uid = %q", identity.UID)
	}
	if want := []string{RoleCashier, RoleTechnician}; !reflect.DeepEqual(identity.Roles, want) {
		t.Fatalf("roles = %v, want %v", identity.Roles, want)
	}
	if identity.Holds(RoleAdmin) || !identity.Holds("TECHNICIAN") {
		t.Fatalf("unexpected role checks for %v", identity.Roles)
	}
	if !NewIdentity("boss", "", RoleAdmin).HoldsAny(RoleCashier) {
		t.Fatalf("admin should pass any gate")
	}
	var none *Identity
	if none.Holds(RoleCashier) {
		t.Fatalf("nil identity holds nothing")
	}
}

func TestRequireStaffPopulatesIdentityAndActor(t *testing.T) {
	verifier := &fakeFirebase{token: staffToken("uid-tech", map[string]any{
		"roles": []any{"Technician", "technician", "customer"},
		"email": "tech@shop.example",
	})}

	var got *Identity
	handler := NewAuthenticator(verifier).RequireStaff(RoleTechnician)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		actor, ok := requestctx.ActorFrom(r.Context())
		if !ok || actor.ID != "uid-tech" || actor.Kind != requestctx.ActorStaff || actor.Email != "tech@shop.example" {
			t.Errorf("unexpected actor %+v", actor)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if rr := call(handler, "bearer  tok-1 "); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if verifier.seen != "tok-1" {
		t.Fatalf("verifier saw %q", verifier.seen)
	}
	if got == nil || !reflect.DeepEqual(got.Roles, []string{RoleTechnician}) {
		t.Fatalf("identity = %+v", got)
	}
}

func TestRequireStaffReadsRoleFlagsFromCustomClaim(t *testing.T) {
	verifier := &fakeFirebase{token: staffToken("uid-admin", map[string]any{
		"shopRoles": map[string]any{"admin": true, "cashier": false},
	})}
	handler := NewAuthenticator(verifier, WithRoleClaim("shopRoles")).RequireStaff(RoleCashier)(noContent)
	if rr := call(handler, "Bearer admin"); rr.Code != http.StatusNoContent {
		t.Fatalf("admin should pass cashier gate, got %d", rr.Code)
	}
}

func TestRequireStaffRevocationCheck(t *testing.T) {
	token := staffToken("uid-c", map[string]any{"roles": "cashier"})

	t.Run("disabled option uses plain verification", func(t *testing.T) {
		verifier := &fakeRevocationFirebase{fakeFirebase: fakeFirebase{token: token}}
		if rr := call(NewAuthenticator(verifier).RequireStaff()(noContent), "Bearer t"); rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rr.Code)
		}
		if verifier.revoked != 0 {
			t.Fatalf("revocation check should be skipped")
		}
	})

	t.Run("revoked session", func(t *testing.T) {
		verifier := &fakeRevocationFirebase{fakeFirebase: fakeFirebase{token: token}, revokedErr: ErrTokenRevoked}
		rr := call(NewAuthenticator(verifier, WithRevocationCheck(true)).RequireStaff()(noContent), "Bearer t")
		if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "token_revoked" {
			t.Fatalf("status = %d code = %s", rr.Code, errorCode(t, rr))
		}
		if verifier.revoked != 1 {
			t.Fatalf("expected one revocation lookup, got %d", verifier.revoked)
		}
	})

	t.Run("verifier without revocation support", func(t *testing.T) {
		verifier := &fakeFirebase{token: token}
		if rr := call(NewAuthenticator(verifier, WithRevocationCheck(true)).RequireStaff()(noContent), "Bearer t"); rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rr.Code)
		}
	})
}

func TestRequireStaffRejections(t *testing.T) {
	cases := map[string]struct {
		verifier TokenVerifier
		header   string
		status   int
		code     string
	}{
		"missing header":   {verifier: &fakeFirebase{}, status: http.StatusUnauthorized, code: "unauthenticated"},
		"basic scheme":     {verifier: &fakeFirebase{}, header: "Basic Zm9vOmJhcg==", status: http.StatusUnauthorized, code: "unauthenticated"},
		"no verifier":      {header: "Bearer x", status: http.StatusServiceUnavailable, code: "verification_unavailable"},
		"expired":          {verifier: &fakeFirebase{err: ErrTokenExpired}, header: "Bearer old", status: http.StatusUnauthorized, code: "token_expired"},
		"verifier timeout": {verifier: &fakeFirebase{err: context.DeadlineExceeded}, header: "Bearer slow", status: http.StatusServiceUnavailable, code: "verification_unavailable"},
		"garbage":          {verifier: &fakeFirebase{err: ErrTokenInvalid}, header: "Bearer ???", status: http.StatusUnauthorized, code: "invalid_token"},
		"customer token": {
			verifier: &fakeFirebase{token: staffToken("c", map[string]any{"roles": "customer"})},
			header:   "Bearer customer",
			status:   http.StatusForbidden,
			code:     "missing_role",
		},
		"technician at the till": {
			verifier: &fakeFirebase{token: staffToken("t", map[string]any{"roles": "technician"})},
			header:   "Bearer tech",
			status:   http.StatusForbidden,
			code:     "insufficient_role",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireStaff(RoleCashier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))
			rr := call(handler, tc.header)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("code = %s, want %s", code, tc.code)
			}
		})
	}
}

func TestRequireRoleUsesContextIdentity(t *testing.T) {
	gate := RequireRole(RoleAdmin)(noContent)

	if rr := call(gate, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/coupons", nil)
	req = req.WithContext(WithIdentity(req.Context(), NewIdentity("u", "", RoleCashier)))
	rr := httptest.NewRecorder()
	gate.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rr.Code)
	}
}
