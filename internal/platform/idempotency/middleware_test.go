package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/repairdesk/api/internal/platform/requestctx"
)

var opened = time.Date(2026, time.March, 9, 10, 30, 0, 0, time.UTC)

const paymentPath = "/api/v1/tickets/tkt_7/payments"

func frozen() time.Time { return opened }

func paymentRequest(key, body, actor string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, paymentPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if actor != "" {
		req = req.WithContext(requestctx.WithActor(req.Context(), requestctx.Actor{ID: actor, Kind: requestctx.ActorStaff}))
	}
	return req
}

func send(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func envelopeCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

// recordPayment answers like the payments endpoint and counts invocations.
type recordPayment struct{ calls int }

func (p *recordPayment) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	p.calls++
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", "35")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"id":"pay_1","amount":20000,"n":1}`))
}

func TestMiddlewareRequiresKeyOnMutations(t *testing.T) {
	pay := &recordPayment{}
	h := Middleware(NewMemoryStore(), WithClock(frozen))(pay)

	rr := send(h, paymentRequest("", `{"amount":20000,"method":"cash"}`, "cashier-1"))
	if rr.Code != http.StatusBadRequest || envelopeCode(t, rr) != "idempotency_key_required" {
		t.Fatalf("status = %d code = %s", rr.Code, envelopeCode(t, rr))
	}
	rr = send(h, paymentRequest(strings.Repeat("k", maxKeyLength+1), `{}`, "cashier-1"))
	if rr.Code != http.StatusBadRequest || envelopeCode(t, rr) != "idempotency_key_invalid" {
		t.Fatalf("status = %d code = %s", rr.Code, envelopeCode(t, rr))
	}
	if send(h, httptest.NewRequest(http.MethodGet, paymentPath, nil)).Code != http.StatusCreated {
		t.Fatalf("reads should pass straight through")
	}
	if pay.calls != 1 {
		t.Fatalf("handler calls = %d, want only the GET", pay.calls)
	}
}

func TestMiddlewareReplaysSettledResponse(t *testing.T) {
	pay := &recordPayment{}
	h := Middleware(NewMemoryStore(), WithClock(frozen))(pay)
	body := `{"amount":20000,"method":"cash"}`

	first := send(h, paymentRequest("pay-abc", body, "cashier-1"))
	second := send(h, paymentRequest("pay-abc", body, "cashier-1"))

	if pay.calls != 1 {
		t.Fatalf("handler calls = %d, want 1", pay.calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("statuses = %d/%d", first.Code, second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" || first.Header().Get(replayHeaderName) != "" {
		t.Fatalf("replay header only belongs on the replay")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content-type not replayed: %v", second.Header())
	}
	if second.Header().Get("Content-Length") != "" {
		t.Fatalf("transport headers must not be replayed")
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	h := Middleware(NewMemoryStore(), WithClock(frozen))(&recordPayment{})
	send(h, paymentRequest("pay-abc", `{"amount":20000,"method":"cash"}`, "cashier-1"))

	rr := send(h, paymentRequest("pay-abc", `{"amount":30000,"method":"cash"}`, "cashier-1"))
	if rr.Code != http.StatusConflict || envelopeCode(t, rr) != "idempotency_key_conflict" {
		t.Fatalf("status = %d code = %s", rr.Code, envelopeCode(t, rr))
	}
}

func TestMiddlewareBusyWhileFirstRequestRuns(t *testing.T) {
	store := NewMemoryStore()
	body := `{"amount":20000,"method":"card"}`
	var h http.Handler
	var nested *httptest.ResponseRecorder
	h = Middleware(store, WithClock(frozen))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if nested == nil {
			nested = send(h, paymentRequest("pay-slow", body, "cashier-1"))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if rr := send(h, paymentRequest("pay-slow", body, "cashier-1")); rr.Code != http.StatusCreated {
		t.Fatalf("first request status = %d", rr.Code)
	}
	if nested.Code != http.StatusConflict || envelopeCode(t, nested) != "idempotency_in_progress" {
		t.Fatalf("concurrent retry status = %d", nested.Code)
	}
}

func TestMiddlewareReleasesKeyAfterServerError(t *testing.T) {
	calls := 0
	h := Middleware(NewMemoryStore(), WithClock(frozen))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	for range 2 {
		send(h, paymentRequest("pay-retry", `{"amount":1}`, "cashier-1"))
	}
	if calls != 2 {
		t.Fatalf("retry after 5xx should reach the handler, calls = %d", calls)
	}
}

func TestMiddlewareSettleFailureStillAnswers(t *testing.T) {
	store := &flakyStore{settleErr: errors.New("firestore unavailable")}
	h := Middleware(store, WithClock(frozen))(&recordPayment{})

	rr := send(h, paymentRequest("pay-x", `{"amount":1}`, "cashier-1"))
	if rr.Code != http.StatusCreated || !strings.Contains(rr.Body.String(), "pay_1") {
		t.Fatalf("handler response should pass through, got %d %s", rr.Code, rr.Body.String())
	}
	if store.released != 1 {
		t.Fatalf("expected the key to be released, got %d releases", store.released)
	}
}

func TestMiddlewareStoreOutageIsServiceUnavailable(t *testing.T) {
	pay := &recordPayment{}
	h := Middleware(&flakyStore{claimErr: errors.New("deadline")})(pay)
	rr := send(h, paymentRequest("pay-x", `{}`, "cashier-1"))
	if rr.Code != http.StatusServiceUnavailable || pay.calls != 0 {
		t.Fatalf("status = %d calls = %d", rr.Code, pay.calls)
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	pay := &recordPayment{}
	h := Middleware(NewMemoryStore())(pay)
	for _, clerk := range []string{"cashier-1", "cashier-2", ""} {
		send(h, paymentRequest("shared", `{"amount":20000}`, clerk))
	}
	if pay.calls != 3 {
		t.Fatalf("distinct callers must not share keys, calls = %d", pay.calls)
	}
}

type flakyStore struct {
	claimErr  error
	settleErr error
	released  int
}

func (f *flakyStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{Verdict: Proceed}, f.claimErr
}

func (f *flakyStore) Settle(context.Context, string, string, Reply, time.Time, time.Duration) error {
	return f.settleErr
}

func (f *flakyStore) Release(context.Context, string) error {
	f.released++
	return nil
}

func (f *flakyStore) CleanupExpired(context.Context, time.Time, int) (int, error) { return 0, nil }
