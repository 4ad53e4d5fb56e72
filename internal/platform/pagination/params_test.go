package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !reflect.DeepEqual(params.Cursor, Cursor{}) {
		t.Fatalf("expected empty cursor, got %#v", params)
	}
	if params.Filters != nil {
		t.Fatalf("expected nil filters, got %#v", params.Filters)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	if params, _ = Parse(values, opts); params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}

	for _, raw := range []string{"abc", "0", "-3"} {
		values.Set("pageSize", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%s: expected ErrInvalidPageSize got %v", raw, err)
		}
	}
}

func TestParseFilters(t *testing.T) {
	values := url.Values{}
	values.Set("status", " 'in_repair' ")
	values.Set("technicianId", "")
	values.Set("ignored", "x")

	params, err := Parse(values, Options{Filters: []string{"status", "technicianId"}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !reflect.DeepEqual(params.Filters, map[string]string{"status": "in_repair"}) {
		t.Fatalf("unexpected filters: %#v", params.Filters)
	}
	if params.Filter("technicianId") != "" {
		t.Fatalf("expected empty filter to be dropped")
	}

	values.Add("status", "received")
	if _, err := Parse(values, Options{Filters: []string{"status"}}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter for repeated filter got %v", err)
	}
}

func TestEncodeDecodeToken(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	cursor := Cursor{StartAfter: []any{"tkt_1", int64(-3), at}}
	token, err := EncodeToken(cursor)
	if err != nil || token == "" {
		t.Fatalf("EncodeToken = %q, %v", token, err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if id, err := params.Cursor.StringAt(0); err != nil || id != "tkt_1" {
		t.Fatalf("StringAt(0) = %q, %v", id, err)
	}
	if delta, err := params.Cursor.Int64At(1); err != nil || delta != -3 {
		t.Fatalf("Int64At(1) = %d, %v", delta, err)
	}
	if got, err := params.Cursor.TimeAt(2); err != nil || !got.Equal(at) {
		t.Fatalf("TimeAt(2) = %v, %v", got, err)
	}

	if emptyToken, _ := EncodeToken(Cursor{}); emptyToken != "" {
		t.Fatalf("expected empty token got %q", emptyToken)
	}
	if _, err := DecodeToken("not-base64!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestCursorAccessorsRejectWrongTypes(t *testing.T) {
	cursor := Cursor{StartAfter: []any{json.Number("1.5"), "", "yesterday"}}
	if _, err := cursor.Int64At(0); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for fractional key, got %v", err)
	}
	if _, err := cursor.StringAt(1); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for blank key, got %v", err)
	}
	if _, err := cursor.TimeAt(2); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for bad timestamp, got %v", err)
	}
	if _, err := cursor.StringAt(5); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for missing key, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	params := Params{PageSize: 12}
	got, ok := FromContext(WithParams(context.Background(), params))
	if !ok || !reflect.DeepEqual(got, params) {
		t.Fatalf("expected params %#v got %#v", params, got)
	}
	if defaults := FromContextOrDefault(context.Background()); defaults.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, defaults.PageSize)
	}
}

func TestMiddleware(t *testing.T) {
	var seen Params
	handler := Middleware(Options{Filters: []string{"status"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrDefault(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tickets?pageSize=20&status=delivered", nil))
	if rr.Code != http.StatusNoContent || seen.PageSize != 20 || seen.Filter("status") != "delivered" {
		t.Fatalf("unexpected result: %d %#v", rr.Code, seen)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tickets?pageSize=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed pageSize, got %d", rr.Code)
	}
}
