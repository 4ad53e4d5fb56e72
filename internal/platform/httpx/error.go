package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/repairdesk/api/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// Error is the JSON error envelope:
//
//	{"error": "<code>", "message": "...", "status": 409, "request_id": "...", "trace_id": "...", ...details}
//
// Details are merged into the top level next to the fixed keys.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: singleLine(code, codeLimit), Message: singleLine(message, messageLimit), Status: status}
}

// WithRequestID pins the request id instead of taking it from the context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = singleLine(id, idLimit)
	return e
}

// WithDetails attaches extra top-level fields. Keys that clash with the fixed envelope keys are
// ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

func (e Error) envelope(ctx context.Context) map[string]any {
	body := make(map[string]any, len(e.Details)+5)
	maps.Copy(body, e.Details)
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status

	requestID := e.RequestID
	if requestID == "" {
		requestID = singleLine(middleware.GetReqID(ctx), idLimit)
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	traceID := e.TraceID
	if traceID == "" {
		traceID = singleLine(requestctx.TraceID(ctx), idLimit)
	}
	if traceID != "" {
		body["trace_id"] = traceID
	}
	return body
}

// WriteError writes e as JSON with its status code.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.envelope(ctx))
}

// ErrorRule maps a sentinel error onto a status and code.
type ErrorRule struct {
	Target error
	Code   string
	Status int
}

// MapError returns the envelope for the first rule whose Target matches err. Anything unmatched
// becomes an opaque 500 so internal messages stay server side.
func MapError(err error, rules ...ErrorRule) Error {
	for _, rule := range rules {
		if rule.Target != nil && errors.Is(err, rule.Target) {
			return NewError(rule.Code, err.Error(), rule.Status)
		}
	}
	return NewError("internal_error", "internal server error", http.StatusInternalServerError)
}

// singleLine folds line breaks into spaces and cuts value to limit runes.
func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if utf8.RuneCountInString(value) > limit {
		value = string([]rune(value)[:limit])
	}
	return value
}
