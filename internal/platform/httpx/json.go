package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DefaultBodyLimit caps request payloads decoded by DecodeJSON.
const DefaultBodyLimit int64 = 64 * 1024

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeJSON reads a bounded JSON body into dst, rejects unknown fields, and
// runs struct validation tags. Failures come back as a ready-to-write Error.
func DecodeJSON(r *http.Request, dst any) (Error, bool) {
	if r.Body == nil {
		return NewError("invalid_request", "request body is required", http.StatusBadRequest), false
	}
	limited := io.LimitReader(r.Body, DefaultBodyLimit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return NewError("invalid_request", "failed to read request body", http.StatusBadRequest), false
	}
	if int64(len(body)) > DefaultBodyLimit {
		return NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge), false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return NewError("invalid_request", "request body is required", http.StatusBadRequest), false
	}

	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return NewError("invalid_request", fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest), false
	}

	if err := payloadValidator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return NewError("validation_failed", "request body failed validation", http.StatusBadRequest).
				WithDetails(map[string]any{"fields": fields}), false
		}
		return NewError("invalid_request", err.Error(), http.StatusBadRequest), false
	}
	return Error{}, true
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
