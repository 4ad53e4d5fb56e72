package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/repairdesk/api/internal/platform/httpx"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 128
)

// Params bundles the paging window and equality filters extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   map[string]string
}

// Filter returns the trimmed value of an allowed filter, or "".
func (p Params) Filter(name string) string {
	return p.Filters[name]
}

// Options control how Parse behaves for a given listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// Filters names the query parameters accepted as equality filters.
	Filters []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes pageSize, pageToken and the allowed filter parameters. Unknown query
// parameters are ignored; a filter given more than once is rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if rawToken := strings.TrimSpace(values.Get("pageToken")); rawToken != "" {
		cursor, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = rawToken
		params.Cursor = cursor
	}

	for _, name := range opts.Filters {
		raw, ok := values[name]
		if !ok {
			continue
		}
		if len(raw) > 1 {
			return Params{}, fmt.Errorf("%w: %s given more than once", ErrInvalidFilter, name)
		}
		value := sanitizeFilterValue(raw[0])
		if value == "" {
			continue
		}
		if params.Filters == nil {
			params.Filters = make(map[string]string, len(opts.Filters))
		}
		params.Filters[name] = value
	}
	return params, nil
}

// Middleware parses the listing parameters once and stores them on the request
// context. Malformed input is answered with 400 before the handler runs.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			params, err := FromRequest(r, opts)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParams(r.Context(), params)))
		})
	}
}

type paramsKey struct{}

// WithParams stores parsed listing parameters on ctx.
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

// FromContext returns the parameters stored by WithParams.
func FromContext(ctx context.Context) (Params, bool) {
	params, ok := ctx.Value(paramsKey{}).(Params)
	return params, ok
}

// FromContextOrDefault returns the stored parameters, or the default page when the route is not
// behind Middleware.
func FromContextOrDefault(ctx context.Context) Params {
	params, ok := FromContext(ctx)
	if !ok || params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	return params
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	defaultPageSize = min(defaultPageSize, maxPageSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(value, maxPageSize), nil
}

func sanitizeFilterValue(value string) string {
	value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "\"'"))
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}
