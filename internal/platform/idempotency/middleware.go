package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/repairdesk/api/internal/platform/auth"
	"github.com/repairdesk/api/internal/platform/httpx"
	"github.com/repairdesk/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

type settings struct {
	header string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type MiddlewareOption func(*settings)

// WithHeader names the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long a settled response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) MiddlewareOption {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

var (
	errKeyTooLong  = httpx.NewError("idempotency_key_invalid", "idempotency key exceeds 255 characters", http.StatusBadRequest)
	errBadBody     = httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest)
	errKeyConflict = httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict)
	errInProgress  = httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict)
	errStoreDown   = httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable)
)

// Middleware guards money-moving requests (payments, refund resolution, stock receipts) so a
// client retry after a dropped connection replays the first response instead of recording twice.
// Keys are scoped to the acting staff member or service. A 5xx response is not kept and the key is
// released so the client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	s := settings{header: defaultHeaderName, ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	missingKey := httpx.NewError("idempotency_key_required", "missing "+s.header+" header", http.StatusBadRequest)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(s.header))
			switch {
			case key == "":
				httpx.WriteError(ctx, w, missingKey)
				return
			case len(key) > maxKeyLength:
				httpx.WriteError(ctx, w, errKeyTooLong)
				return
			}
			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, errBadBody)
				return
			}

			caller := callerOf(ctx)
			scoped := caller + "|" + key
			fingerprint := fingerprintOf(r, body, caller)
			logger := s.logger.With(zap.String("idempotency_key", key), zap.String("caller", caller))

			claimed, err := store.Claim(ctx, scoped, fingerprint, s.now().UTC(), s.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, errKeyConflict)
				return
			case err != nil:
				logger.Error("idempotency: claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, errStoreDown)
				return
			}
			switch claimed.Verdict {
			case Replay:
				replay(w, claimed.Entry)
				return
			case Busy:
				httpx.WriteError(ctx, w, errInProgress)
				return
			}

			buf := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(buf, r)
			// The handler already committed its effects; the stores below must not follow a
			// cancelled client.
			storeCtx := context.WithoutCancel(ctx)

			if buf.status() >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.Warn("idempotency: release after server error failed", zap.Error(err))
				}
			} else if err := store.Settle(storeCtx, scoped, fingerprint, buf.reply(), s.now().UTC(), s.ttl); err != nil {
				logger.Error("idempotency: settle failed", zap.Error(err))
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.Warn("idempotency: release after settle failure failed", zap.Error(err))
				}
			}
			if err := buf.flushTo(w); err != nil {
				logger.Warn("idempotency: write response failed", zap.Error(err))
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, httpx.DefaultBodyLimit+1))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintOf binds a key to one request: method, target, caller and body hash.
func fingerprintOf(r *http.Request, body []byte, caller string) string {
	return digest([]byte(strings.Join([]string{r.Method, r.URL.Path, r.URL.RawQuery, caller, digest(body)}, "\n")))
}

func callerOf(ctx context.Context) string {
	if actor, ok := requestctx.ActorFrom(ctx); ok {
		return actor.ID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, entry Entry) {
	header := w.Header()
	for name, values := range entry.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(entry.Body) > 0 {
		_, _ = w.Write(entry.Body)
	}
}

// bufferedWriter holds the handler response until it has been stored.
type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.code == 0 {
		b.code = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) reply() Reply {
	return Reply{Status: b.status(), Header: b.header.Clone(), Body: bytes.Clone(b.body.Bytes())}
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.body.WriteTo(w)
	return err
}
