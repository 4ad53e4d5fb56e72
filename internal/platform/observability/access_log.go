package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/repairdesk/api/internal/platform/requestctx"
)

const cloudTraceField = "logging.googleapis.com/trace"

// RequestLoggerMiddleware writes one access log line per request, closes out the request span and
// records latency on metrics when provided. Lines are keyed for Cloud Logging trace correlation.
func RequestLoggerMiddleware(projectID string, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestLogger(ctx, projectID, r)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			aw := &accessWriter{ResponseWriter: w, inner: ctx}
			started := time.Now()
			logger.Debug("request started")

			completed := false
			defer func() {
				// chi fills the pattern while routing, so the route is read after the handler.
				entry := accessEntry{
					method:  SanitizeMethod(r.Method),
					route:   SanitizeRoute(routePattern(r)),
					status:  aw.status(),
					latency: time.Since(started),
					bytes:   aw.written,
				}
				if !completed && entry.status < http.StatusInternalServerError {
					entry.status = http.StatusInternalServerError
				}
				entry.finishSpan(trace.SpanFromContext(ctx), r)
				metrics.recordRequest(ctx, entry.route, entry.method, entry.status, entry.latency)
				logger.Log(entry.level(), "request completed", entry.fields(aw.inner)...)
			}()

			next.ServeHTTP(aw, r)
			completed = true
		})
	}
}

func requestLogger(ctx context.Context, projectID string, r *http.Request) *zap.Logger {
	info, _ := requestctx.Trace(ctx)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("path", SanitizeRoute(r.URL.Path)),
		zap.String("trace_id", info.TraceID),
	}
	if resource := traceResource(projectID, info); resource != "" {
		fields = append(fields, zap.String(cloudTraceField, resource))
	}
	if host := remoteHost(r); host != "" {
		fields = append(fields, zap.String("remote_ip", host))
	}
	return requestctx.Logger(ctx).With(fields...)
}

func traceResource(projectID string, info requestctx.TraceInfo) string {
	if projectID == "" {
		projectID = info.ProjectID
	}
	if projectID == "" || info.TraceID == "" {
		return ""
	}
	return "projects/" + projectID + "/traces/" + info.TraceID
}

type accessEntry struct {
	method  string
	route   string
	status  int
	latency time.Duration
	bytes   int64
}

func (e accessEntry) level() zapcore.Level {
	switch {
	case e.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case e.status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (e accessEntry) fields(ctx context.Context) []zap.Field {
	fields := []zap.Field{
		zap.String("route", e.route),
		zap.Int("status", e.status),
		zap.Duration("latency", e.latency),
		zap.Int64("bytes", e.bytes),
	}
	if actor, ok := requestctx.ActorFrom(ctx); ok {
		fields = append(fields, zap.String("actor_id", SanitizeUserID(actor.ID)))
	}
	return fields
}

func (e accessEntry) finishSpan(span trace.Span, r *http.Request) {
	span.SetAttributes(semconv.HTTPResponseStatusCode(e.status), semconv.HTTPRoute(e.route))
	annotateRoute(span, r, e.method, e.route)
	if e.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(e.status))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// accessWriter tracks the status and size of a response. inner is the innermost request context
// that CaptureActor saw.
type accessWriter struct {
	http.ResponseWriter
	code    int
	written int64
	inner   context.Context
}

func (w *accessWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *accessWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *accessWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
