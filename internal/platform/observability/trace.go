package observability

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/repairdesk/api/internal/platform/requestctx"
)

// cloudTraceHeader is Google's legacy propagation header: TRACE_ID/SPAN_ID;o=OPTIONS with a
// decimal span id.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/repairdesk/api/http")

// routeAttributes lists the chi URL parameters copied onto the server span once routing is done.
var routeAttributes = map[string]string{
	"ticketID":  "repairdesk.ticket_id",
	"productID": "repairdesk.product_id",
	"paymentID": "repairdesk.payment_id",
	"refundID":  "repairdesk.refund_id",
	"code":      "repairdesk.coupon_code",
}

// TraceMiddleware continues a trace started by the Google front end, or starts a new one, and
// records the ids on the request context for the request logger.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, "HTTP "+SanitizeMethod(r.Method),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			if header := formatCloudTraceHeader(info); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// annotateRoute renames the server span after the matched route and tags the resource ids the
// route carries. chi only knows them after routing, so the request logger calls it on the way out.
func annotateRoute(span trace.Span, r *http.Request, method, route string) {
	span.SetName(method + " " + route)
	for param, key := range routeAttributes {
		if value := urlParam(r, param); value != "" {
			span.SetAttributes(attribute.String(key, value))
		}
	}
}

func parseCloudTraceContext(header string) (requestctx.TraceInfo, trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(spanPart)
	if !ok {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	sampled := sampledOption(options)
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: flags, Remote: true})
	return requestctx.TraceInfo{TraceID: traceID.String(), SpanID: spanID.String(), Sampled: sampled}, sc, true
}

// parseSpanID accepts the decimal form Google sends and, failing that, the hex form some proxies
// forward.
func parseSpanID(value string) (trace.SpanID, bool) {
	value = strings.TrimSpace(value)
	var spanID trace.SpanID
	if n, err := strconv.ParseUint(value, 10, 64); err == nil && n != 0 {
		binary.BigEndian.PutUint64(spanID[:], n)
		return spanID, true
	}
	if n, err := strconv.ParseUint(value, 16, 64); err == nil && n != 0 && len(value) <= 16 {
		binary.BigEndian.PutUint64(spanID[:], n)
		return spanID, true
	}
	return trace.SpanID{}, false
}

func sampledOption(options string) bool {
	for _, option := range strings.Split(options, ";") {
		if key, value, ok := strings.Cut(strings.TrimSpace(option), "="); ok && key == "o" {
			return value == "1"
		}
	}
	return false
}

func formatCloudTraceHeader(info requestctx.TraceInfo) string {
	if info.TraceID == "" {
		return ""
	}
	spanID, err := trace.SpanIDFromHex(info.SpanID)
	if err != nil {
		return ""
	}
	sampled := "0"
	if info.Sampled {
		sampled = "1"
	}
	return info.TraceID + "/" + strconv.FormatUint(binary.BigEndian.Uint64(spanID[:]), 10) + ";o=" + sampled
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(SanitizeMethod(r.Method)),
		semconv.URLScheme(scheme),
		semconv.URLPath(SanitizeRoute(r.URL.Path)),
	}
	if r.Header.Get("Idempotency-Key") != "" {
		attrs = append(attrs, attribute.Bool("repairdesk.idempotent", true))
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(ua))
	}
	return attrs
}
