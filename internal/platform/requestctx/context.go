// Package requestctx carries per-request values (logger, trace and acting principal) on a
// context.Context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// key is unexported and parameterised by the value it stores, so a lookup can never decode a
// value of the wrong type.
type key[T any] struct{ name string }

var (
	loggerKey = key[*zap.Logger]{"logger"}
	traceKey  = key[TraceInfo]{"trace"}
	actorKey  = key[Actor]{"actor"}
)

func put[T any](ctx context.Context, k key[T], v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, v)
}

func get[T any](ctx context.Context, k key[T]) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

var noopLogger = zap.NewNop()

// NoopLogger is returned by Logger when ctx carries none.
func NoopLogger() *zap.Logger { return noopLogger }

// WithLogger attaches logger to ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return put(ctx, loggerKey, logger)
}

// Logger returns the request logger, never nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := get(ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// TraceInfo is the Cloud Trace context of the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return put(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return get(ctx, traceKey)
}

// TraceID is a shorthand for Trace(ctx).TraceID; empty when untraced.
func TraceID(ctx context.Context) string {
	info, _ := get(ctx, traceKey)
	return info.TraceID
}

// Actor kinds.
const (
	ActorStaff   = "staff"
	ActorService = "service"
)

// Actor is the principal behind a mutation. Audit entries and ticket history key on ID.
type Actor struct {
	ID    string
	Kind  string
	Email string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return put(ctx, actorKey, actor)
}

// ActorFrom reports the authenticated principal. An actor without an ID counts as absent.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := get(ctx, actorKey)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}
