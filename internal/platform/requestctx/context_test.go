package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(nil) != NoopLogger() { //nolint:staticcheck // nil context is tolerated on purpose
		t.Fatalf("expected noop logger for nil context")
	}
	ctx := WithLogger(context.Background(), nil)
	if Logger(ctx) != NoopLogger() {
		t.Fatalf("expected noop logger when nil was stored")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(ctx, logger)) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceRoundTrip(t *testing.T) {
	if _, ok := Trace(context.Background()); ok {
		t.Fatalf("expected no trace on a bare context")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "4bf92f35", SpanID: "17", Sampled: true})
	info, ok := Trace(ctx)
	if !ok || !info.Sampled || info.SpanID != "17" {
		t.Fatalf("unexpected trace %+v", info)
	}
	if TraceID(ctx) != "4bf92f35" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
}

func TestActorRequiresID(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{Kind: ActorStaff, Email: "front@shop.test"})
	if _, ok := ActorFrom(ctx); ok {
		t.Fatalf("expected actor without id to be ignored")
	}
	ctx = WithActor(ctx, Actor{ID: "clerk-7", Kind: ActorStaff})
	actor, ok := ActorFrom(ctx)
	if !ok || actor.ID != "clerk-7" || actor.Kind != ActorStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestKeysDoNotCollide(t *testing.T) {
	ctx := WithActor(WithTrace(context.Background(), TraceInfo{TraceID: "t1"}), Actor{ID: "svc", Kind: ActorService})
	if TraceID(ctx) != "t1" {
		t.Fatalf("actor overwrote trace")
	}
	if actor, _ := ActorFrom(ctx); actor.Kind != ActorService {
		t.Fatalf("unexpected actor %+v", actor)
	}
}
