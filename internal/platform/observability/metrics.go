package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/services"
)

const meterName = "repairdesk/api"

// Metrics records ticket engine and HTTP counters through the global OpenTelemetry
// meter provider. Instruments that fail to register are skipped.
type Metrics struct {
	transitions   metric.Int64Counter
	stockUnits    metric.Int64Counter
	couponChecks  metric.Int64Counter
	verifications metric.Int64Counter
	requests      metric.Float64Histogram
}

var _ services.Metrics = (*Metrics)(nil)

// NewMetrics registers the instruments on meter, or on the global provider when nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("observability: unable to register metric", zap.String("metric", name), zap.Error(err))
		}
	}

	m := &Metrics{}
	var err error
	m.transitions, err = meter.Int64Counter("repairdesk.ticket.transitions",
		metric.WithDescription("Ticket status transitions by action"))
	warn("repairdesk.ticket.transitions", err)
	m.stockUnits, err = meter.Int64Counter("repairdesk.inventory.stock_units",
		metric.WithDescription("Units moved through the inventory ledger"))
	warn("repairdesk.inventory.stock_units", err)
	m.couponChecks, err = meter.Int64Counter("repairdesk.coupon.evaluations",
		metric.WithDescription("Coupon evaluations by rejection reason"))
	warn("repairdesk.coupon.evaluations", err)
	m.verifications, err = meter.Int64Counter("repairdesk.auth.verifications",
		metric.WithDescription("Service token verifications by outcome"))
	warn("repairdesk.auth.verifications", err)
	m.requests, err = meter.Float64Histogram("repairdesk.http.server.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("HTTP request latency in milliseconds"))
	warn("repairdesk.http.server.duration", err)
	return m
}

// TicketTransition counts one committed status change.
func (m *Metrics) TicketTransition(ctx context.Context, action services.TicketAction, from, to services.RepairStatus) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// StockMoved adds the moved units under the movement type.
func (m *Metrics) StockMoved(ctx context.Context, movementType domain.StockMovementType, units int64) {
	if m == nil || m.stockUnits == nil {
		return
	}
	m.stockUnits.Add(ctx, units, metric.WithAttributes(attribute.String("type", string(movementType))))
}

// CouponEvaluated counts one evaluation. An empty rejection means the coupon applied.
func (m *Metrics) CouponEvaluated(ctx context.Context, rejection services.CouponRejection) {
	if m == nil || m.couponChecks == nil {
		return
	}
	outcome := string(rejection)
	if outcome == "" {
		outcome = "applied"
	}
	m.couponChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordVerification satisfies auth.MetricsRecorder.
func (m *Metrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil || m.verifications == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) recordRequest(ctx context.Context, route, method string, status int, latency time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Record(ctx, float64(latency)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("http.request.method", method),
		attribute.Int("http.response.status_code", status),
	))
}
