package reservation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

type engineMetrics struct {
	attempts      metric.Int64Counter
	lockWait      metric.Int64Histogram
	nights        metric.Int64Histogram
	cancellations metric.Int64Counter
}

func newEngineMetrics(logger pslog.Logger) *engineMetrics {
	meter := otel.Meter("pkt.systems/roomd/reservation")
	m := &engineMetrics{}
	var err error

	m.attempts, err = meter.Int64Counter(
		"roomd.reservation.attempts",
		metric.WithDescription("Reservation attempts by outcome"),
	)
	logMetricInitError(logger, "roomd.reservation.attempts", err)

	m.lockWait, err = meter.Int64Histogram(
		"roomd.reservation.lock_wait",
		metric.WithDescription("Time spent acquiring availability row holds"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "roomd.reservation.lock_wait", err)

	m.nights, err = meter.Int64Histogram(
		"roomd.reservation.nights",
		metric.WithDescription("Nights per confirmed reservation"),
	)
	logMetricInitError(logger, "roomd.reservation.nights", err)

	m.cancellations, err = meter.Int64Counter(
		"roomd.reservation.cancellations",
		metric.WithDescription("Cancellation attempts by outcome"),
	)
	logMetricInitError(logger, "roomd.reservation.cancellations", err)
	return m
}

func (m *engineMetrics) recordAttempt(ctx context.Context, err error, nights int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcomeLabel(err)))
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, attrs)
	}
	if err == nil && m.nights != nil {
		m.nights.Record(ctx, int64(nights))
	}
}

func (m *engineMetrics) recordLockWait(ctx context.Context, op string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Record(ctx, wait.Milliseconds(), metric.WithAttributes(attribute.String("operation", op)))
}

func (m *engineMetrics) recordCancel(ctx context.Context, err error) {
	if m == nil || m.cancellations == nil {
		return
	}
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeLabel(err))))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if f, ok := AsFailure(err); ok {
		return f.Code
	}
	return "error"
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
