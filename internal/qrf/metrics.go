package qrf

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type qrfMetrics struct {
	clients   metric.Int64ObservableGauge
	decisions metric.Int64Counter
}

func newQRFMetrics(logger pslog.Logger, controller *Controller) *qrfMetrics {
	meter := otel.Meter("pkt.systems/roomd/qrf")
	m := &qrfMetrics{}
	var err error

	m.clients, err = meter.Int64ObservableGauge(
		"roomd.qrf.clients",
		metric.WithDescription("Clients with an open rate limit window"),
	)
	logMetricInitError(logger, "roomd.qrf.clients", err)

	m.decisions, err = meter.Int64Counter(
		"roomd.qrf.decision",
		metric.WithDescription("Rate limit decisions"),
	)
	logMetricInitError(logger, "roomd.qrf.decision", err)

	if m.clients != nil {
		if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.clients, int64(controller.Clients()))
			return nil
		}, m.clients); err != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "roomd.qrf.clients", "error", err)
		}
	}
	return m
}

func (m *qrfMetrics) recordDecision(ctx context.Context, kind Kind, decision Decision) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("roomd.qrf.kind", kind.String()),
		attribute.Bool("roomd.qrf.throttle", decision.Throttle),
	))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
