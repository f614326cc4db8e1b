package vmm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for VMM operations.
type Metrics struct {
	APIDuration    metric.Float64Histogram
	APIErrorsTotal metric.Int64Counter
}

// VMMMetrics is the global metrics instance for the vmm package.
// Set this via SetMetrics() during application initialization.
var VMMMetrics *Metrics

// SetMetrics sets the global metrics instance.
func SetMetrics(m *Metrics) {
	VMMMetrics = m
}

// NewMetrics creates VMM metrics instruments.
// If meter is nil, returns nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	apiDuration, err := meter.Float64Histogram(
		"qarax_ha_request_duration_seconds",
		metric.WithDescription("Hypervisor Adapter request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	apiErrorsTotal, err := meter.Int64Counter(
		"qarax_ha_request_errors_total",
		metric.WithDescription("Total number of Hypervisor Adapter request errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		APIDuration:    apiDuration,
		APIErrorsTotal: apiErrorsTotal,
	}, nil
}

// RecordAPICall records the duration and status of an API call.
func (m *Metrics) RecordAPICall(ctx context.Context, operation string, start time.Time, err error) {
	if m == nil {
		return
	}

	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
		m.APIErrorsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("operation", operation)))
	}

	m.APIDuration.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		))
}
