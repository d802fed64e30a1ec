package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskgate/internal/automation/metrics"
	"taskgate/internal/automation/models"
)

// Named labels a sink for logs and the audit failure counter.
type Named struct {
	Name string
	Sink Sink
}

// FanOut writes every record to each sink in order. A failing sink is logged
// and counted; later sinks still run. The joined error is returned so the
// caller can decide whether to log again.
type FanOut struct {
	sinks   []Named
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*FanOut)

func WithLogger(logger *slog.Logger) Option {
	return func(f *FanOut) { f.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *FanOut) { f.metrics = m }
}

func NewFanOut(sinks []Named, opts ...Option) *FanOut {
	f := &FanOut{sinks: sinks}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FanOut) Append(ctx context.Context, rec models.AuditRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Sink.Append(ctx, rec); err != nil {
			f.metrics.IncAuditFailure(s.Name)
			if f.logger != nil {
				f.logger.ErrorContext(ctx, "audit sink write failed",
					"log_type", "audit",
					"sink", s.Name,
					"correlation_key", rec.CorrelationKey,
					"operation_type", rec.OperationType,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
