package audit

import (
	"context"
	"errors"
	"log/slog"

	"taskgate/internal/automation/models"
	"taskgate/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while a guarded sink is being skipped.
var ErrCircuitOpen = errors.New("audit sink circuit open")

// Guarded skips an unhealthy sink instead of paying its timeout on every
// execution. Skipped writes still fail so FanOut counts them.
type Guarded struct {
	sink    Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(sink Sink, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	return &Guarded{sink: sink, breaker: breaker, logger: logger}
}

func (g *Guarded) Append(ctx context.Context, rec models.AuditRecord) error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := g.sink.Append(ctx, rec); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened && g.logger != nil {
			g.logger.WarnContext(ctx, "audit sink circuit opened", "sink", g.breaker.Name(), "error", err)
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed && g.logger != nil {
		g.logger.InfoContext(ctx, "audit sink circuit closed", "sink", g.breaker.Name())
	}
	return nil
}
