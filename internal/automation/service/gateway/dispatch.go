package gateway

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"taskgate/internal/automation/handlers"
	"taskgate/internal/automation/models"
	"taskgate/pkg/requestcontext"
)

// dispatch runs the registered handler and always yields a result. The
// duration covers the handler call only.
func (s *Service) dispatch(ctx context.Context, task *models.Task, requester requestcontext.Principal, now time.Time) (handlers.Result, time.Duration) {
	ctx, span := s.tracer.Start(ctx, "gateway.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("intent_key", task.IntentKey))

	h, ok := s.handlers.Get(task.IntentKey)
	if !ok {
		s.logger.ErrorContext(ctx, "no handler registered",
			"tenant_id", task.TenantID.String(),
			"intent_key", task.IntentKey,
		)
		span.SetStatus(codes.Error, "handler not registered")
		return handlers.Result{
			Status:    models.ResultFailed,
			ErrorCode: models.ErrorCodeHandlerNotRegistered,
			Message:   "no handler registered for " + task.IntentKey,
		}, 0
	}

	hc := handlers.HandlerContext{
		TenantID:  task.TenantID,
		ActorID:   requester.UserID,
		ActorRole: requester.Role,
		Now:       now,
		Data:      handlers.BindTenant(s.data, s.policies, task.TenantID),
		Logger:    s.logger,
	}

	start := time.Now()
	out, err := invoke(ctx, h, task.Plan, hc)
	elapsed := time.Since(start)
	s.metrics.ObserveHandler(task.IntentKey, elapsed)

	if err != nil {
		s.logger.ErrorContext(ctx, "handler failed",
			"tenant_id", task.TenantID.String(),
			"intent_key", task.IntentKey,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return handlers.Result{
			Status:    models.ResultFailed,
			ErrorCode: models.ErrorCodeExecution,
			Message:   "execution failed",
		}, elapsed
	}

	switch out.Status {
	case models.ResultSuccess, models.ResultPartial:
	case models.ResultFailed:
		if out.ErrorCode == "" {
			out.ErrorCode = models.ErrorCodeExecution
		}
	default:
		out = handlers.Result{
			Status:    models.ResultFailed,
			ErrorCode: models.ErrorCodeExecution,
			Message:   fmt.Sprintf("handler reported status %q", out.Status),
		}
	}
	span.SetAttributes(attribute.String("result_status", string(out.Status)))
	return out, elapsed
}

func invoke(ctx context.Context, h handlers.Handler, plan models.Plan, hc handlers.HandlerContext) (out handlers.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, plan, hc)
}
