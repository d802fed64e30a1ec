package handlers

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/models"
)

const (
	notifyConcurrency = 4
	defaultChannel    = "sms"
)

// NotifyGuardians queues one notification per primary guardian of the plan's
// targets. Targets are the plan's student ids, or the active members of its
// class ids when no students are listed.
type NotifyGuardians struct {
	eventType string
}

func NewNotifyGuardians(eventType string) *NotifyGuardians {
	return &NotifyGuardians{eventType: eventType}
}

type notifyParams struct {
	Channel string `mapstructure:"channel"`
}

func (n *NotifyGuardians) Execute(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error) {
	var p notifyParams
	if err := decodeParams(plan.Params, &p); err != nil {
		return failed(models.ErrorCodeInvalidParams, err.Error()), nil
	}

	studentIDs, err := n.targets(ctx, plan, hc)
	if err != nil {
		return Result{}, err
	}
	if len(studentIDs) == 0 {
		return failed(models.ErrorCodeTargetNotFound, "no target students"), nil
	}

	guardians, err := hc.Data.PrimaryGuardians(ctx, studentIDs)
	if err != nil {
		return Result{}, fmt.Errorf("load guardians: %w", err)
	}
	reachable := guardians[:0:0]
	for _, g := range guardians {
		if g.Phone != "" {
			reachable = append(reachable, g)
		}
	}
	if len(reachable) == 0 {
		return failed(models.ErrorCodeTargetNotFound, "no guardian contact found"), nil
	}

	eventType := plan.EventType
	if eventType == "" {
		eventType = n.eventType
	}
	channel := resolveChannel(ctx, eventType, p.Channel, hc)

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(notifyConcurrency)
	for _, guardian := range reachable {
		g.Go(func() error {
			err := hc.Data.EnqueueNotification(gctx, models.Notification{
				StudentID:  guardian.StudentID,
				GuardianID: guardian.ID,
				Channel:    channel,
				EventType:  eventType,
				Recipient:  guardian.Phone,
				CreatedAt:  hc.Now,
			})
			if err != nil {
				if hc.Logger != nil {
					hc.Logger.WarnContext(gctx, "notification enqueue failed",
						"tenant_id", hc.TenantID.String(), "guardian_id", guardian.ID, "error", err)
				}
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	count := int(sent.Load())
	switch {
	case count == len(reachable):
		return succeeded(count, fmt.Sprintf("queued %d notifications", count)), nil
	case count > 0:
		return Result{
			Status:        models.ResultPartial,
			ErrorCode:     models.ErrorCodePartialSuccess,
			Message:       fmt.Sprintf("queued %d of %d notifications", count, len(reachable)),
			AffectedCount: &count,
		}, nil
	default:
		return Result{Status: models.ResultFailed, ErrorCode: models.ErrorCodeExecution,
			Message: "no notification could be queued", AffectedCount: &count}, nil
	}
}

func (n *NotifyGuardians) targets(ctx context.Context, plan models.Plan, hc HandlerContext) ([]string, error) {
	if len(plan.Targets.StudentIDs) > 0 {
		return plan.Targets.StudentIDs, nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, classID := range plan.Targets.ClassIDs {
		ids, err := hc.Data.StudentIDsInClass(ctx, classID)
		if err != nil {
			return nil, fmt.Errorf("list class members: %w", err)
		}
		for _, sid := range ids {
			if _, dup := seen[sid]; !dup {
				seen[sid] = struct{}{}
				out = append(out, sid)
			}
		}
	}
	return out, nil
}

// resolveChannel prefers the tenant policy, then the plan, then sms.
func resolveChannel(ctx context.Context, eventType, planChannel string, hc HandlerContext) string {
	ch := planChannel
	if v, ok, err := hc.Data.Policy(ctx, catalog.NotificationPolicyPath(eventType, "channel")); err == nil && ok {
		if s, isString := v.(string); isString && s != "" {
			ch = s
		}
	}
	if ch == "" {
		ch = defaultChannel
	}
	if ch == "kakao" {
		return "kakao_at"
	}
	return ch
}
