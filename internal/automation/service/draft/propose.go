package draft

import (
	"context"
	"fmt"
	"slices"
	"time"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
	platformstrings "taskgate/pkg/platform/strings"
	"taskgate/pkg/requestcontext"
)

const maxPlanSamples = 5

// Propose snapshots a ready draft into a plan on a new pending task and closes the draft.
func (s *Service) Propose(ctx context.Context, tenantID id.TenantID, userID id.UserID, draftID id.DraftID) (*models.Task, error) {
	d, err := s.load(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DraftReady {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "only ready drafts can be proposed; draft is "+string(d.Status))
	}
	def, ok := s.catalogs.Intents.Get(d.IntentKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, "draft intent no longer in catalog")
	}
	if def.Level == catalog.LevelQuery {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "query intents cannot become tasks")
	}

	now := requestcontext.Now(ctx)
	plan := s.buildPlan(def, d, userID, now)
	task, err := models.NewTask(tenantID, userID, plan, now)
	if err != nil {
		return nil, err
	}

	expected := d.Version
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.MarkExecuted(now); err != nil {
			return err
		}
		if err := s.drafts.Update(ctx, d, expected); err != nil {
			return translateStoreErr(err, "failed to close draft")
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "task proposed",
		"request_id", requestcontext.RequestID(ctx),
		"draft_id", d.ID.String(),
		"task_id", task.ID.String(),
		"intent_key", task.IntentKey,
	)
	return task, nil
}

func (s *Service) buildPlan(def catalog.IntentDefinition, d *models.Draft, userID id.UserID, now time.Time) models.Plan {
	params := make(map[string]any, len(d.Params))
	for k, v := range d.Params {
		if !models.IsReservedParam(k) {
			params[k] = v
		}
	}

	targets := models.PlanTargets{
		StudentIDs: collectIDs(params, "student_id", "student_ids"),
		ClassIDs:   collectIDs(params, "class_id", "class_ids"),
	}
	targets.Count = len(targets.StudentIDs)
	if targets.Count == 0 {
		targets.Count = len(targets.ClassIDs)
	}

	return models.Plan{
		SchemaVersion:   models.PlanSchemaVersion,
		IntentKey:       def.Key,
		Params:          params,
		AutomationLevel: string(def.Level),
		ExecutionClass:  string(def.Class),
		EventType:       def.EventType,
		Targets:         targets,
		Security:        models.PlanSecurity{RequestedBy: userID.String(), RequestedAt: now},
		Samples:         samples(params),
		Risks:           s.risks(def, targets),
		Summary:         summary(def, targets),
	}
}

func (s *Service) risks(def catalog.IntentDefinition, targets models.PlanTargets) []string {
	risks := []string{}
	switch def.Class {
	case catalog.ClassMutate:
		risks = append(risks, "changes student records")
		if !s.catalogs.Actions.IsAllowed(def.ActionKey) {
			risks = append(risks, "action "+def.ActionKey+" is not enabled for automatic execution")
		}
	case catalog.ClassNotify:
		risks = append(risks, "sends messages to guardians")
	}
	if targets.Count > 1 {
		risks = append(risks, fmt.Sprintf("affects %d targets", targets.Count))
	}
	return risks
}

func summary(def catalog.IntentDefinition, targets models.PlanTargets) string {
	label := def.Description
	if label == "" {
		label = def.Key
	}
	if targets.Count == 0 {
		return label
	}
	return fmt.Sprintf("%s (%d)", label, targets.Count)
}

func samples(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := []string{}
	for _, k := range keys {
		if len(out) == maxPlanSamples {
			break
		}
		out = append(out, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return out
}

func collectIDs(params map[string]any, single, plural string) []string {
	var out []string
	if v, ok := params[single].(string); ok && v != "" {
		out = append(out, v)
	}
	switch vs := params[plural].(type) {
	case []string:
		out = append(out, vs...)
	case []any:
		for _, v := range vs {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	out = platformstrings.DedupeAndTrim(out)
	slices.Sort(out)
	return out
}
