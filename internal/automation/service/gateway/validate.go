package gateway

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/models"
	dErrors "taskgate/pkg/domain-errors"
)

//go:embed plan.schema.json
var planSchemaJSON string

const planSchemaURL = "chatops.plan.v1.json"

func compilePlanSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(planSchemaURL, strings.NewReader(planSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add plan schema: %w", err)
	}
	schema, err := c.Compile(planSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return schema, nil
}

// validatePlan checks the snapshot structurally, then against the catalog.
func (s *Service) validatePlan(task *models.Task) (catalog.IntentDefinition, error) {
	plan := task.Plan
	raw, err := json.Marshal(plan)
	if err != nil {
		return catalog.IntentDefinition{}, dErrors.Wrap(err, dErrors.CodeInvalidPlan, "plan is not serializable")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return catalog.IntentDefinition{}, dErrors.Wrap(err, dErrors.CodeInvalidPlan, "plan is not serializable")
	}
	if err := s.schema.Validate(doc); err != nil {
		return catalog.IntentDefinition{}, dErrors.Wrap(err, dErrors.CodeInvalidPlan, "plan does not match "+models.PlanSchemaVersion)
	}

	if plan.IntentKey != task.IntentKey {
		return catalog.IntentDefinition{}, dErrors.New(dErrors.CodeInvalidPlan, "plan intent does not match task")
	}
	level := catalog.AutomationLevel(plan.AutomationLevel)
	class := catalog.ExecutionClass(plan.ExecutionClass)
	if (level == catalog.LevelExecute) != (class != "") {
		return catalog.IntentDefinition{}, dErrors.New(dErrors.CodeInvalidPlan, "execution_class must be set exactly for Execute plans")
	}
	def, ok := s.catalogs.Intents.Get(plan.IntentKey)
	if !ok {
		return catalog.IntentDefinition{}, dErrors.New(dErrors.CodeInvalidPlan, "unknown intent "+plan.IntentKey)
	}
	if def.Level != level || def.Class != class {
		return catalog.IntentDefinition{}, dErrors.New(dErrors.CodeInvalidPlan, "plan level or class disagrees with the catalog")
	}
	if class == catalog.ClassNotify && plan.EventType == "" {
		return catalog.IntentDefinition{}, dErrors.New(dErrors.CodeInvalidPlan, "notify plan requires event_type")
	}
	return def, nil
}
