package catalog

import (
	"fmt"
	"regexp"
	"sort"

	dErrors "taskgate/pkg/domain-errors"
)

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// EventCatalog is the closed set of automation event types.
type EventCatalog struct {
	types map[string]struct{}
}

func NewEventCatalog(types []string) (*EventCatalog, error) {
	c := &EventCatalog{types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		if !eventTypePattern.MatchString(t) {
			return nil, fmt.Errorf("event type %q must be snake_case", t)
		}
		c.types[t] = struct{}{}
	}
	return c, nil
}

func (c *EventCatalog) Has(eventType string) bool {
	_, ok := c.types[eventType]
	return ok
}

// Assert fails closed on unknown event types.
func (c *EventCatalog) Assert(eventType string) error {
	if !c.Has(eventType) {
		return dErrors.New(dErrors.CodeInvalidEventType, fmt.Sprintf("unknown event type %q", eventType))
	}
	return nil
}

func (c *EventCatalog) Types() []string {
	out := make([]string, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NotificationPolicyPath is the tenant settings path for an event's policy field,
// e.g. auto_notification.attendance_late.enabled.
func NotificationPolicyPath(eventType, field string) string {
	return "auto_notification." + eventType + "." + field
}

// DomainActionPolicyPath is the tenant settings path for a mutating action's switch,
// e.g. domain_action.student.discharge.enabled.
func DomainActionPolicyPath(actionKey string) string {
	return "domain_action." + actionKey + ".enabled"
}
