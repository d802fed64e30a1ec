package catalog

import (
	"fmt"
	"sort"
	"strings"

	"taskgate/internal/automation/rules"
)

// AutomationLevel classifies what the system may do for an intent.
type AutomationLevel string

const (
	LevelQuery   AutomationLevel = "Query"
	LevelPropose AutomationLevel = "Propose"
	LevelExecute AutomationLevel = "Execute"
)

func (l AutomationLevel) Valid() bool {
	return l == LevelQuery || l == LevelPropose || l == LevelExecute
}

// ExecutionClass splits Execute intents into communication-only and data-changing.
type ExecutionClass string

const (
	ClassNotify ExecutionClass = "Notify"
	ClassMutate ExecutionClass = "Mutate"
)

func (c ExecutionClass) Valid() bool {
	return c == ClassNotify || c == ClassMutate
}

// ResolverSpec opts an intent into name→ID resolution.
type ResolverSpec struct {
	Person bool `yaml:"person" json:"person"`
	Class  bool `yaml:"class" json:"class"`
}

// IntentDefinition is one catalog entry.
type IntentDefinition struct {
	Key         string          `yaml:"key"`
	Level       AutomationLevel `yaml:"level"`
	Class       ExecutionClass  `yaml:"class,omitempty"`
	ActionKey   string          `yaml:"action_key,omitempty"`
	EventType   string          `yaml:"event_type,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Resolver    *ResolverSpec   `yaml:"resolver,omitempty"`
	Rules       rules.Set       `yaml:"rules,omitempty"`
}

// validate enforces the per-entry invariants:
// class present iff level is Execute, action_key for Mutate, event_type for Notify.
func (d IntentDefinition) validate(events *EventCatalog) error {
	if !validKey(d.Key) {
		return fmt.Errorf("intent %q: key must be a dotted namespace.verb", d.Key)
	}
	if !d.Level.Valid() {
		return fmt.Errorf("intent %q: unknown automation level %q", d.Key, d.Level)
	}
	if d.Level == LevelExecute {
		if !d.Class.Valid() {
			return fmt.Errorf("intent %q: Execute requires execution class Notify or Mutate", d.Key)
		}
	} else if d.Class != "" {
		return fmt.Errorf("intent %q: only Execute intents carry an execution class", d.Key)
	}
	if d.Class == ClassMutate && d.ActionKey == "" {
		return fmt.Errorf("intent %q: Mutate requires action_key", d.Key)
	}
	if d.Class == ClassNotify {
		if d.EventType == "" {
			return fmt.Errorf("intent %q: Notify requires event_type", d.Key)
		}
		if !events.Has(d.EventType) {
			return fmt.Errorf("intent %q: event_type %q is not in the event catalog", d.Key, d.EventType)
		}
	}
	for i, r := range d.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("intent %q rule %d: %w", d.Key, i, err)
		}
	}
	return nil
}

func validKey(key string) bool {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// IntentCatalog is the immutable registry of automation intents.
type IntentCatalog struct {
	intents map[string]IntentDefinition
	keys    []string
}

// NewIntentCatalog validates defs and builds the catalog.
func NewIntentCatalog(defs []IntentDefinition, events *EventCatalog) (*IntentCatalog, error) {
	c := &IntentCatalog{intents: make(map[string]IntentDefinition, len(defs))}
	for _, d := range defs {
		if err := d.validate(events); err != nil {
			return nil, err
		}
		if _, dup := c.intents[d.Key]; dup {
			return nil, fmt.Errorf("intent %q defined twice", d.Key)
		}
		c.intents[d.Key] = d
		c.keys = append(c.keys, d.Key)
	}
	sort.Strings(c.keys)
	return c, nil
}

// Get returns the definition for key.
func (c *IntentCatalog) Get(key string) (IntentDefinition, bool) {
	d, ok := c.intents[key]
	return d, ok
}

// Keys returns every intent key, sorted.
func (c *IntentCatalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}
