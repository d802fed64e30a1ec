package catalog

import "fmt"

// UnknownOperation is recorded when an intent has no enabled operation entry.
const UnknownOperation = "unknown_operation"

// Operation maps an intent to its audit operation type and details allow-list.
type Operation struct {
	IntentKey      string   `yaml:"intent_key"`
	OperationType  string   `yaml:"operation_type"`
	Disabled       bool     `yaml:"disabled,omitempty"`
	AllowedDetails []string `yaml:"allowed_details,omitempty"`
}

// FilterDetails keeps only allow-listed keys. An empty result is nil so audit
// rows store NULL instead of "{}".
func (o Operation) FilterDetails(raw map[string]any) map[string]any {
	if len(raw) == 0 || len(o.AllowedDetails) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, k := range o.AllowedDetails {
		if v, ok := raw[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// OperationRegistry resolves intent keys to audit operations.
type OperationRegistry struct {
	byIntent map[string]Operation
}

func NewOperationRegistry(ops []Operation) (*OperationRegistry, error) {
	r := &OperationRegistry{byIntent: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		if op.IntentKey == "" || op.OperationType == "" {
			return nil, fmt.Errorf("operation entry needs intent_key and operation_type")
		}
		if _, dup := r.byIntent[op.IntentKey]; dup {
			return nil, fmt.Errorf("operation for intent %q defined twice", op.IntentKey)
		}
		r.byIntent[op.IntentKey] = op
	}
	return r, nil
}

// Lookup returns the enabled operation for intentKey.
func (r *OperationRegistry) Lookup(intentKey string) (Operation, bool) {
	op, ok := r.byIntent[intentKey]
	if !ok || op.Disabled {
		return Operation{}, false
	}
	return op, true
}
