// Package rules evaluates declarative required-field rules against draft params.
//
// A rule set replaces per-intent required-field code: every intent lists its
// rules in the catalog and Evaluate computes missing_required generically.
package rules

import (
	"fmt"
	"reflect"
	"strings"
)

// Type names a rule kind.
type Type string

const (
	TypeRequired       Type = "required"
	TypeRequiredIf     Type = "required_if"
	TypeRequiredUnless Type = "required_unless"
	TypeOneOf          Type = "one_of"
)

// Rule is one declarative required-field constraint.
//
//	required:        every path in Fields must be present
//	required_if:     when Field equals Equals, every path in Required must be present
//	required_unless: when Field does not equal Equals, every path in Required must be present
//	one_of:          at least one path in Fields must be present
type Rule struct {
	Type     Type     `yaml:"type" json:"type"`
	Field    string   `yaml:"field,omitempty" json:"field,omitempty"`
	Equals   any      `yaml:"equals,omitempty" json:"equals,omitempty"`
	Fields   []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
}

// Validate checks the rule is well formed.
func (r Rule) Validate() error {
	switch r.Type {
	case TypeRequired:
		if len(r.Fields) == 0 {
			return fmt.Errorf("required rule needs fields")
		}
	case TypeRequiredIf, TypeRequiredUnless:
		if r.Field == "" || len(r.Required) == 0 {
			return fmt.Errorf("%s rule needs field and required", r.Type)
		}
	case TypeOneOf:
		if len(r.Fields) < 2 {
			return fmt.Errorf("one_of rule needs at least two fields")
		}
	default:
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	return nil
}

// Set is an ordered list of rules.
type Set []Rule

// Evaluate returns the missing field paths in rule order, without duplicates.
// one_of groups are reported as "one_of:a,b".
func (s Set) Evaluate(params map[string]any) []string {
	missing := make([]string, 0)
	seen := make(map[string]struct{})
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		missing = append(missing, path)
	}

	for _, r := range s {
		switch r.Type {
		case TypeRequired:
			for _, f := range r.Fields {
				if !Present(params, f) {
					add(f)
				}
			}
		case TypeRequiredIf:
			if matches(Lookup(params, r.Field), r.Equals) {
				for _, f := range r.Required {
					if !Present(params, f) {
						add(f)
					}
				}
			}
		case TypeRequiredUnless:
			if !matches(Lookup(params, r.Field), r.Equals) {
				for _, f := range r.Required {
					if !Present(params, f) {
						add(f)
					}
				}
			}
		case TypeOneOf:
			found := false
			for _, f := range r.Fields {
				if Present(params, f) {
					found = true
					break
				}
			}
			if !found {
				add("one_of:" + strings.Join(r.Fields, ","))
			}
		}
	}
	return missing
}

// Lookup resolves a dotted path ("form_values.name") through nested maps.
func Lookup(params map[string]any, path string) any {
	var cur any = params
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// Present reports whether the value at path counts as supplied:
// not absent, not nil, not a blank string, not an empty list or map.
func Present(params map[string]any, path string) bool {
	return !isEmpty(Lookup(params, path))
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// matches compares a param value to a rule's Equals. Numbers compare by value
// since JSON and YAML decode them to different Go types.
func matches(v, want any) bool {
	if v == nil || want == nil {
		return v == nil && want == nil
	}
	if fv, ok := toFloat(v); ok {
		if fw, ok := toFloat(want); ok {
			return fv == fw
		}
	}
	return reflect.DeepEqual(v, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
