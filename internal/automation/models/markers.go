package models

import (
	"maps"

	"github.com/go-viper/mapstructure/v2"
)

// Reserved draft param keys holding resolver bookkeeping, keyed by field.
// ParamResolved records the directory id a field was resolved to, so a
// non-UUID id is not mistaken for a name on a later turn.
const (
	ParamResolveFailed    = "_resolve_failed"
	ParamResolveAmbiguous = "_resolve_ambiguous"
	ParamResolved         = "_resolved"
)

// Failure reasons.
const (
	ReasonInvalidName = "invalid_name"
	ReasonNotFound    = "not_found_by_name"
	ReasonLookupError = "lookup_error"
)

// ResolutionFailure marks a reference that could not be resolved.
type ResolutionFailure struct {
	Field         string `mapstructure:"field" json:"field"`
	OriginalValue string `mapstructure:"original_value" json:"original_value"`
	Reason        string `mapstructure:"reason" json:"reason"`
}

// Candidate is one possible match for an ambiguous reference.
type Candidate struct {
	ID      string `mapstructure:"id" json:"id"`
	Display string `mapstructure:"display" json:"display"`
}

// ResolutionAmbiguous marks a reference with several matches.
type ResolutionAmbiguous struct {
	Field         string      `mapstructure:"field" json:"field"`
	OriginalValue string      `mapstructure:"original_value" json:"original_value"`
	Candidates    []Candidate `mapstructure:"candidates" json:"candidates"`
}

// Markers are written as plain maps so they survive a JSON round trip
// through the draft store unchanged.

func SetFailure(params map[string]any, f ResolutionFailure) {
	markerMap(params, ParamResolveFailed)[f.Field] = map[string]any{
		"field":          f.Field,
		"original_value": f.OriginalValue,
		"reason":         f.Reason,
	}
}

func SetAmbiguous(params map[string]any, a ResolutionAmbiguous) {
	cands := make([]any, 0, len(a.Candidates))
	for _, c := range a.Candidates {
		cands = append(cands, map[string]any{"id": c.ID, "display": c.Display})
	}
	markerMap(params, ParamResolveAmbiguous)[a.Field] = map[string]any{
		"field":          a.Field,
		"original_value": a.OriginalValue,
		"candidates":     cands,
	}
}

// ClearFailure removes the failure marker for field.
func ClearFailure(params map[string]any, field string) {
	clearMarker(params, ParamResolveFailed, field)
}

// ClearAmbiguous removes the ambiguity marker for field.
func ClearAmbiguous(params map[string]any, field string) {
	clearMarker(params, ParamResolveAmbiguous, field)
}

// SetResolved records value as the directory id field resolved to.
func SetResolved(params map[string]any, field, value string) {
	markerMap(params, ParamResolved)[field] = value
}

// ResolvedValue returns the id recorded for field by SetResolved.
func ResolvedValue(params map[string]any, field string) (string, bool) {
	m, ok := params[ParamResolved].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[field].(string)
	return v, ok
}

// ClearResolved drops the recorded id for field.
func ClearResolved(params map[string]any, field string) {
	clearMarker(params, ParamResolved, field)
}

// HasAmbiguous reports whether field carries an ambiguity marker.
func HasAmbiguous(params map[string]any, field string) bool {
	m, ok := params[ParamResolveAmbiguous].(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[field]
	return ok
}

// Failures decodes every failure marker. Malformed entries are skipped.
func Failures(params map[string]any) map[string]ResolutionFailure {
	out := map[string]ResolutionFailure{}
	m, _ := params[ParamResolveFailed].(map[string]any)
	for field, raw := range m {
		var f ResolutionFailure
		if err := mapstructure.Decode(raw, &f); err != nil {
			continue
		}
		out[field] = f
	}
	return out
}

// Ambiguities decodes every ambiguity marker. Malformed entries are skipped.
func Ambiguities(params map[string]any) map[string]ResolutionAmbiguous {
	out := map[string]ResolutionAmbiguous{}
	m, _ := params[ParamResolveAmbiguous].(map[string]any)
	for field, raw := range m {
		var a ResolutionAmbiguous
		if err := mapstructure.Decode(raw, &a); err != nil {
			continue
		}
		out[field] = a
	}
	return out
}

// IsReservedParam reports whether key is internal bookkeeping rather than user input.
func IsReservedParam(key string) bool {
	return key == ParamResolveFailed || key == ParamResolveAmbiguous || key == ParamResolved
}

// markerMap returns a private copy of the marker map stored under key, so a
// shallow-cloned params map never shares marker state with its source.
func markerMap(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	c := maps.Clone(m)
	if c == nil {
		c = map[string]any{}
	}
	params[key] = c
	return c
}

func clearMarker(params map[string]any, key, field string) {
	if _, ok := params[key].(map[string]any); !ok {
		return
	}
	m := markerMap(params, key)
	delete(m, field)
	if len(m) == 0 {
		delete(params, key)
	}
}
