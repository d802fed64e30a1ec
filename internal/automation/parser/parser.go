// Package parser extracts a structured intent from free-form LLM output and
// validates it against the intent catalog.
//
// Extraction never trusts the text: input size, scan windows, candidate
// counts and nesting depth are all capped (see Limits).
package parser

import (
	"encoding/json"
	"errors"
	"strconv"

	"taskgate/internal/automation/catalog"
)

// ParsedIntent is a single validated parse result.
type ParsedIntent struct {
	Key    string                  `json:"intent_key"`
	Level  catalog.AutomationLevel `json:"automation_level"`
	Class  catalog.ExecutionClass  `json:"execution_class,omitempty"`
	Params map[string]any          `json:"params"`
}

// Parser validates candidates against an intent catalog.
type Parser struct {
	intents *catalog.IntentCatalog
	limits  Limits
}

// Option configures a Parser.
type Option func(*Parser)

// WithLimits overrides the default work caps. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(p *Parser) {
		d := p.limits
		if l.MaxInputBytes > 0 {
			d.MaxInputBytes = l.MaxInputBytes
		}
		if l.MaxScanBytes > 0 {
			d.MaxScanBytes = l.MaxScanBytes
		}
		if l.MaxFencedBlocks > 0 {
			d.MaxFencedBlocks = l.MaxFencedBlocks
		}
		if l.MaxKeyPositions > 0 {
			d.MaxKeyPositions = l.MaxKeyPositions
		}
		if l.MaxCandidates > 0 {
			d.MaxCandidates = l.MaxCandidates
		}
		if l.MaxDepth > 0 {
			d.MaxDepth = l.MaxDepth
		}
		p.limits = d
	}
}

func New(intents *catalog.IntentCatalog, opts ...Option) *Parser {
	p := &Parser{intents: intents, limits: DefaultLimits()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse returns the first candidate block that validates.
// The error, when non-nil, is always a *ParseError.
func (p *Parser) Parse(text string) (*ParsedIntent, error) {
	if len(text) > p.limits.MaxInputBytes {
		return nil, newError(KindInputTooLarge, "input exceeds %d bytes", p.limits.MaxInputBytes)
	}

	cands := candidates(text, p.limits)
	if len(cands) == 0 {
		return nil, &ParseError{Kind: KindNoCandidate}
	}

	var failure *ParseError
	for i, c := range cands {
		intent, perr := p.validate(c)
		if perr == nil {
			return intent, nil
		}
		perr.Details = prefix(i+1, perr.Details)
		failure = merge(failure, perr)
	}
	return nil, failure
}

func (p *Parser) validate(candidate string) (*ParsedIntent, *ParseError) {
	if !withinDepth(candidate, p.limits) {
		return nil, newError(KindMalformedJSON, "nesting exceeds depth %d", p.limits.MaxDepth)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, newError(KindMalformedJSON, "top level is not an object")
		}
		return nil, newError(KindMalformedJSON, "%v", err)
	}

	key, _ := obj["intent_key"].(string)
	levelRaw, _ := obj["automation_level"].(string)
	switch {
	case key == "" && levelRaw == "":
		return nil, newError(KindMissingFields, "intent_key and automation_level are required")
	case key == "":
		return nil, newError(KindMissingFields, "intent_key is required")
	case levelRaw == "":
		return nil, newError(KindMissingFields, "automation_level is required")
	}

	level := catalog.AutomationLevel(levelRaw)
	if !level.Valid() {
		return nil, newError(KindLevelMismatch, "unknown automation_level %q", levelRaw)
	}

	var class catalog.ExecutionClass
	switch raw := obj["execution_class"].(type) {
	case nil:
	case string:
		class = catalog.ExecutionClass(raw)
	default:
		return nil, newError(KindClassMismatch, "execution_class must be a string")
	}
	if level == catalog.LevelExecute && !class.Valid() {
		return nil, newError(KindClassMismatch, "Execute requires execution_class Notify or Mutate")
	}
	if level != catalog.LevelExecute && class != "" {
		return nil, newError(KindClassMismatch, "%s must not carry an execution_class", level)
	}

	def, ok := p.intents.Get(key)
	if !ok {
		return nil, newError(KindUnknownIntent, "intent %q is not registered", key)
	}
	if def.Level != level {
		return nil, newError(KindLevelMismatch, "intent %q is %s, got %s", key, def.Level, level)
	}
	if def.Class != class {
		return nil, newError(KindClassMismatch, "intent %q is %q, got %q", key, def.Class, class)
	}

	params := map[string]any{}
	switch raw := obj["params"].(type) {
	case nil:
	case map[string]any:
		params = raw
	default:
		return nil, newError(KindInvalidParams, "params must be an object")
	}

	return &ParsedIntent{Key: key, Level: level, Class: class, Params: params}, nil
}

func prefix(n int, details []string) []string {
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = "candidate " + strconv.Itoa(n) + ": " + d
	}
	return out
}
