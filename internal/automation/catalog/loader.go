// Package catalog holds the immutable, load-once registries of the automation
// gateway: intents, allow-listed domain actions, event types and audit operations.
//
// A Set is built once at startup from a YAML definition set and injected into
// the parser, draft service and gateway. Nothing in this package is global.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultDefinitions []byte

// Set bundles the four catalogs.
type Set struct {
	Intents    *IntentCatalog
	Actions    *DomainActionCatalog
	Events     *EventCatalog
	Operations *OperationRegistry
}

type document struct {
	Events        []string           `yaml:"events"`
	DomainActions []string           `yaml:"domain_actions"`
	Intents       []IntentDefinition `yaml:"intents"`
	Operations    []Operation        `yaml:"operations"`
}

// Default returns the built-in definition set.
func Default() (*Set, error) {
	return Load(bytes.NewReader(defaultDefinitions))
}

// LoadFile reads a definition set from path. An empty path yields Default.
func LoadFile(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a definition set. Unknown YAML fields are
// rejected so a typo cannot silently drop a safety attribute.
func Load(r io.Reader) (*Set, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return Build(doc.Events, doc.DomainActions, doc.Intents, doc.Operations)
}

// Build assembles a Set from in-memory definitions. Tests use it to inject
// alternate catalogs.
func Build(events, actions []string, intents []IntentDefinition, ops []Operation) (*Set, error) {
	ev, err := NewEventCatalog(events)
	if err != nil {
		return nil, err
	}
	ac, err := NewDomainActionCatalog(actions)
	if err != nil {
		return nil, err
	}
	ic, err := NewIntentCatalog(intents, ev)
	if err != nil {
		return nil, err
	}
	or, err := NewOperationRegistry(ops)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if _, ok := ic.Get(op.IntentKey); !ok {
			return nil, fmt.Errorf("operation %q references unknown intent %q", op.OperationType, op.IntentKey)
		}
	}
	return &Set{Intents: ic, Actions: ac, Events: ev, Operations: or}, nil
}
