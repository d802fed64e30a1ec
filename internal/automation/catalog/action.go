package catalog

import (
	"fmt"
	"sort"

	dErrors "taskgate/pkg/domain-errors"
)

// DomainActionCatalog is the allow-list of mutating action keys.
// It is checked independently of the intent catalog: a Mutate intent whose
// action key is absent here can never execute.
type DomainActionCatalog struct {
	allowed map[string]struct{}
}

func NewDomainActionCatalog(keys []string) (*DomainActionCatalog, error) {
	c := &DomainActionCatalog{allowed: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		if !validKey(k) {
			return nil, fmt.Errorf("domain action %q: key must be dotted", k)
		}
		c.allowed[k] = struct{}{}
	}
	return c, nil
}

func (c *DomainActionCatalog) IsAllowed(actionKey string) bool {
	if actionKey == "" {
		return false
	}
	_, ok := c.allowed[actionKey]
	return ok
}

// AssertAllowed returns a catalog_denied error when actionKey is not allow-listed.
func (c *DomainActionCatalog) AssertAllowed(actionKey string) error {
	if !c.IsAllowed(actionKey) {
		return dErrors.New(dErrors.CodeCatalogDenied,
			fmt.Sprintf("action %q is not registered in the domain action catalog", actionKey))
	}
	return nil
}

func (c *DomainActionCatalog) Keys() []string {
	out := make([]string, 0, len(c.allowed))
	for k := range c.allowed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
