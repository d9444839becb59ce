// Package plans holds the static plan catalog and the alias table that maps
// legacy plan identifiers onto their canonical entry.
package plans

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrPlanNotFound is returned when a plan identifier does not resolve.
var ErrPlanNotFound = errors.New("plan not found")

const (
	// CanonicalMonthly is the only sellable plan; stored payment rows keep
	// this identifier, so it must never be renamed.
	CanonicalMonthly = "monthly_premium_prepaid"
	// LegacyMonthlyWeb is accepted from older web clients.
	LegacyMonthlyWeb = "monthly_web"

	defaultPlanName = "LexGO 30 day open"
)

// Plan is an immutable catalog entry. Price is in the minor currency unit.
type Plan struct {
	ID               string
	Name             string
	Description      string
	Price            int64
	SubscriptionDays int
}

// Catalog resolves raw plan identifiers. It is safe for concurrent use since
// it is never mutated after construction.
type Catalog struct {
	plans   map[string]Plan
	aliases map[string]string
}

// NewCatalog validates the alias table against the canonical plans. Every
// alias must point at an existing canonical plan, and every canonical plan
// maps to itself.
func NewCatalog(canonical map[string]Plan, aliases map[string]string) (*Catalog, error) {
	if len(canonical) == 0 {
		return nil, errors.New("plans: catalog must contain at least one plan")
	}

	c := &Catalog{
		plans:   make(map[string]Plan, len(canonical)),
		aliases: make(map[string]string, len(canonical)+len(aliases)),
	}

	for id, p := range canonical {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("plans: empty canonical plan id")
		}
		if p.SubscriptionDays <= 0 {
			return nil, fmt.Errorf("plans: plan %q has non-positive subscription days", id)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("plans: plan %q has negative price", id)
		}
		p.ID = id
		c.plans[id] = p
		c.aliases[id] = id
	}

	// Sorted so the reported error is deterministic.
	keys := make([]string, 0, len(aliases))
	for alias := range aliases {
		keys = append(keys, alias)
	}
	sort.Strings(keys)

	for _, alias := range keys {
		target := aliases[alias]
		if _, ok := c.plans[target]; !ok {
			return nil, fmt.Errorf("plans: alias %q points at unknown plan %q", alias, target)
		}
		if existing, ok := c.aliases[alias]; ok && existing != target {
			return nil, fmt.Errorf("plans: canonical plan %q cannot be aliased to %q", alias, target)
		}
		c.aliases[alias] = target
	}

	return c, nil
}

// Default returns the production catalog.
func Default() *Catalog {
	c, err := NewCatalog(
		map[string]Plan{
			CanonicalMonthly: {
				Name:             defaultPlanName,
				Description:      "Teljes hozzáférés minden funkcióhoz",
				Price:            4350,
				SubscriptionDays: 30,
			},
		},
		map[string]string{
			LegacyMonthlyWeb: CanonicalMonthly,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// CanonicalID maps a raw identifier through the alias table. Unknown
// identifiers map to themselves.
func (c *Catalog) CanonicalID(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, ok := c.aliases[raw]; ok {
		return id
	}
	return raw
}

// Resolve returns the canonical plan for a raw identifier.
func (c *Catalog) Resolve(raw string) (Plan, error) {
	id := c.CanonicalID(raw)
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, raw)
	}
	return p, nil
}
