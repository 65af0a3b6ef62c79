package models

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	id "matrix/pkg/domain"
)

// Tier is a membership tier; Capacity is the branching factor of positions created
// under it.
type Tier struct {
	ID       id.TierID `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Capacity int       `yaml:"capacity" json:"capacity"`
}

// DefaultTierIDs are the tiers of the built-in catalog.
var DefaultTierIDs = []id.TierID{"basic", "silver", "gold", "platinum"}

// TierCatalog resolves tier ids to tiers. It is immutable after construction.
type TierCatalog struct {
	tiers map[id.TierID]Tier
}

// NewTierCatalog validates tiers and indexes them. Tiers without a capacity get width.
func NewTierCatalog(width int, tiers ...Tier) (*TierCatalog, error) {
	if width < 1 {
		return nil, fmt.Errorf("matrix width must be at least 1, got %d", width)
	}
	c := &TierCatalog{tiers: make(map[id.TierID]Tier, len(tiers))}
	for _, t := range tiers {
		tierID, err := id.ParseTierID(string(t.ID))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.ID, err)
		}
		if _, dup := c.tiers[tierID]; dup {
			return nil, fmt.Errorf("tier %q declared twice", tierID)
		}
		t.ID = tierID
		if t.Capacity == 0 {
			t.Capacity = width
		}
		if t.Capacity < 1 {
			return nil, fmt.Errorf("tier %q: capacity must be at least 1", tierID)
		}
		if t.Name == "" {
			t.Name = string(tierID)
		}
		c.tiers[tierID] = t
	}
	if len(c.tiers) == 0 {
		return nil, fmt.Errorf("tier catalog is empty")
	}
	return c, nil
}

// DefaultTierCatalog has every default tier at width.
func DefaultTierCatalog(width int) (*TierCatalog, error) {
	tiers := make([]Tier, len(DefaultTierIDs))
	for i, tierID := range DefaultTierIDs {
		tiers[i] = Tier{ID: tierID}
	}
	return NewTierCatalog(width, tiers...)
}

type catalogFile struct {
	Width int    `yaml:"width"`
	Tiers []Tier `yaml:"tiers"`
}

// LoadTierCatalog reads a YAML catalog:
//
//	width: 2
//	tiers:
//	  - id: gold
//	    capacity: 3
//
// A width in the file overrides defaultWidth.
func LoadTierCatalog(path string, defaultWidth int) (*TierCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}
	return ParseTierCatalog(raw, defaultWidth)
}

// ParseTierCatalog decodes a YAML catalog document.
func ParseTierCatalog(raw []byte, defaultWidth int) (*TierCatalog, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode tier catalog: %w", err)
	}
	width := defaultWidth
	if doc.Width > 0 {
		width = doc.Width
	}
	return NewTierCatalog(width, doc.Tiers...)
}

// Lookup returns the tier for tierID.
func (c *TierCatalog) Lookup(tierID id.TierID) (Tier, bool) {
	t, ok := c.tiers[tierID]
	return t, ok
}

// Tiers lists the catalog sorted by id.
func (c *TierCatalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
