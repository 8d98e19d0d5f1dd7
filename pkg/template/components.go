package template

import (
	"encoding/json"
	"fmt"

	"github.com/me/elemflow/pkg/component"
)

// ComponentEntry is one de-duplicated template component.
type ComponentEntry struct {
	Hash string          `json:"hash"`
	Data json.RawMessage `json:"data"`
}

// Components is the workflow's set of shared template components: per kind,
// an ordered list de-duplicated by content hash.
type Components struct {
	entries map[component.Kind][]ComponentEntry
}

// NewComponents returns an empty set.
func NewComponents() *Components {
	return &Components{entries: map[component.Kind][]ComponentEntry{}}
}

// Add inserts v unless an equal component of the same kind is present. It
// returns the component's index and whether it was newly added.
func (c *Components) Add(kind component.Kind, v any) (int, bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, false, fmt.Errorf("encode %s component: %w", kind, err)
	}
	hash, err := component.Hash(v)
	if err != nil {
		return 0, false, err
	}
	idx, added := c.AddRaw(kind, hash, data)
	return idx, added, nil
}

// AddRaw inserts an already encoded component.
func (c *Components) AddRaw(kind component.Kind, hash string, data json.RawMessage) (int, bool) {
	if c.entries == nil {
		c.entries = map[component.Kind][]ComponentEntry{}
	}
	if i := c.Index(kind, hash); i >= 0 {
		return i, false
	}
	c.entries[kind] = append(c.entries[kind], ComponentEntry{Hash: hash, Data: data})
	return len(c.entries[kind]) - 1, true
}

// Index returns the position of the component with hash, or -1.
func (c *Components) Index(kind component.Kind, hash string) int {
	for i, e := range c.entries[kind] {
		if e.Hash == hash {
			return i
		}
	}
	return -1
}

// Contains reports whether a component with hash exists.
func (c *Components) Contains(kind component.Kind, hash string) bool {
	return c.Index(kind, hash) >= 0
}

// Remove deletes the component at idx. Later indices shift down by one, so
// callers undoing several additions remove them in reverse order.
func (c *Components) Remove(kind component.Kind, idx int) error {
	list := c.entries[kind]
	if idx < 0 || idx >= len(list) {
		return fmt.Errorf("remove %s component %d: index out of range", kind, idx)
	}
	c.entries[kind] = append(list[:idx:idx], list[idx+1:]...)
	return nil
}

// Len returns the number of components of kind.
func (c *Components) Len(kind component.Kind) int { return len(c.entries[kind]) }

// Entries returns the components of kind in insertion order.
func (c *Components) Entries(kind component.Kind) []ComponentEntry {
	return c.entries[kind]
}

// Decode unmarshals the component at idx into v.
func (c *Components) Decode(kind component.Kind, idx int, v any) error {
	list := c.entries[kind]
	if idx < 0 || idx >= len(list) {
		return fmt.Errorf("%s component %d: index out of range", kind, idx)
	}
	return json.Unmarshal(list[idx].Data, v)
}

// Environments decodes every environment component, keyed by name.
func (c *Components) Environments() (map[string]*component.Environment, error) {
	out := map[string]*component.Environment{}
	for i := range c.entries[component.KindEnvironments] {
		var env component.Environment
		if err := c.Decode(component.KindEnvironments, i, &env); err != nil {
			return nil, err
		}
		out[env.Name] = &env
	}
	return out, nil
}

func (c *Components) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.entries)
}

func (c *Components) UnmarshalJSON(data []byte) error {
	var m map[component.Kind][]ComponentEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode template components: %w", err)
	}
	if m == nil {
		m = map[component.Kind][]ComponentEntry{}
	}
	c.entries = m
	return nil
}
