package tag

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Registry holds the static tag catalog.
// Read-only after load; safe for concurrent use without locking.
type Registry struct {
	tags      map[string]*Definition // by ID
	byMachine map[string][]*Definition
	byGroup   map[string][]*Definition
	all       []*Definition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tags:      make(map[string]*Definition),
		byMachine: make(map[string][]*Definition),
		byGroup:   make(map[string][]*Definition),
	}
}

type catalogFile struct {
	Tags []Definition `yaml:"tags"`
}

// LoadFromFile loads the tag catalog from a YAML file
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag catalog: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML tag catalog
func Parse(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tag catalog: %w", err)
	}

	reg := NewRegistry()
	for i := range file.Tags {
		def := file.Tags[i]
		if err := reg.add(&def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// FromDefinitions builds a registry from in-memory definitions (used by tests and the default catalog)
func FromDefinitions(defs []Definition) (*Registry, error) {
	reg := NewRegistry()
	for i := range defs {
		def := defs[i]
		if err := reg.add(&def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) add(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := r.tags[def.ID]; exists {
		return fmt.Errorf("duplicate tag id: %s", def.ID)
	}

	r.tags[def.ID] = def
	r.all = append(r.all, def)
	if def.Machine != "" {
		r.byMachine[def.Machine] = append(r.byMachine[def.Machine], def)
	}
	if def.Group != "" {
		r.byGroup[def.Group] = append(r.byGroup[def.Group], def)
	}
	return nil
}

// ByID returns a tag definition by ID, or nil
func (r *Registry) ByID(id string) *Definition {
	return r.tags[id]
}

// ByMachine returns all tags owned by a machine
func (r *Registry) ByMachine(machine string) []*Definition {
	return r.byMachine[machine]
}

// ByGroup returns all tags in a group
func (r *Registry) ByGroup(group string) []*Definition {
	return r.byGroup[group]
}

// All returns all tag definitions in load order
func (r *Registry) All() []*Definition {
	return r.all
}

// IDs returns all tag IDs in load order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.all))
	for _, def := range r.all {
		ids = append(ids, def.ID)
	}
	return ids
}

// Count returns the number of registered tags
func (r *Registry) Count() int {
	return len(r.all)
}

// Machines returns the distinct machine names present in the catalog
func (r *Registry) Machines() []string {
	names := make([]string, 0, len(r.byMachine))
	for name := range r.byMachine {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
