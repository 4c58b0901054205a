package embed

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store resolves widget profiles for HTTP handlers.
type Store interface {
	List() []Embed
	Resolve(id string) Embed
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items    []Embed
	fallback Embed
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
// A profile with id DefaultID replaces the built-in default.
func NewMemoryStore(items []Embed) *MemoryStore {
	s := &MemoryStore{items: append([]Embed(nil), items...), fallback: Default()}
	for _, item := range items {
		if item.ID == DefaultID {
			s.fallback = item
		}
	}
	return s
}

// List returns the configured profiles.
func (s *MemoryStore) List() []Embed {
	return append([]Embed(nil), s.items...)
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(id string) (Embed, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Embed{}, false
}

// Resolve returns the named profile or the default one. Unknown embed ids are
// served, not rejected.
func (s *MemoryStore) Resolve(id string) Embed {
	if item, ok := s.FindByID(id); ok {
		return item
	}
	fallback := s.fallback
	fallback.ID = id
	return fallback
}

type profileFile struct {
	Embeds []Embed `yaml:"embeds"`
}

// LoadFile reads profiles from a YAML file. An empty path yields only the
// built-in default.
func LoadFile(path string) (*MemoryStore, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemoryStore(nil), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embed profiles %s: %w", path, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse embed profiles %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Embeds))
	for i, item := range file.Embeds {
		if strings.TrimSpace(item.ID) == "" {
			return nil, fmt.Errorf("embed profile #%d has no id", i+1)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("duplicate embed profile %q", item.ID)
		}
		seen[item.ID] = struct{}{}
	}

	log.Printf("[embed] loaded %d profiles from %s", len(file.Embeds), path)
	return NewMemoryStore(file.Embeds), nil
}
