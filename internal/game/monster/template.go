// Package monster provides hostile-entity template definitions and live
// instance management.
package monster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Template defines a reusable hostile archetype loaded from YAML.
type Template struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MaxHP       int    `yaml:"max_hp"`
	// Initiative is the flat initiative modifier used for turn ordering.
	Initiative int `yaml:"initiative"`
	// Damage is the dice expression rolled for this monster's attacks.
	// Empty means use the configured fallback expression.
	Damage string `yaml:"damage"`
	// Aggressive marks the monster as attacking players on sight.
	Aggressive bool `yaml:"aggressive"`
	// RespawnDelay is the duration string (e.g. "5m", "30s") before a slain
	// monster of this template respawns. Empty means it does not respawn.
	RespawnDelay string `yaml:"respawn_delay"`
}

// Validate checks that the template satisfies basic invariants.
//
// Postcondition: Returns nil iff ID and Name are non-empty, MaxHP >= 1,
// and RespawnDelay (when set) parses as a duration.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("monster template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("monster template %q: name must not be empty", t.ID)
	}
	if t.MaxHP < 1 {
		return fmt.Errorf("monster template %q: max_hp must be >= 1", t.ID)
	}
	if t.RespawnDelay != "" {
		if _, err := time.ParseDuration(t.RespawnDelay); err != nil {
			return fmt.Errorf("monster template %q: respawn_delay %q is not a valid duration: %w", t.ID, t.RespawnDelay, err)
		}
	}
	return nil
}

// LoadTemplateFromBytes parses a single monster template from raw YAML bytes.
//
// Postcondition: Returns a validated *Template or an error.
func LoadTemplateFromBytes(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing template YAML: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadTemplates reads all *.yaml files in dir and returns the parsed templates.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all templates or an error on the first parse or
// validate failure; on error, the partial result is discarded.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading monster dir %q: %w", dir, err)
	}

	var templates []*Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		tmpl, err := LoadTemplateFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

// TemplateMap indexes templates by ID.
//
// Postcondition: Returns a non-nil map; duplicate IDs produce an error.
func TemplateMap(templates []*Template) (map[string]*Template, error) {
	m := make(map[string]*Template, len(templates))
	for _, t := range templates {
		if _, exists := m[t.ID]; exists {
			return nil, fmt.Errorf("duplicate monster template ID %q", t.ID)
		}
		m[t.ID] = t
	}
	return m, nil
}
