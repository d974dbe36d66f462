package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlZoneFile is the top-level YAML structure for zone files.
type yamlZoneFile struct {
	Zone yamlZone `yaml:"zone"`
}

type yamlZone struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	StartRoom   string     `yaml:"start_room"`
	ScriptDir   string     `yaml:"script_dir"`
	Rooms       []yamlRoom `yaml:"rooms"`
}

type yamlRoom struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Exits       []yamlExit        `yaml:"exits"`
	Properties  map[string]string `yaml:"properties"`
	Spawns      []yamlSpawn       `yaml:"spawns"`
}

type yamlExit struct {
	Direction string `yaml:"direction"`
	Target    string `yaml:"target"`
	Locked    bool   `yaml:"locked"`
}

type yamlSpawn struct {
	Template     string `yaml:"template"`
	Count        int    `yaml:"count"`
	RespawnAfter string `yaml:"respawn_after"`
}

// LoadZoneFromFile reads and validates a single zone YAML file.
//
// Precondition: path must point to a valid YAML zone file.
// Postcondition: Returns a validated Zone or a non-nil error.
func LoadZoneFromFile(path string) (*Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading zone file %s: %w", path, err)
	}
	return LoadZoneFromBytes(data)
}

// LoadZoneFromBytes parses and validates a zone from YAML bytes.
//
// Postcondition: Returns a validated Zone or a non-nil error.
func LoadZoneFromBytes(data []byte) (*Zone, error) {
	var file yamlZoneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing zone YAML: %w", err)
	}

	zone := convertYAMLZone(file.Zone)
	if err := zone.Validate(); err != nil {
		return nil, fmt.Errorf("validating zone: %w", err)
	}

	return zone, nil
}

// LoadZonesFromDir loads all YAML files in a directory as zones.
//
// Postcondition: Returns all validated zones or the first error encountered.
func LoadZonesFromDir(dir string) ([]*Zone, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading zone directory %s: %w", dir, err)
	}

	var zones []*Zone
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		zone, err := LoadZoneFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading zone from %s: %w", name, err)
		}
		zones = append(zones, zone)
	}

	if len(zones) == 0 {
		return nil, fmt.Errorf("no zone files found in %s", dir)
	}

	return zones, nil
}

func convertYAMLZone(yz yamlZone) *Zone {
	zone := &Zone{
		ID:          yz.ID,
		Name:        yz.Name,
		Description: yz.Description,
		StartRoom:   yz.StartRoom,
		ScriptDir:   yz.ScriptDir,
		Rooms:       make(map[string]*Room, len(yz.Rooms)),
	}

	for _, yr := range yz.Rooms {
		room := &Room{
			ID:          yr.ID,
			ZoneID:      yz.ID,
			Title:       yr.Title,
			Description: strings.TrimSpace(yr.Description),
			Properties:  yr.Properties,
		}
		if room.Properties == nil {
			room.Properties = make(map[string]string)
		}
		for _, ye := range yr.Exits {
			room.Exits = append(room.Exits, Exit{
				Direction:  Direction(ye.Direction),
				TargetRoom: ye.Target,
				Locked:     ye.Locked,
			})
		}
		for _, ys := range yr.Spawns {
			room.Spawns = append(room.Spawns, SpawnConfig{
				Template:     ys.Template,
				Count:        ys.Count,
				RespawnAfter: ys.RespawnAfter,
			})
		}
		zone.Rooms[room.ID] = room
	}

	return zone
}
