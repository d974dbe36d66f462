// Package world provides the game world model: zones, rooms, exits, and
// directions. The exit graph is read-only once loaded; movement resolution
// never mutates it.
package world

import "fmt"

// Direction represents a compass direction or named exit.
type Direction string

// Standard compass directions and vertical movements.
const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
	Up    Direction = "up"
	Down  Direction = "down"
)

// StandardDirections contains all standard compass and vertical directions.
var StandardDirections = []Direction{North, South, East, West, Up, Down}

// Opposite returns the opposite of a standard direction, or "" for a
// custom one.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	case Up:
		return Down
	case Down:
		return Up
	default:
		return ""
	}
}

// Exit represents a passage from one room to another.
type Exit struct {
	// Direction is the compass direction or named exit (e.g. "gate").
	Direction Direction
	// TargetRoom is the ID of the destination room.
	TargetRoom string
	// Locked indicates the exit cannot currently be passed.
	Locked bool
}

// SpawnConfig defines how many instances of a monster template populate a
// room and how long to wait before respawning a slain one.
type SpawnConfig struct {
	// Template is the monster template ID to spawn.
	Template string
	// Count is the maximum number of live instances in the room.
	Count int
	// RespawnAfter optionally overrides the template's respawn delay
	// (duration string). Empty means use the template's default.
	RespawnAfter string
}

// Room represents a location in the game world.
type Room struct {
	// ID uniquely identifies this room across all zones.
	ID string
	// ZoneID identifies the zone this room belongs to.
	ZoneID string
	// Title is the short display name of the room.
	Title string
	// Description is the room description shown to players.
	Description string
	// Exits lists all passages leading out of this room.
	Exits []Exit
	// Properties holds environment tags. A "closed" property makes the
	// room refuse entry.
	Properties map[string]string
	// Spawns lists monster templates populating this room.
	Spawns []SpawnConfig
}

// ExitFor returns the exit in the given direction, if one exists.
//
// Postcondition: Returns (exit, true) if found, or (Exit{}, false) otherwise.
func (r *Room) ExitFor(dir Direction) (Exit, bool) {
	for _, e := range r.Exits {
		if e.Direction == dir {
			return e, true
		}
	}
	return Exit{}, false
}

// Zone groups related rooms into a themed area.
type Zone struct {
	// ID uniquely identifies this zone.
	ID string
	// Name is the display name of the zone.
	Name string
	// Description summarizes the zone's theme.
	Description string
	// StartRoom is the ID of the default entry room.
	StartRoom string
	// Rooms contains all rooms in this zone, keyed by room ID.
	Rooms map[string]*Room
	// ScriptDir is the path to Lua scripts for this zone. Empty = no scripts.
	ScriptDir string
}

// Validate checks zone invariants.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (z *Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone ID must not be empty")
	}
	if z.Name == "" {
		return fmt.Errorf("zone %q: name must not be empty", z.ID)
	}
	if z.StartRoom == "" {
		return fmt.Errorf("zone %q: start_room must not be empty", z.ID)
	}
	if len(z.Rooms) == 0 {
		return fmt.Errorf("zone %q: must contain at least one room", z.ID)
	}
	if _, ok := z.Rooms[z.StartRoom]; !ok {
		return fmt.Errorf("zone %q: start_room %q not found in rooms", z.ID, z.StartRoom)
	}
	for id, room := range z.Rooms {
		if room.ID != id {
			return fmt.Errorf("zone %q: room key %q does not match room ID %q", z.ID, id, room.ID)
		}
		if room.Title == "" {
			return fmt.Errorf("zone %q: room %q: title must not be empty", z.ID, id)
		}
		for _, exit := range room.Exits {
			if exit.TargetRoom == "" {
				return fmt.Errorf("zone %q: room %q: exit %q has empty target", z.ID, id, exit.Direction)
			}
		}
		for _, spawn := range room.Spawns {
			if spawn.Template == "" {
				return fmt.Errorf("zone %q: room %q: spawn with empty template", z.ID, id)
			}
			if spawn.Count < 1 {
				return fmt.Errorf("zone %q: room %q: spawn %q count must be >= 1", z.ID, id, spawn.Template)
			}
		}
	}
	return nil
}
