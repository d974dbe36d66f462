package world

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoSuchExit is returned when a room has no exit in the given direction.
var ErrNoSuchExit = errors.New("world: no exit in that direction")

// ErrBlocked is returned when a destination room refuses entry.
var ErrBlocked = errors.New("world: the way is blocked")

// ErrNoSuchRoom is returned when a room ID is not part of the loaded world.
var ErrNoSuchRoom = errors.New("world: room not found")

// Manager provides thread-safe access to the loaded world state.
// It indexes rooms across all zones for O(1) lookup by room ID.
type Manager struct {
	mu        sync.RWMutex
	zones     map[string]*Zone
	rooms     map[string]*Room
	startRoom string
}

// NewManager creates a Manager from the given zones.
//
// Precondition: zones must contain at least one zone; the first zone's
// start room is the global start room.
// Postcondition: Returns a Manager with all rooms indexed by ID, or an
// error on duplicate zone or room IDs.
func NewManager(zones []*Zone) (*Manager, error) {
	m := &Manager{
		zones: make(map[string]*Zone, len(zones)),
		rooms: make(map[string]*Room),
	}

	for _, z := range zones {
		if _, exists := m.zones[z.ID]; exists {
			return nil, fmt.Errorf("duplicate zone ID: %q", z.ID)
		}
		m.zones[z.ID] = z
		for id, room := range z.Rooms {
			if existing, exists := m.rooms[id]; exists {
				return nil, fmt.Errorf("duplicate room ID %q: in zone %q and %q", id, existing.ZoneID, z.ID)
			}
			m.rooms[id] = room
		}
	}

	if len(zones) > 0 {
		m.startRoom = zones[0].StartRoom
	}

	return m, nil
}

// ValidateExits checks that every exit target in every room resolves to a
// known room across all loaded zones. Call this after NewManager to catch
// dangling cross-zone exit references.
//
// Postcondition: Returns nil if all exits resolve, or an error naming the
// first dangling target.
func (m *Manager) ValidateExits() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, zone := range m.zones {
		for _, room := range zone.Rooms {
			for _, exit := range room.Exits {
				if _, ok := m.rooms[exit.TargetRoom]; !ok {
					return fmt.Errorf("zone %q: room %q: exit %q targets unknown room %q",
						zone.ID, room.ID, exit.Direction, exit.TargetRoom)
				}
			}
		}
	}
	return nil
}

// GetRoom returns the room with the given ID.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Resolve maps (room, direction) to a destination room ID.
//
// Postcondition: Returns the destination room ID, or ErrNoSuchRoom /
// ErrNoSuchExit / ErrBlocked (locked exit).
func (m *Manager) Resolve(fromRoomID string, dir Direction) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, ok := m.rooms[fromRoomID]
	if !ok {
		return "", fmt.Errorf("room %q: %w", fromRoomID, ErrNoSuchRoom)
	}

	exit, ok := from.ExitFor(dir)
	if !ok {
		return "", fmt.Errorf("from %q going %q: %w", fromRoomID, dir, ErrNoSuchExit)
	}

	if exit.Locked {
		return "", fmt.Errorf("exit %q from %q is locked: %w", dir, fromRoomID, ErrBlocked)
	}

	if _, ok := m.rooms[exit.TargetRoom]; !ok {
		return "", fmt.Errorf("exit %q from %q targets unknown room %q: %w", dir, fromRoomID, exit.TargetRoom, ErrNoSuchRoom)
	}

	return exit.TargetRoom, nil
}

// Enterable reports whether the room admits new occupants.
//
// Postcondition: Returns nil, or ErrBlocked for a room carrying the
// "closed" property, or ErrNoSuchRoom.
func (m *Manager) Enterable(roomID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, ErrNoSuchRoom)
	}
	if room.Properties["closed"] == "true" {
		return fmt.Errorf("room %q is closed: %w", roomID, ErrBlocked)
	}
	return nil
}

// StartRoom returns the global start room.
//
// Postcondition: Returns the start room or nil if the world is empty.
func (m *Manager) StartRoom() *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.startRoom == "" {
		return nil
	}
	return m.rooms[m.startRoom]
}

// ZoneOf returns the zone owning the given room.
//
// Postcondition: Returns (zone, true) if the room exists, or (nil, false).
func (m *Manager) ZoneOf(roomID string) (*Zone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, false
	}
	z, ok := m.zones[room.ZoneID]
	return z, ok
}

// RoomCount returns the total number of rooms across all zones.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// AllZones returns all loaded zones.
//
// Postcondition: Returns a non-nil slice; may be empty.
func (m *Manager) AllZones() []*Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	zones := make([]*Zone, 0, len(m.zones))
	for _, z := range m.zones {
		zones = append(zones, z)
	}
	return zones
}
