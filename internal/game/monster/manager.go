package monster

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Manager tracks all live monster instances by ID and by room.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance       // instanceID → Instance
	roomSets  map[string]map[string]bool // roomID → set of instanceIDs
}

// NewManager creates an empty monster Manager.
func NewManager() *Manager {
	return &Manager{
		instances: make(map[string]*Instance),
		roomSets:  make(map[string]map[string]bool),
	}
}

// Spawn creates a new Instance from tmpl and places it in roomID.
//
// Precondition: tmpl must be non-nil; roomID must be non-empty.
// Postcondition: Returns a new Instance with a unique ID registered in roomID.
func (m *Manager) Spawn(tmpl *Template, roomID string) (*Instance, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("monster.Manager.Spawn: tmpl must not be nil")
	}
	if roomID == "" {
		return nil, fmt.Errorf("monster.Manager.Spawn: roomID must not be empty")
	}

	inst := NewInstance(uuid.NewString(), tmpl, roomID)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.instances[inst.ID] = inst
	if m.roomSets[roomID] == nil {
		m.roomSets[roomID] = make(map[string]bool)
	}
	m.roomSets[roomID][inst.ID] = true

	return inst, nil
}

// Remove deletes an instance by ID.
//
// Postcondition: Returns an error if the instance is not found.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("monster instance %q not found", id)
	}

	if rs, ok := m.roomSets[inst.RoomID]; ok {
		delete(rs, id)
		if len(rs) == 0 {
			delete(m.roomSets, inst.RoomID)
		}
	}
	delete(m.instances, id)
	return nil
}

// Get returns the instance with the given ID.
//
// Postcondition: Returns (inst, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// InstancesAt returns a snapshot of all live instances in roomID.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (m *Manager) InstancesAt(roomID string) []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.roomSets[roomID]
	if !ok {
		return []*Instance{}
	}

	out := make([]*Instance, 0, len(ids))
	for id := range ids {
		if inst, ok := m.instances[id]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// FindAt returns the first instance in roomID whose Name has target as a
// case-insensitive prefix. Returns nil if no match is found.
func (m *Manager) FindAt(roomID, target string) *Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.roomSets[roomID]
	if !ok {
		return nil
	}

	lower := strings.ToLower(target)
	for id := range ids {
		inst, ok := m.instances[id]
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToLower(inst.Name), lower) {
			return inst
		}
	}
	return nil
}

// Count returns the total number of live instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
