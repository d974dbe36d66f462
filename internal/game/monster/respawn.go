package monster

import (
	"sync"
	"time"
)

// RoomSpawn holds the resolved spawn configuration for one template in one room.
//
// Invariant: Max >= 1; RespawnDelay == 0 means this template does not respawn.
type RoomSpawn struct {
	// TemplateID is the monster template to spawn.
	TemplateID string
	// Max is the population cap: respawn is suppressed when live count >= Max.
	Max int
	// RespawnDelay is the duration to wait before attempting a respawn.
	// Zero means the template does not respawn.
	RespawnDelay time.Duration
}

type respawnEntry struct {
	templateID string
	roomID     string
	readyAt    time.Time
}

// RespawnScheduler schedules and executes monster respawns.
//
// Concurrency: Tick and PopulateRoom must not be called concurrently with
// each other or with themselves; Schedule may be called from any goroutine.
// In practice PopulateRoom runs during single-threaded startup and Tick is
// driven by one ticker goroutine.
type RespawnScheduler struct {
	mu        sync.RWMutex
	spawns    map[string][]RoomSpawn // roomID → configs
	templates map[string]*Template   // templateID → Template
	pending   []respawnEntry
}

// NewRespawnScheduler creates a RespawnScheduler from room spawn configs and
// a template map.
//
// Precondition: spawns and templates may be nil (scheduler becomes a no-op).
func NewRespawnScheduler(spawns map[string][]RoomSpawn, templates map[string]*Template) *RespawnScheduler {
	if spawns == nil {
		spawns = make(map[string][]RoomSpawn)
	}
	if templates == nil {
		templates = make(map[string]*Template)
	}
	return &RespawnScheduler{
		spawns:    spawns,
		templates: templates,
	}
}

// PopulateRoom fills roomID up to each config's population cap, removing
// excess instances first.
//
// Postcondition: for each template config in roomID, live count == Max
// (subject to Spawn succeeding).
func (r *RespawnScheduler) PopulateRoom(roomID string, mgr *Manager) {
	r.mu.RLock()
	configs := append([]RoomSpawn(nil), r.spawns[roomID]...)
	r.mu.RUnlock()

	for _, cfg := range configs {
		// templates is read-only after construction; no lock required.
		tmpl, ok := r.templates[cfg.TemplateID]
		if !ok {
			continue
		}

		var matching []*Instance
		for _, inst := range mgr.InstancesAt(roomID) {
			if inst.TemplateID == cfg.TemplateID {
				matching = append(matching, inst)
			}
		}
		for len(matching) > cfg.Max {
			last := matching[len(matching)-1]
			matching = matching[:len(matching)-1]
			_ = mgr.Remove(last.ID)
		}

		for i := len(matching); i < cfg.Max; i++ {
			if _, err := mgr.Spawn(tmpl, roomID); err != nil {
				continue
			}
		}
	}
}

// Schedule enqueues a future respawn for templateID in roomID to fire at
// now+delay. No-op when delay == 0 (template does not respawn).
//
// Postcondition: entry is added to pending with readyAt = now+delay iff delay > 0.
func (r *RespawnScheduler) Schedule(templateID, roomID string, now time.Time, delay time.Duration) {
	if delay <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, respawnEntry{
		templateID: templateID,
		roomID:     roomID,
		readyAt:    now.Add(delay),
	})
}

// Tick drains all entries whose readyAt <= now, checks the population cap
// for each, and spawns up to the remaining capacity.
//
// Postcondition: pending entries with readyAt <= now are consumed.
func (r *RespawnScheduler) Tick(now time.Time, mgr *Manager) {
	r.mu.Lock()
	var ready, future []respawnEntry
	for _, e := range r.pending {
		if !e.readyAt.After(now) {
			ready = append(ready, e)
		} else {
			future = append(future, e)
		}
	}
	r.pending = future
	r.mu.Unlock()

	for _, e := range ready {
		tmpl, ok := r.templates[e.templateID]
		if !ok {
			continue
		}
		cfg, ok := r.configFor(e.roomID, e.templateID)
		if !ok {
			continue
		}
		if countInRoom(e.roomID, e.templateID, mgr) >= cfg.Max {
			continue
		}
		_, _ = mgr.Spawn(tmpl, e.roomID)
	}
}

// ResolvedDelay returns the effective respawn delay for templateID in
// roomID: the room's RespawnDelay if non-zero, otherwise the template's
// parsed RespawnDelay. Returns 0 when neither is set.
//
// Postcondition: Returns >= 0.
func (r *RespawnScheduler) ResolvedDelay(templateID, roomID string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.spawns[roomID] {
		if cfg.TemplateID == templateID && cfg.RespawnDelay > 0 {
			return cfg.RespawnDelay
		}
	}
	tmpl, ok := r.templates[templateID]
	if !ok || tmpl.RespawnDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(tmpl.RespawnDelay)
	if err != nil {
		return 0
	}
	return d
}

func (r *RespawnScheduler) configFor(roomID, templateID string) (RoomSpawn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.spawns[roomID] {
		if cfg.TemplateID == templateID {
			return cfg, true
		}
	}
	return RoomSpawn{}, false
}

func countInRoom(roomID, templateID string, mgr *Manager) int {
	count := 0
	for _, inst := range mgr.InstancesAt(roomID) {
		if inst.TemplateID == templateID {
			count++
		}
	}
	return count
}
