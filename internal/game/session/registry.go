package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateSession is returned by Register when the character already
// has a live session.
var ErrDuplicateSession = errors.New("session: character already connected")

// ErrSessionNotFound is returned when a session ID is not registered.
var ErrSessionNotFound = errors.New("session: not found")

// Session tracks a connected player's state.
type Session struct {
	// ID is the unique session identifier (uuid string).
	ID string
	// CharacterID is the database ID of the character for persistence.
	CharacterID int64
	// CharName is the character display name shown in-game.
	CharName string
	// RoomID is the current room the player occupies. Owned by the
	// Registry after registration: read it via Registry.RoomOf (or inside
	// the move path, which serializes relocations), never off the shared
	// struct.
	RoomID string
	// Locale is the player's preferred BCP-47 language tag (may be empty).
	Locale string
	// CurrentHP is the character's current hit points.
	CurrentHP int
	// MaxHP is the character's maximum hit points.
	MaxHP int
	// Initiative is the character's initiative modifier for combat ordering.
	Initiative int
	// Conn is the sink for pushing serialized events to the player.
	Conn *EventSink
}

// Registry tracks all active sessions and room occupancy.
// All methods are safe for concurrent use.
//
// Invariant: a session appears in exactly one room set, the one matching
// its RoomID, for as long as it is registered.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session         // sessionID → session
	byCharacter map[int64]string            // characterID → sessionID
	roomSets    map[string]map[string]bool  // roomID → set of session IDs
	bufferSize  int
}

// NewRegistry creates an empty session Registry. bufferSize is the
// per-session outbound event channel capacity.
func NewRegistry(bufferSize int) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		byCharacter: make(map[int64]string),
		roomSets:    make(map[string]map[string]bool),
		bufferSize:  bufferSize,
	}
}

// Register adds a new session in the given room and creates its event sink.
//
// Precondition: id, charName, and roomID must be non-empty; characterID > 0.
// Postcondition: Returns the created Session, ErrDuplicateSession if the
// character already has a live session, or an error for a reused session ID.
func (r *Registry) Register(id string, characterID int64, charName, roomID, locale string, currentHP, maxHP, initiative int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already registered", id)
	}
	if _, exists := r.byCharacter[characterID]; exists {
		return nil, fmt.Errorf("character %d: %w", characterID, ErrDuplicateSession)
	}

	sess := &Session{
		ID:          id,
		CharacterID: characterID,
		CharName:    charName,
		RoomID:      roomID,
		Locale:      locale,
		CurrentHP:   currentHP,
		MaxHP:       maxHP,
		Initiative:  initiative,
		Conn:        NewEventSink(id, r.bufferSize),
	}

	r.sessions[id] = sess
	r.byCharacter[characterID] = id
	if r.roomSets[roomID] == nil {
		r.roomSets[roomID] = make(map[string]bool)
	}
	r.roomSets[roomID][id] = true

	return sess, nil
}

// Unregister removes a session, cleans up room occupancy, and closes its sink.
//
// Postcondition: The session is removed from all tracking. Returns
// ErrSessionNotFound if the ID is not registered.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[id]
	if !exists {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	if rs, ok := r.roomSets[sess.RoomID]; ok {
		delete(rs, id)
		if len(rs) == 0 {
			delete(r.roomSets, sess.RoomID)
		}
	}

	_ = sess.Conn.Close()

	delete(r.byCharacter, sess.CharacterID)
	delete(r.sessions, id)
	return nil
}

// Move relocates a session to a new room, updating the room index in the
// same critical section so concurrent readers never see the session in two
// rooms or in none.
//
// Precondition: id and newRoomID must be non-empty.
// Postcondition: Returns the old room ID, or ErrSessionNotFound.
func (r *Registry) Move(id, newRoomID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[id]
	if !exists {
		return "", fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	oldRoomID := sess.RoomID

	if rs, ok := r.roomSets[oldRoomID]; ok {
		delete(rs, id)
		if len(rs) == 0 {
			delete(r.roomSets, oldRoomID)
		}
	}

	sess.RoomID = newRoomID
	if r.roomSets[newRoomID] == nil {
		r.roomSets[newRoomID] = make(map[string]bool)
	}
	r.roomSets[newRoomID][id] = true

	return oldRoomID, nil
}

// RoomOf returns the session's current room, read under the registry lock.
// Session.RoomID is written by Move while other goroutines hold the same
// *Session, so room reads outside the registry must go through here.
//
// Postcondition: Returns (roomID, true) if the session is registered, or
// ("", false) otherwise.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return sess.RoomID, true
}

// Find returns the session for the given ID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) Find(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// FindByCharacter returns the live session for the given character ID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) FindByCharacter(characterID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCharacter[characterID]
	if !ok {
		return nil, false
	}
	sess, ok := r.sessions[id]
	return sess, ok
}

// SessionsAt returns the session IDs of all players in the given room.
//
// Postcondition: Returns a slice of session IDs (may be empty).
func (r *Registry) SessionsAt(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.roomSets[roomID]
	if !ok {
		return nil
	}

	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	return result
}

// NamesAt returns the character display names of all players in the given room.
func (r *Registry) NamesAt(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.roomSets[roomID]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(ids))
	for id := range ids {
		if sess, ok := r.sessions[id]; ok {
			names = append(names, sess.CharName)
		}
	}
	return names
}

// Count returns the total number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
