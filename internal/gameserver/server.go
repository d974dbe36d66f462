// Package gameserver ties the session registry, combat engine, movement
// orchestrator, and persistence together behind the inbound entry points a
// connection layer calls.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/config"
	"github.com/emberwake/mud/internal/game/character"
	"github.com/emberwake/mud/internal/game/combat"
	"github.com/emberwake/mud/internal/game/movement"
	"github.com/emberwake/mud/internal/game/session"
	"github.com/emberwake/mud/internal/game/world"
)

// ErrCharacterOnline is returned when a login targets a character that
// already has a live session.
var ErrCharacterOnline = errors.New("gameserver: character already online")

// ErrNotSameRoom is returned when a follow request targets a leader in a
// different room.
var ErrNotSameRoom = errors.New("gameserver: leader is not here")

// CharacterStore is the slice of the character repository the server needs.
// *postgres.CharacterRepository satisfies it.
type CharacterStore interface {
	GetByID(ctx context.Context, id int64) (*character.Character, error)
	SaveState(ctx context.Context, id int64, location string, currentHP int) error
}

// Server is the facade over the game core. One instance serves all
// connections; every method is safe for concurrent use.
type Server struct {
	registry *session.Registry
	engine   *combat.Engine
	mover    *movement.Orchestrator
	follows  *movement.FollowGraph
	world    *world.Manager
	chars    CharacterStore
	arrivals movement.Arrivals
	cfg      config.GameConfig
	logger   *zap.Logger
}

// NewServer creates a Server.
//
// Precondition: all arguments must be non-nil; arrivals may be nil (no
// room-entry reactions on login).
func NewServer(
	registry *session.Registry,
	engine *combat.Engine,
	mover *movement.Orchestrator,
	follows *movement.FollowGraph,
	worldMgr *world.Manager,
	chars CharacterStore,
	arrivals movement.Arrivals,
	cfg config.GameConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry: registry,
		engine:   engine,
		mover:    mover,
		follows:  follows,
		world:    worldMgr,
		chars:    chars,
		arrivals: arrivals,
		cfg:      cfg,
		logger:   logger,
	}
}

// Login loads the character, registers a session for it, and places it in
// its saved room. A saved location that no longer exists falls back to the
// world's start room.
//
// Precondition: sessionID must be unique among live sessions.
// Postcondition: Returns the registered session, ErrCharacterOnline if the
// character already has one, or a load/registration error.
func (s *Server) Login(ctx context.Context, sessionID string, characterID int64) (*session.Session, error) {
	c, err := s.chars.GetByID(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("loading character %d: %w", characterID, err)
	}

	if _, online := s.registry.FindByCharacter(c.ID); online {
		return nil, fmt.Errorf("character %q: %w", c.Name, ErrCharacterOnline)
	}

	roomID := c.Location
	if _, ok := s.world.GetRoom(roomID); !ok {
		start := s.world.StartRoom()
		if start == nil {
			return nil, fmt.Errorf("character %q: saved room %q is gone and no start room is configured", c.Name, roomID)
		}
		s.logger.Warn("saved room no longer exists, using start room",
			zap.String("character", c.Name),
			zap.String("saved_room", roomID),
			zap.String("start_room", start.ID),
		)
		roomID = start.ID
	}

	sess, err := s.registry.Register(sessionID, c.ID, c.Name, roomID, c.Locale, c.CurrentHP, c.MaxHP, c.Initiative)
	if err != nil {
		return nil, err
	}

	s.logger.Info("character logged in",
		zap.String("session_id", sessionID),
		zap.String("character", c.Name),
		zap.String("room_id", roomID),
	)

	if s.arrivals != nil {
		s.arrivals.OnArrival(sess, roomID)
	}
	return sess, nil
}

// StartCombat opens an encounter between the session and a monster in its
// room.
//
// Postcondition: Returns the new encounter's ID, or an error from the
// engine (ErrAlreadyInCombat, ErrMonsterNotFound, ErrMonsterDead, ...).
func (s *Server) StartCombat(sessionID, monsterID string) (string, error) {
	sess, ok := s.registry.Find(sessionID)
	if !ok {
		return "", fmt.Errorf("session %q: %w", sessionID, session.ErrSessionNotFound)
	}
	// The room is read through the registry: a follower can be relocated
	// by its leader's connection goroutine at any moment.
	roomID, ok := s.registry.RoomOf(sessionID)
	if !ok {
		return "", fmt.Errorf("session %q: %w", sessionID, session.ErrSessionNotFound)
	}
	enc, err := s.engine.Start(sess, roomID, monsterID)
	if err != nil {
		return "", err
	}
	return enc.ID, nil
}

// SubmitAction applies the player's action to their oldest encounter that
// is awaiting one.
//
// Postcondition: Returns combat.ErrInvalidAction for an unknown action and
// combat.ErrNotInCombat when no encounter is waiting.
func (s *Server) SubmitAction(sessionID, action string) error {
	act, err := combat.ParseAction(action)
	if err != nil {
		return err
	}
	encID, ok := s.engine.OldestWaiting(sessionID)
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, combat.ErrNotInCombat)
	}
	return s.engine.SubmitAction(encID, act)
}

// Move relocates the session one room in the given direction, dragging
// followers along.
//
// Postcondition: Returns the destination room ID, or an error from the
// orchestrator (ErrNoSuchExit, ErrBlocked, ErrSessionNotFound).
func (s *Server) Move(sessionID, direction string) (string, error) {
	dir := world.Direction(strings.ToLower(strings.TrimSpace(direction)))
	return s.mover.Move(sessionID, dir)
}

// Follow makes the session trail the leader's movements. The leader must be
// in the same room.
func (s *Server) Follow(sessionID, leaderID string) error {
	room, ok := s.registry.RoomOf(sessionID)
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, session.ErrSessionNotFound)
	}
	leader, ok := s.registry.Find(leaderID)
	if !ok {
		return fmt.Errorf("session %q: %w", leaderID, session.ErrSessionNotFound)
	}
	leaderRoom, _ := s.registry.RoomOf(leaderID)
	if room != leaderRoom {
		return fmt.Errorf("follow %q: %w", leader.CharName, ErrNotSameRoom)
	}
	s.follows.Follow(sessionID, leaderID)
	return nil
}

// Unfollow clears the session's leader, if any.
func (s *Server) Unfollow(sessionID string) {
	s.follows.Unfollow(sessionID)
}

// Logout ends the session gracefully: encounters are force-ended, state is
// saved, and the session is released.
func (s *Server) Logout(ctx context.Context, sessionID string) error {
	return s.teardown(ctx, sessionID, "logout")
}

// Disconnect handles an abrupt connection loss. Behaviour matches Logout
// except for the reason reported in combat_end events, and — when the
// disconnect action is "attack" — one final default attack resolved per
// waiting encounter before the forced end.
func (s *Server) Disconnect(ctx context.Context, sessionID string) error {
	if s.cfg.DisconnectAction == string(combat.ActionAttack) {
		for _, encID := range s.engine.WaitingEncounters(sessionID) {
			if err := s.engine.SubmitAction(encID, combat.ActionAttack); err != nil &&
				!errors.Is(err, combat.ErrEncounterNotFound) && !errors.Is(err, combat.ErrNotWaiting) {
				s.logger.Warn("final attack on disconnect failed",
					zap.String("session_id", sessionID),
					zap.String("encounter_id", encID),
					zap.Error(err),
				)
			}
		}
	}
	return s.teardown(ctx, sessionID, "disconnect")
}

// teardown force-ends the session's encounters, persists the character's
// room and HP, removes it from the follow graph, and unregisters it
// (closing its event sink).
func (s *Server) teardown(ctx context.Context, sessionID, reason string) error {
	sess, ok := s.registry.Find(sessionID)
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, session.ErrSessionNotFound)
	}

	s.engine.ForceEnd(sessionID, reason)

	// HP may have changed during ForceEnd's final bookkeeping; read after.
	// The room comes from the registry, not the shared struct field.
	roomID, _ := s.registry.RoomOf(sessionID)
	if err := s.chars.SaveState(ctx, sess.CharacterID, roomID, sess.CurrentHP); err != nil {
		// The session is going away regardless; losing the save is worth a
		// log line, not a stuck connection.
		s.logger.Error("saving character state",
			zap.Int64("character_id", sess.CharacterID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	s.follows.Remove(sessionID)
	if err := s.registry.Unregister(sessionID); err != nil {
		return err
	}

	s.logger.Info("session closed",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
	)
	return nil
}
