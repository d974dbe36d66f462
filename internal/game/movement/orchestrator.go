package movement

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/game/session"
	"github.com/emberwake/mud/internal/game/world"
)

// ErrRecursionGuard is returned when follower propagation nests deeper
// than the configured limit. It aborts only the nested relocation, never
// the primary move.
var ErrRecursionGuard = errors.New("movement: follow propagation too deep")

// World resolves and gates movement. *world.Manager satisfies it.
type World interface {
	Resolve(roomID string, dir world.Direction) (string, error)
	Enterable(roomID string) error
}

// Arrivals reacts to a session entering a room. The aggro trigger
// satisfies it. roomID is the room just entered, so implementations never
// read the mutable Session.RoomID field. Called while the orchestrator
// holds its lock, so arrival reactions are serialized with movement;
// implementations must not call back into the Orchestrator.
type Arrivals interface {
	OnArrival(sess *session.Session, roomID string)
}

// Orchestrator executes moves: exit resolution, atomic relocation,
// follower propagation, and arrival reactions.
//
// A single mutex serializes all moves, so the leave/enter/aggro sequence
// of one relocation never interleaves with another.
type Orchestrator struct {
	mu         sync.Mutex
	registry   *session.Registry
	world      World
	follows    *FollowGraph
	arrivals   Arrivals
	depthLimit int
	logger     *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
//
// Precondition: registry, w, follows, and logger must be non-nil;
// depthLimit >= 1. arrivals may be nil.
func NewOrchestrator(registry *session.Registry, w World, follows *FollowGraph, arrivals Arrivals, depthLimit int, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		world:      w,
		follows:    follows,
		arrivals:   arrivals,
		depthLimit: depthLimit,
		logger:     logger,
	}
}

// Move relocates the session one room in the given direction and drags
// its followers along.
//
// Postcondition: On success returns the destination room ID; the session
// and every follower that shared its pre-move room have been relocated
// and their arrival reactions run. Returns world.ErrNoSuchExit,
// world.ErrBlocked, or session.ErrSessionNotFound.
func (o *Orchestrator) Move(sessionID string, dir world.Direction) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.relocate(sessionID, dir, 0, true)
}

// relocate performs one session's move. Nested calls (followers) run with
// propagate false so follower chains do not cascade, and a depth guard
// aborts the nested call if propagation semantics ever regress.
func (o *Orchestrator) relocate(sessionID string, dir world.Direction, depth int, propagate bool) (string, error) {
	if depth > o.depthLimit {
		return "", fmt.Errorf("depth %d exceeds limit %d: %w", depth, o.depthLimit, ErrRecursionGuard)
	}

	sess, ok := o.registry.Find(sessionID)
	if !ok {
		return "", fmt.Errorf("session %q: %w", sessionID, session.ErrSessionNotFound)
	}

	roomID, _ := o.registry.RoomOf(sessionID)
	dest, err := o.world.Resolve(roomID, dir)
	if err != nil {
		return "", err
	}
	if err := o.world.Enterable(dest); err != nil {
		return "", err
	}

	oldRoom, err := o.registry.Move(sessionID, dest)
	if err != nil {
		return "", err
	}

	o.logger.Debug("session moved",
		zap.String("session_id", sessionID),
		zap.String("from", oldRoom),
		zap.String("to", dest),
		zap.String("direction", string(dir)),
		zap.Int("depth", depth),
	)

	if o.arrivals != nil {
		o.arrivals.OnArrival(sess, dest)
	}

	if propagate {
		// Followers are filtered by the leader's pre-move room: a follower
		// elsewhere in the world stays put.
		for _, fid := range o.follows.Followers(sessionID) {
			froom, ok := o.registry.RoomOf(fid)
			if !ok || froom != oldRoom {
				continue
			}
			if _, err := o.relocate(fid, dir, depth+1, false); err != nil {
				// A follower that cannot make the move is left behind;
				// the primary move already succeeded.
				o.logger.Warn("follower could not follow",
					zap.String("leader_id", sessionID),
					zap.String("follower_id", fid),
					zap.String("direction", string(dir)),
					zap.Error(err),
				)
			}
		}
	}

	return dest, nil
}
