package event

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/game/session"
)

// ErrEmptyAudience is returned by Publish when the audience names neither
// a room nor a session.
var ErrEmptyAudience = errors.New("event: audience names no room or session")

// Recipients resolves audiences against live sessions. *session.Registry
// satisfies it.
type Recipients interface {
	Find(sessionID string) (*session.Session, bool)
	SessionsAt(roomID string) []string
}

// StaleFunc is called with the ID of a session whose sink rejected a push.
// It runs on the publishing goroutine after the fan-out completes, outside
// the router's lock, so it may unregister the session.
type StaleFunc func(sessionID string)

// Router encodes events and fans them out to recipient sinks.
//
// Invariant: events published for the same audience are delivered to each
// recipient's sink in publish order.
type Router struct {
	mu         sync.Mutex
	recipients Recipients
	logger     *zap.Logger
	stale      StaleFunc

	throttleInterval time.Duration
	throttledKinds   map[Kind]bool
	lastSent         map[throttleKey]time.Time
	now              func() time.Time
}

type throttleKey struct {
	roomID string
	kind   Kind
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithStaleFunc sets the callback for sessions whose sinks reject pushes.
func WithStaleFunc(fn StaleFunc) RouterOption {
	return func(r *Router) { r.stale = fn }
}

// WithThrottle enables minimum-interval suppression for the given kinds,
// bucketed per (room, kind). A zero interval disables throttling.
func WithThrottle(interval time.Duration, kinds []Kind) RouterOption {
	return func(r *Router) {
		r.throttleInterval = interval
		r.throttledKinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			r.throttledKinds[k] = true
		}
	}
}

// withClock overrides the throttle clock. Test hook.
func withClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router delivering to sessions resolved by recipients.
//
// Precondition: recipients and logger must be non-nil.
func NewRouter(recipients Recipients, logger *zap.Logger, opts ...RouterOption) *Router {
	r := &Router{
		recipients: recipients,
		logger:     logger,
		lastSent:   make(map[throttleKey]time.Time),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish encodes e and pushes it to every resolved recipient.
//
// Per-recipient failures are logged and reported to the stale callback but
// never abort delivery to the remaining recipients. A throttled drop
// returns nil: suppression is not an error.
//
// Postcondition: Returns a non-nil error only for an unencodable event or
// an empty audience.
func (r *Router) Publish(e Event) error {
	r.mu.Lock()

	aud := e.EventAudience()
	if aud.RoomID == "" && aud.SessionID == "" {
		r.mu.Unlock()
		return ErrEmptyAudience
	}

	if aud.RoomID != "" && r.shouldThrottleLocked(aud.RoomID, e.EventKind()) {
		r.mu.Unlock()
		r.logger.Debug("event throttled",
			zap.String("kind", string(e.EventKind())),
			zap.String("room_id", aud.RoomID),
		)
		return nil
	}

	data, err := Encode(e)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("encoding %s event: %w", e.EventKind(), err)
	}

	var targets []string
	if aud.SessionID != "" {
		targets = []string{aud.SessionID}
	} else {
		for _, id := range r.recipients.SessionsAt(aud.RoomID) {
			if id == aud.ExcludeSessionID {
				continue
			}
			targets = append(targets, id)
		}
	}

	var staleIDs []string
	for _, id := range targets {
		sess, ok := r.recipients.Find(id)
		if !ok {
			continue
		}
		if err := sess.Conn.Push(data); err != nil {
			r.logger.Warn("event delivery failed",
				zap.String("kind", string(e.EventKind())),
				zap.String("session_id", id),
				zap.Error(err),
			)
			staleIDs = append(staleIDs, id)
		}
	}
	r.mu.Unlock()

	// Stale reporting happens outside the router lock so the callback may
	// unregister sessions without deadlocking against concurrent publishes.
	if r.stale != nil {
		for _, id := range staleIDs {
			r.stale(id)
		}
	}
	return nil
}

// shouldThrottleLocked reports whether this (room, kind) bucket is still
// inside its minimum interval, recording the send time when it is not.
func (r *Router) shouldThrottleLocked(roomID string, kind Kind) bool {
	if r.throttleInterval <= 0 || !r.throttledKinds[kind] {
		return false
	}
	key := throttleKey{roomID: roomID, kind: kind}
	now := r.now()
	if last, ok := r.lastSent[key]; ok && now.Sub(last) < r.throttleInterval {
		return true
	}
	r.lastSent[key] = now
	return false
}
