package combat

import (
	"time"

	"github.com/emberwake/mud/internal/game/event"
	"github.com/emberwake/mud/internal/game/session"
)

// Fighter is one combatant's mutable state inside an encounter.
//
// Invariant: 0 <= HP <= MaxHP at all times; resolution clamps every
// HP change to that range.
type Fighter struct {
	// ID is the session ID (player side) or instance ID (monster side).
	ID string
	// Name is the display name used in messages and snapshots.
	Name string
	// HP is the current hit points.
	HP int
	// MaxHP is the maximum hit points.
	MaxHP int
	// Initiative is the rolled initiative score deciding turn order.
	Initiative int
	// Damage is the dice expression rolled for this fighter's attacks.
	Damage string
}

// Encounter is one live fight between a player and a monster instance.
// All fields are owned by the Engine and mutated only under its lock.
type Encounter struct {
	// ID uniquely identifies the encounter.
	ID string
	// RoomID is where the fight takes place; all room-audience events go here.
	RoomID string
	// SessionID is the player side's session.
	SessionID string
	// MonsterID is the monster side's instance ID.
	MonsterID string
	// Locale is the player's preferred language for message text.
	Locale string

	Player  Fighter
	Monster Fighter

	// State is the lifecycle phase; see the State constants.
	State State
	// Turn counts turns starting at 1 and only ever increases.
	Turn int
	// LastTurn summarizes the previous turn's outcome for status snapshots.
	LastTurn string
	// CreatedAt orders a session's encounters for default resolution.
	CreatedAt time.Time

	// pending is the action submitted (or substituted) for this turn.
	pending *Action
	// defending halves incoming damage for the remainder of the turn.
	defending bool
	// timer enforces the per-turn action deadline.
	timer *TurnTimer
	// sess receives the player's HP write-back when the encounter ends.
	sess *session.Session
}

// status builds a wire snapshot of the encounter. Caller must hold the
// engine lock.
func (e *Encounter) status(turnTimeout time.Duration) *event.CombatStatus {
	currentTurn := "player"
	if e.State == StateEnded {
		currentTurn = ""
	}
	return &event.CombatStatus{
		RoomID:      e.RoomID,
		State:       string(e.State),
		TurnNumber:  e.Turn,
		CurrentTurn: currentTurn,
		TurnTimeout: turnTimeout.Seconds(),
		Player:      fighterStatus(e.Player),
		Monster:     fighterStatus(e.Monster),
		LastTurn:    e.LastTurn,
		IsOngoing:   e.State != StateEnded,
	}
}

func fighterStatus(f Fighter) event.FighterStatus {
	pct := 0.0
	if f.MaxHP > 0 {
		pct = float64(f.HP) / float64(f.MaxHP) * 100
	}
	return event.FighterStatus{
		Name:         f.Name,
		HP:           f.HP,
		MaxHP:        f.MaxHP,
		HPPercentage: pct,
		Initiative:   f.Initiative,
	}
}

// clampHP bounds hp to [0, max].
func clampHP(hp, max int) int {
	if hp < 0 {
		return 0
	}
	if hp > max {
		return max
	}
	return hp
}
