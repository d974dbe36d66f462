// Package event defines the outbound event variant pushed to connected
// players and the router that fans events out to their sinks.
//
// The set of kinds is closed: consumers dispatch on the "kind" field of
// the envelope, so adding a kind is a protocol change.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the envelope's payload shape.
type Kind string

const (
	KindCombatStart  Kind = "combat_start"
	KindCombatMsg    Kind = "combat_message"
	KindCombatStatus Kind = "combat_status"
	KindTurnStart    Kind = "turn_start"
	KindActionResult Kind = "action_result"
	KindCombatEnd    Kind = "combat_end"
	KindMonsterAggro Kind = "monster_aggro"
)

// Audience addresses an event. Exactly one of RoomID or SessionID is set;
// ExcludeSessionID optionally narrows a room audience.
type Audience struct {
	RoomID           string
	SessionID        string
	ExcludeSessionID string
}

// Room addresses every session in roomID.
func Room(roomID string) Audience {
	return Audience{RoomID: roomID}
}

// RoomExcept addresses every session in roomID except the one given.
func RoomExcept(roomID, exceptSessionID string) Audience {
	return Audience{RoomID: roomID, ExcludeSessionID: exceptSessionID}
}

// Session addresses a single session.
func Session(sessionID string) Audience {
	return Audience{SessionID: sessionID}
}

// Event is one member of the closed outbound variant.
type Event interface {
	EventKind() Kind
	EventAudience() Audience
}

// Publisher accepts events for delivery. The combat engine, movement
// orchestrator, and aggro trigger publish through this interface.
type Publisher interface {
	Publish(e Event) error
}

// FighterStatus is one combatant's slice of a status snapshot.
type FighterStatus struct {
	Name         string  `json:"name"`
	HP           int     `json:"hp"`
	MaxHP        int     `json:"max_hp"`
	HPPercentage float64 `json:"hp_percentage"`
	Initiative   int     `json:"initiative"`
}

// CombatStatus is the full snapshot of one encounter, embedded in
// combat_start, combat_status, and monster_aggro events.
type CombatStatus struct {
	RoomID      string        `json:"room_id"`
	State       string        `json:"state"`
	TurnNumber  int           `json:"turn_number"`
	CurrentTurn string        `json:"current_turn"`
	TurnTimeout float64       `json:"turn_timeout"`
	Player      FighterStatus `json:"player"`
	Monster     FighterStatus `json:"monster"`
	LastTurn    string        `json:"last_turn,omitempty"`
	IsOngoing   bool          `json:"is_ongoing"`
}

// CombatStart announces a new encounter to its room.
type CombatStart struct {
	To      Audience      `json:"-"`
	Message string        `json:"message"`
	Status  *CombatStatus `json:"combat_status"`
}

func (e CombatStart) EventKind() Kind         { return KindCombatStart }
func (e CombatStart) EventAudience() Audience { return e.To }

// CombatMessage carries mid-combat narrative text.
type CombatMessage struct {
	To      Audience      `json:"-"`
	Message string        `json:"message"`
	Status  *CombatStatus `json:"combat_status,omitempty"`
}

func (e CombatMessage) EventKind() Kind         { return KindCombatMsg }
func (e CombatMessage) EventAudience() Audience { return e.To }

// StatusUpdate is the per-turn snapshot event.
type StatusUpdate struct {
	To     Audience      `json:"-"`
	Status *CombatStatus `json:"combat_status"`
}

func (e StatusUpdate) EventKind() Kind         { return KindCombatStatus }
func (e StatusUpdate) EventAudience() Audience { return e.To }

// TurnStart tells the player a new turn has begun and whose it is.
type TurnStart struct {
	To           Audience `json:"-"`
	Message      string   `json:"message"`
	CurrentTurn  int      `json:"current_turn"`
	IsPlayerTurn bool     `json:"is_player_turn"`
	Deadline     float64  `json:"turn_timeout"`
}

func (e TurnStart) EventKind() Kind         { return KindTurnStart }
func (e TurnStart) EventAudience() Audience { return e.To }

// ActionResult reports one resolved action, with the snapshot as it stood
// after the action applied.
type ActionResult struct {
	To      Audience      `json:"-"`
	Actor   string        `json:"actor"`
	Action  string        `json:"action"`
	Message string        `json:"message"`
	Damage  int           `json:"damage,omitempty"`
	Success bool          `json:"success"`
	Status  *CombatStatus `json:"combat_status"`
}

func (e ActionResult) EventKind() Kind         { return KindActionResult }
func (e ActionResult) EventAudience() Audience { return e.To }

// CombatEnd announces encounter termination and its outcome.
type CombatEnd struct {
	To      Audience `json:"-"`
	Message string   `json:"message"`
	Victor  string   `json:"victor,omitempty"`
	Reason  string   `json:"reason"`
}

func (e CombatEnd) EventKind() Kind         { return KindCombatEnd }
func (e CombatEnd) EventAudience() Audience { return e.To }

// MonsterAggro announces that a hostile noticed an arriving player.
type MonsterAggro struct {
	To            Audience      `json:"-"`
	MonsterID     string        `json:"monster_id"`
	MonsterName   string        `json:"monster_name"`
	Message       string        `json:"message"`
	CombatStarted bool          `json:"combat_started"`
	CombatInfo    *CombatStatus `json:"combat_info,omitempty"`
}

func (e MonsterAggro) EventKind() Kind         { return KindMonsterAggro }
func (e MonsterAggro) EventAudience() Audience { return e.To }

// Encode serializes an event into its wire envelope: the payload fields
// inline alongside a "kind" discriminator.
//
// Postcondition: Returns a JSON object whose "kind" field equals
// e.EventKind(), or an error for a kind outside the variant.
func Encode(e Event) ([]byte, error) {
	kind := e.EventKind()
	switch ev := e.(type) {
	case CombatStart:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			CombatStart
		}{kind, ev})
	case CombatMessage:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			CombatMessage
		}{kind, ev})
	case StatusUpdate:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			StatusUpdate
		}{kind, ev})
	case TurnStart:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			TurnStart
		}{kind, ev})
	case ActionResult:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			ActionResult
		}{kind, ev})
	case CombatEnd:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			CombatEnd
		}{kind, ev})
	case MonsterAggro:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			MonsterAggro
		}{kind, ev})
	default:
		return nil, fmt.Errorf("event: unknown event type %T", e)
	}
}

// TimeoutSeconds converts a turn deadline to the wire representation.
func TimeoutSeconds(d time.Duration) float64 {
	return d.Seconds()
}
