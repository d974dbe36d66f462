// Package combat implements turn-based encounters between players and
// hostile entities: state machine, turn timers, initiative, and resolution.
package combat

import (
	"errors"
	"fmt"
	"strings"
)

// Action is a player's choice for one combat turn.
type Action string

const (
	ActionAttack Action = "attack"
	ActionDefend Action = "defend"
	ActionFlee   Action = "flee"
)

// ErrInvalidAction is returned for an action outside the known set.
var ErrInvalidAction = errors.New("combat: invalid action")

// ParseAction maps a raw action string to an Action.
//
// Postcondition: Returns a valid Action or ErrInvalidAction.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAttack:
		return ActionAttack, nil
	case ActionDefend:
		return ActionDefend, nil
	case ActionFlee:
		return ActionFlee, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// State is the lifecycle phase of an encounter.
type State string

const (
	// StateStarting covers encounter setup before the first turn opens.
	StateStarting State = "starting"
	// StateWaiting means the engine is waiting for the player's action.
	StateWaiting State = "waiting_for_action"
	// StateResolving means the current turn's actions are being applied.
	StateResolving State = "resolving_turn"
	// StateEnded is terminal; the encounter is released on entry.
	StateEnded State = "ended"
)
