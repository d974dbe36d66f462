// Package aggro makes aggressive monsters react to players entering
// their room.
package aggro

import (
	"errors"

	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/game/combat"
	"github.com/emberwake/mud/internal/game/event"
	"github.com/emberwake/mud/internal/game/locale"
	"github.com/emberwake/mud/internal/game/monster"
	"github.com/emberwake/mud/internal/game/session"
)

// Engine is the slice of the combat engine the trigger needs.
type Engine interface {
	Start(sess *session.Session, roomID, monsterID string) (*combat.Encounter, error)
	StatusOf(encounterID string) (*event.CombatStatus, error)
	IsMonsterInCombat(monsterID string) bool
}

// Monsters lists live instances per room. *monster.Manager satisfies it.
type Monsters interface {
	InstancesAt(roomID string) []*monster.Instance
}

// Trigger scans the arrival room for aggressive monsters and opens
// encounters against the arriving session. It satisfies movement.Arrivals.
type Trigger struct {
	monsters Monsters
	engine   Engine
	router   event.Publisher
	messages locale.Source
	logger   *zap.Logger
}

// NewTrigger creates a Trigger.
//
// Precondition: all collaborators must be non-nil.
func NewTrigger(monsters Monsters, engine Engine, router event.Publisher, messages locale.Source, logger *zap.Logger) *Trigger {
	return &Trigger{
		monsters: monsters,
		engine:   engine,
		router:   router,
		messages: messages,
		logger:   logger,
	}
}

// OnArrival opens an encounter for every aggressive, living monster in the
// arrival room that is not already fighting, and announces each with a
// monster_aggro event to the whole room. roomID is the room the session
// just entered, as observed by the caller under the registry lock.
//
// Postcondition: Every started encounter is waiting for the player's first
// action. Failures to start one monster's encounter never block the rest.
func (t *Trigger) OnArrival(sess *session.Session, roomID string) {
	for _, inst := range t.monsters.InstancesAt(roomID) {
		if !inst.Aggressive || inst.IsDead() || t.engine.IsMonsterInCombat(inst.ID) {
			continue
		}

		enc, err := t.engine.Start(sess, roomID, inst.ID)
		if err != nil {
			// Lost the race to another arrival; nothing to announce.
			if errors.Is(err, combat.ErrAlreadyInCombat) {
				continue
			}
			t.logger.Warn("aggro failed to start combat",
				zap.String("session_id", sess.ID),
				zap.String("monster_id", inst.ID),
				zap.Error(err),
			)
			continue
		}

		status, err := t.engine.StatusOf(enc.ID)
		if err != nil {
			// The encounter can legally end during Start (e.g. scripted
			// instant resolution); announce without a snapshot.
			status = nil
		}

		aggroEvent := event.MonsterAggro{
			To:            event.Room(roomID),
			MonsterID:     inst.ID,
			MonsterName:   inst.Name,
			Message:       t.messages.Message(sess.Locale, "aggro.notice", inst.Name, sess.CharName),
			CombatStarted: true,
			CombatInfo:    status,
		}
		if err := t.router.Publish(aggroEvent); err != nil {
			t.logger.Error("publishing monster_aggro",
				zap.String("monster_id", inst.ID),
				zap.Error(err),
			)
		}
	}
}
