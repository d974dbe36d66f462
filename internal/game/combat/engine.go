package combat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/game/dice"
	"github.com/emberwake/mud/internal/game/event"
	"github.com/emberwake/mud/internal/game/locale"
	"github.com/emberwake/mud/internal/game/monster"
	"github.com/emberwake/mud/internal/game/session"
)

var (
	// ErrAlreadyInCombat is returned when the (session, monster) pair
	// already has a live encounter.
	ErrAlreadyInCombat = errors.New("combat: already fighting that monster")
	// ErrEncounterNotFound is returned for an unknown or released encounter ID.
	ErrEncounterNotFound = errors.New("combat: encounter not found")
	// ErrNotWaiting is returned when an action arrives outside the
	// waiting-for-action phase.
	ErrNotWaiting = errors.New("combat: encounter is not waiting for an action")
	// ErrMonsterNotFound is returned when the target monster does not exist
	// or is not in the player's room.
	ErrMonsterNotFound = errors.New("combat: no such monster here")
	// ErrMonsterDead is returned when the target monster is already dead.
	ErrMonsterDead = errors.New("combat: monster is already dead")
	// ErrNotInCombat is returned when a session has no encounter awaiting
	// an action.
	ErrNotInCombat = errors.New("combat: not in combat")
)

// initiativeDie is rolled once per fighter at encounter start; the fighter's
// modifier is added to the result.
var initiativeDie = dice.MustParse("1d20")

// MonsterSource resolves live monster instances. *monster.Manager satisfies it.
type MonsterSource interface {
	Get(id string) (*monster.Instance, bool)
}

// DeathSink is notified when combat kills a monster, so the world can
// remove the corpse and schedule a respawn. Called under the engine lock;
// implementations must not call back into the Engine.
type DeathSink interface {
	MonsterDied(inst *monster.Instance)
}

// Hook observes encounter lifecycle transitions. A non-empty return value
// is broadcast to the room as extra narrative. Called under the engine
// lock; implementations must not call back into the Engine.
type Hook interface {
	CombatStarted(roomID, monsterName string) string
	CombatEnded(roomID, victor string) string
}

// Tunables are the configuration knobs of the engine.
type Tunables struct {
	// TurnTimeout is the per-turn action deadline.
	TurnTimeout time.Duration
	// DefaultAction is substituted when the deadline expires.
	DefaultAction Action
	// FleeChance is the probability in [0,1] that a flee succeeds.
	FleeChance float64
	// PlayerDamage is the dice expression for player attacks.
	PlayerDamage string
	// MonsterFallbackDamage is used for monsters without a template expression.
	MonsterFallbackDamage string
}

// Engine owns all live encounters and drives their state machines.
// One mutex serializes every transition, so per-encounter event publish
// order equals delivery order.
type Engine struct {
	mu         sync.Mutex
	encounters map[string]*Encounter          // encounterID → encounter
	bySession  map[string]map[string]string   // sessionID → monsterID → encounterID
	byMonster  map[string]string              // monsterID → encounterID
	router     event.Publisher
	monsters   MonsterSource
	roller     *dice.Roller
	messages   locale.Source
	cfg        Tunables
	logger     *zap.Logger
	hook       Hook
	deaths     DeathSink
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithHook attaches a lifecycle hook (zone scripts).
func WithHook(h Hook) EngineOption {
	return func(g *Engine) { g.hook = h }
}

// WithDeathSink attaches a monster death listener.
func WithDeathSink(d DeathSink) EngineOption {
	return func(g *Engine) { g.deaths = d }
}

// NewEngine creates an Engine.
//
// Precondition: router, monsters, roller, messages, and logger must be
// non-nil; cfg.TurnTimeout > 0.
func NewEngine(router event.Publisher, monsters MonsterSource, roller *dice.Roller, messages locale.Source, cfg Tunables, logger *zap.Logger, opts ...EngineOption) *Engine {
	g := &Engine{
		encounters: make(map[string]*Encounter),
		bySession:  make(map[string]map[string]string),
		byMonster:  make(map[string]string),
		router:     router,
		monsters:   monsters,
		roller:     roller,
		messages:   messages,
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start opens an encounter between sess and the monster instance. roomID is
// the session's current room as observed by the caller under the registry
// lock; the engine never reads sess.RoomID itself.
//
// Postcondition: On success the encounter is in StateWaiting at turn 1 with
// the turn timer armed, and combat_start plus turn_start have been
// published. Returns ErrAlreadyInCombat for a duplicate (session, monster)
// pair, ErrMonsterNotFound, or ErrMonsterDead.
func (g *Engine) Start(sess *session.Session, roomID, monsterID string) (*Encounter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.bySession[sess.ID][monsterID]; ok {
		return nil, fmt.Errorf("session %s vs monster %s: %w", sess.ID, monsterID, ErrAlreadyInCombat)
	}

	inst, ok := g.monsters.Get(monsterID)
	if !ok {
		return nil, fmt.Errorf("monster %q: %w", monsterID, ErrMonsterNotFound)
	}
	if inst.IsDead() {
		return nil, fmt.Errorf("monster %q: %w", monsterID, ErrMonsterDead)
	}
	if inst.RoomID != roomID {
		return nil, fmt.Errorf("monster %q is in %q, not %q: %w", monsterID, inst.RoomID, roomID, ErrMonsterNotFound)
	}

	monsterDamage := inst.Damage
	if monsterDamage == "" {
		monsterDamage = g.cfg.MonsterFallbackDamage
	}

	enc := &Encounter{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SessionID: sess.ID,
		MonsterID: monsterID,
		Locale:    sess.Locale,
		Player: Fighter{
			ID:         sess.ID,
			Name:       sess.CharName,
			HP:         clampHP(sess.CurrentHP, sess.MaxHP),
			MaxHP:      sess.MaxHP,
			Initiative: g.roller.Roll(initiativeDie).Total() + sess.Initiative,
			Damage:     g.cfg.PlayerDamage,
		},
		Monster: Fighter{
			ID:         inst.ID,
			Name:       inst.Name,
			HP:         clampHP(inst.CurrentHP, inst.MaxHP),
			MaxHP:      inst.MaxHP,
			Initiative: g.roller.Roll(initiativeDie).Total() + inst.Initiative,
			Damage:     monsterDamage,
		},
		State:     StateStarting,
		Turn:      1,
		CreatedAt: time.Now(),
		sess:      sess,
	}

	g.encounters[enc.ID] = enc
	if g.bySession[sess.ID] == nil {
		g.bySession[sess.ID] = make(map[string]string)
	}
	g.bySession[sess.ID][monsterID] = enc.ID
	g.byMonster[monsterID] = enc.ID

	g.logger.Info("combat started",
		zap.String("encounter_id", enc.ID),
		zap.String("session_id", sess.ID),
		zap.String("monster_id", monsterID),
		zap.String("room_id", enc.RoomID),
	)

	g.publish(event.CombatStart{
		To:      event.Room(enc.RoomID),
		Message: g.messages.Message(enc.Locale, "combat.start", enc.Monster.Name),
		Status:  enc.status(g.cfg.TurnTimeout),
	})

	enc.State = StateWaiting
	g.openTurnLocked(enc)

	if g.hook != nil {
		if extra := g.hook.CombatStarted(enc.RoomID, enc.Monster.Name); extra != "" {
			g.publish(event.CombatMessage{To: event.Room(enc.RoomID), Message: extra})
		}
	}

	return enc, nil
}

// SubmitAction applies the player's action to an encounter.
//
// Postcondition: The turn resolves synchronously; on return the encounter
// is either waiting for the next turn's action or released. Returns
// ErrEncounterNotFound, ErrNotWaiting, or ErrInvalidAction.
func (g *Engine) SubmitAction(encounterID string, action Action) error {
	switch action {
	case ActionAttack, ActionDefend, ActionFlee:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	enc, ok := g.encounters[encounterID]
	if !ok {
		return fmt.Errorf("encounter %q: %w", encounterID, ErrEncounterNotFound)
	}
	if enc.State != StateWaiting {
		return fmt.Errorf("encounter %q in state %q: %w", encounterID, enc.State, ErrNotWaiting)
	}

	enc.timer.Stop()
	enc.pending = &action
	enc.State = StateResolving
	g.resolveTurnLocked(enc)
	return nil
}

// ForceEnd terminates every encounter of the session, for disconnects.
//
// Postcondition: All of the session's encounters emit combat_end and are
// released; timers are cancelled. A session with no encounters is a no-op.
func (g *Engine) ForceEnd(sessionID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for _, encID := range g.bySession[sessionID] {
		ids = append(ids, encID)
	}
	for _, encID := range ids {
		enc, ok := g.encounters[encID]
		if !ok {
			continue
		}
		msg := g.messages.Message(enc.Locale, "combat.end_forced", enc.Player.Name, enc.Monster.Name)
		g.endLocked(enc, "", reason, msg)
	}
}

// StatusOf returns a wire snapshot of the encounter.
//
// Postcondition: Returns the snapshot or ErrEncounterNotFound.
func (g *Engine) StatusOf(encounterID string) (*event.CombatStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	enc, ok := g.encounters[encounterID]
	if !ok {
		return nil, fmt.Errorf("encounter %q: %w", encounterID, ErrEncounterNotFound)
	}
	return enc.status(g.cfg.TurnTimeout), nil
}

// IsMonsterInCombat reports whether the monster instance is in any encounter.
func (g *Engine) IsMonsterInCombat(monsterID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byMonster[monsterID]
	return ok
}

// OldestWaiting returns the session's oldest encounter awaiting an action.
//
// Postcondition: Returns (encounterID, true), or ("", false) when no
// encounter of the session is in StateWaiting.
func (g *Engine) OldestWaiting(sessionID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var oldest *Encounter
	for _, encID := range g.bySession[sessionID] {
		enc, ok := g.encounters[encID]
		if !ok || enc.State != StateWaiting {
			continue
		}
		if oldest == nil || enc.CreatedAt.Before(oldest.CreatedAt) {
			oldest = enc
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.ID, true
}

// WaitingEncounters returns the IDs of every encounter of the session that
// is awaiting an action, oldest first.
func (g *Engine) WaitingEncounters(sessionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var waiting []*Encounter
	for _, encID := range g.bySession[sessionID] {
		enc, ok := g.encounters[encID]
		if !ok || enc.State != StateWaiting {
			continue
		}
		waiting = append(waiting, enc)
	}
	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})

	ids := make([]string, len(waiting))
	for i, enc := range waiting {
		ids[i] = enc.ID
	}
	return ids
}

// EncounterCount returns the number of live encounters.
func (g *Engine) EncounterCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.encounters)
}

// Shutdown cancels every encounter timer without emitting events.
// Called during process shutdown only.
func (g *Engine) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, enc := range g.encounters {
		if enc.timer != nil {
			enc.timer.Stop()
		}
	}
}

// openTurnLocked announces the turn to the player and arms the deadline
// timer. The timer callback carries the turn number so a stale fire for an
// already-resolved turn is ignored.
func (g *Engine) openTurnLocked(enc *Encounter) {
	g.publish(event.TurnStart{
		To:           event.Room(enc.RoomID),
		Message:      g.messages.Message(enc.Locale, "combat.turn", enc.Turn, enc.Player.Name),
		CurrentTurn:  enc.Turn,
		IsPlayerTurn: true,
		Deadline:     g.cfg.TurnTimeout.Seconds(),
	})

	encID, turn := enc.ID, enc.Turn
	fire := func() { g.onDeadline(encID, turn) }
	if enc.timer == nil {
		enc.timer = NewTurnTimer(g.cfg.TurnTimeout, fire)
	} else {
		enc.timer.Reset(g.cfg.TurnTimeout, fire)
	}
}

// onDeadline substitutes the default action when the player misses the
// turn deadline.
func (g *Engine) onDeadline(encounterID string, turn int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	enc, ok := g.encounters[encounterID]
	if !ok || enc.State != StateWaiting || enc.Turn != turn {
		return
	}

	g.logger.Debug("turn deadline expired",
		zap.String("encounter_id", encounterID),
		zap.Int("turn", turn),
		zap.String("default_action", string(g.cfg.DefaultAction)),
	)

	g.publish(event.CombatMessage{
		To:      event.Room(enc.RoomID),
		Message: g.messages.Message(enc.Locale, "combat.timeout", enc.Player.Name),
	})

	action := g.cfg.DefaultAction
	enc.pending = &action
	enc.State = StateResolving
	g.resolveTurnLocked(enc)
}

// resolveTurnLocked applies both fighters' actions in initiative order
// (tie goes to the player), then either releases the encounter or opens
// the next turn.
func (g *Engine) resolveTurnLocked(enc *Encounter) {
	action := *enc.pending
	var summary []string

	playerFirst := enc.Player.Initiative >= enc.Monster.Initiative
	order := []bool{playerFirst, !playerFirst}
	for _, isPlayer := range order {
		if enc.State == StateEnded {
			break
		}
		if isPlayer {
			summary = append(summary, g.playerActLocked(enc, action))
			if enc.State != StateEnded && enc.Monster.HP == 0 {
				msg := g.messages.Message(enc.Locale, "combat.victory", enc.Monster.Name, enc.Player.Name)
				g.endLocked(enc, enc.Player.Name, "death", msg)
			}
		} else {
			summary = append(summary, g.monsterActLocked(enc))
			if enc.Player.HP == 0 {
				msg := g.messages.Message(enc.Locale, "combat.defeat", enc.Player.Name, enc.Monster.Name)
				g.endLocked(enc, enc.Monster.Name, "death", msg)
			}
		}
	}

	if enc.State == StateEnded {
		return
	}

	enc.LastTurn = strings.Join(summary, " ")
	g.publish(event.StatusUpdate{
		To:     event.Room(enc.RoomID),
		Status: enc.status(g.cfg.TurnTimeout),
	})

	enc.Turn++
	enc.pending = nil
	enc.defending = false
	enc.State = StateWaiting
	g.openTurnLocked(enc)
}

// playerActLocked applies the player's action and returns its summary text.
func (g *Engine) playerActLocked(enc *Encounter, action Action) string {
	switch action {
	case ActionAttack:
		dmg := g.rollDamage(enc.Player.Damage)
		enc.Monster.HP = clampHP(enc.Monster.HP-dmg, enc.Monster.MaxHP)
		msg := g.messages.Message(enc.Locale, "combat.attack_hit", enc.Player.Name, enc.Monster.Name, dmg)
		g.publish(event.ActionResult{
			To:      event.Room(enc.RoomID),
			Actor:   enc.Player.Name,
			Action:  string(ActionAttack),
			Message: msg,
			Damage:  dmg,
			Success: true,
			Status:  enc.status(g.cfg.TurnTimeout),
		})
		return msg

	case ActionDefend:
		enc.defending = true
		msg := g.messages.Message(enc.Locale, "combat.defend", enc.Player.Name)
		g.publish(event.ActionResult{
			To:      event.Room(enc.RoomID),
			Actor:   enc.Player.Name,
			Action:  string(ActionDefend),
			Message: msg,
			Success: true,
			Status:  enc.status(g.cfg.TurnTimeout),
		})
		return msg

	case ActionFlee:
		success := float64(g.roller.Source().Intn(100)) < g.cfg.FleeChance*100
		if success {
			msg := g.messages.Message(enc.Locale, "combat.flee_success", enc.Player.Name)
			g.publish(event.ActionResult{
				To:      event.Room(enc.RoomID),
				Actor:   enc.Player.Name,
				Action:  string(ActionFlee),
				Message: msg,
				Success: true,
				Status:  enc.status(g.cfg.TurnTimeout),
			})
			g.endLocked(enc, "", "fled", g.messages.Message(enc.Locale, "combat.end_fled"))
			return msg
		}
		msg := g.messages.Message(enc.Locale, "combat.flee_failure", enc.Player.Name, enc.Monster.Name)
		g.publish(event.ActionResult{
			To:      event.Room(enc.RoomID),
			Actor:   enc.Player.Name,
			Action:  string(ActionFlee),
			Message: msg,
			Success: false,
			Status:  enc.status(g.cfg.TurnTimeout),
		})
		return msg
	}
	return ""
}

// monsterActLocked applies the monster's attack and returns its summary text.
func (g *Engine) monsterActLocked(enc *Encounter) string {
	dmg := g.rollDamage(enc.Monster.Damage)
	if enc.defending {
		dmg /= 2
	}
	enc.Player.HP = clampHP(enc.Player.HP-dmg, enc.Player.MaxHP)
	msg := g.messages.Message(enc.Locale, "combat.attack_hit", enc.Monster.Name, enc.Player.Name, dmg)
	g.publish(event.ActionResult{
		To:      event.Room(enc.RoomID),
		Actor:   enc.Monster.Name,
		Action:  string(ActionAttack),
		Message: msg,
		Damage:  dmg,
		Success: true,
		Status:  enc.status(g.cfg.TurnTimeout),
	})
	return msg
}

// endLocked transitions the encounter to StateEnded, publishes the final
// snapshot and combat_end, writes combat results back to the world, and
// releases the encounter.
func (g *Engine) endLocked(enc *Encounter, victor, reason, msg string) {
	enc.State = StateEnded
	if enc.timer != nil {
		enc.timer.Stop()
	}

	g.publish(event.StatusUpdate{
		To:     event.Room(enc.RoomID),
		Status: enc.status(g.cfg.TurnTimeout),
	})
	g.publish(event.CombatEnd{
		To:      event.Room(enc.RoomID),
		Message: msg,
		Victor:  victor,
		Reason:  reason,
	})

	// Write results back to the session and the monster instance. Session
	// HP is owned by the engine for the duration of the encounter.
	enc.sess.CurrentHP = enc.Player.HP
	if inst, ok := g.monsters.Get(enc.MonsterID); ok {
		inst.CurrentHP = enc.Monster.HP
		if inst.IsDead() && g.deaths != nil {
			g.deaths.MonsterDied(inst)
		}
	}

	if g.hook != nil {
		if extra := g.hook.CombatEnded(enc.RoomID, victor); extra != "" {
			g.publish(event.CombatMessage{To: event.Room(enc.RoomID), Message: extra})
		}
	}

	delete(g.encounters, enc.ID)
	delete(g.byMonster, enc.MonsterID)
	if sessEncs, ok := g.bySession[enc.SessionID]; ok {
		delete(sessEncs, enc.MonsterID)
		if len(sessEncs) == 0 {
			delete(g.bySession, enc.SessionID)
		}
	}

	g.logger.Info("combat ended",
		zap.String("encounter_id", enc.ID),
		zap.String("session_id", enc.SessionID),
		zap.String("monster_id", enc.MonsterID),
		zap.String("victor", victor),
		zap.String("reason", reason),
		zap.Int("turns", enc.Turn),
	)
}

// rollDamage evaluates a damage expression, returning 0 for an
// unparseable one rather than aborting the turn.
func (g *Engine) rollDamage(expr string) int {
	result, err := g.roller.RollExpr(expr)
	if err != nil {
		g.logger.Error("damage roll failed", zap.String("expression", expr), zap.Error(err))
		return 0
	}
	dmg := result.Total()
	if dmg < 0 {
		dmg = 0
	}
	return dmg
}

// publish sends an event through the router, logging delivery refusals.
func (g *Engine) publish(e event.Event) {
	if err := g.router.Publish(e); err != nil {
		g.logger.Error("publishing combat event",
			zap.String("kind", string(e.EventKind())),
			zap.Error(err),
		)
	}
}
