package gameserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/game/monster"
	"github.com/emberwake/mud/internal/game/world"
	"github.com/emberwake/mud/internal/scripting"
)

// RespawnSink removes slain monsters and schedules their respawn. It
// implements combat.DeathSink.
//
// The engine invokes it while holding its own lock; RespawnSink must never
// call back into the engine.
type RespawnSink struct {
	monsters *monster.Manager
	respawns *monster.RespawnScheduler
	logger   *zap.Logger
}

// NewRespawnSink creates a RespawnSink.
//
// Precondition: all arguments must be non-nil.
func NewRespawnSink(monsters *monster.Manager, respawns *monster.RespawnScheduler, logger *zap.Logger) *RespawnSink {
	return &RespawnSink{monsters: monsters, respawns: respawns, logger: logger}
}

// MonsterDied removes the dead instance from its room and queues a respawn
// after the resolved delay, if the template respawns at all.
func (r *RespawnSink) MonsterDied(inst *monster.Instance) {
	_ = r.monsters.Remove(inst.ID)

	delay := r.respawns.ResolvedDelay(inst.TemplateID, inst.RoomID)
	r.respawns.Schedule(inst.TemplateID, inst.RoomID, time.Now(), delay)

	r.logger.Debug("monster died",
		zap.String("instance_id", inst.ID),
		zap.String("template_id", inst.TemplateID),
		zap.String("room_id", inst.RoomID),
		zap.Duration("respawn_in", delay),
	)
}

// ScriptHook bridges the combat engine's lifecycle hooks to zone Lua
// scripts. It implements combat.Hook.
type ScriptHook struct {
	scripts *scripting.Manager
	world   *world.Manager
}

// NewScriptHook creates a ScriptHook.
//
// Precondition: both arguments must be non-nil.
func NewScriptHook(scripts *scripting.Manager, worldMgr *world.Manager) *ScriptHook {
	return &ScriptHook{scripts: scripts, world: worldMgr}
}

// CombatStarted returns the zone script's extra opening narration, or "".
func (h *ScriptHook) CombatStarted(roomID, monsterName string) string {
	zone, ok := h.world.ZoneOf(roomID)
	if !ok {
		return ""
	}
	return h.scripts.OnCombatStart(zone.ID, roomID, monsterName)
}

// CombatEnded returns the zone script's extra closing narration, or "".
func (h *ScriptHook) CombatEnded(roomID, victor string) string {
	zone, ok := h.world.ZoneOf(roomID)
	if !ok {
		return ""
	}
	return h.scripts.OnCombatEnd(zone.ID, roomID, victor)
}

// RespawnService returns a lifecycle service function that ticks the
// respawn scheduler every interval until ctx is cancelled.
func RespawnService(respawns *monster.RespawnScheduler, monsters *monster.Manager, interval time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				respawns.Tick(now, monsters)
			}
		}
	}
}

// HealthChecker reports whether a backing store is still reachable.
// *postgres.Pool satisfies it.
type HealthChecker interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// Timeout on a single reachability check.
const healthCheckTimeout = 5 * time.Second

// HealthService returns a lifecycle service function that checks db
// every interval until ctx is cancelled. Failures are logged and the
// loop keeps going; a flapping database is an operator problem, not a
// reason to take the game down.
func HealthService(db HealthChecker, interval time.Duration, logger *zap.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := db.Health(ctx, healthCheckTimeout); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		}
	}
}
