package combat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/emberwake/mud/internal/game/dice"
	"github.com/emberwake/mud/internal/game/event"
	"github.com/emberwake/mud/internal/game/locale"
	"github.com/emberwake/mud/internal/game/monster"
	"github.com/emberwake/mud/internal/game/session"
)

const testRoom = "emberhollow:square"

// fixedSource cycles through the configured values.
type fixedSource struct {
	values []int
	idx    int
}

func (f *fixedSource) Intn(n int) int {
	v := f.values[f.idx%len(f.values)]
	f.idx++
	return v % n
}

type fixture struct {
	reg      *session.Registry
	monsters *monster.Manager
	engine   *Engine
	sess     *session.Session
	inst     *monster.Instance
}

type deathRecorder struct {
	died []string
}

func (d *deathRecorder) MonsterDied(inst *monster.Instance) {
	d.died = append(d.died, inst.ID)
}

func defaultTunables() Tunables {
	return Tunables{
		TurnTimeout:           time.Minute,
		DefaultAction:         ActionAttack,
		FleeChance:            0.5,
		PlayerDamage:          "1d6+2",
		MonsterFallbackDamage: "1d4",
	}
}

func newFixture(t *testing.T, src dice.Source, cfg Tunables, opts ...EngineOption) *fixture {
	t.Helper()

	reg := session.NewRegistry(256)
	sess, err := reg.Register("s1", 1, "Kira", testRoom, "en", 20, 20, 0)
	require.NoError(t, err)

	monsters := monster.NewManager()
	inst, err := monsters.Spawn(&monster.Template{
		ID: "ash_wolf", Name: "ash wolf", MaxHP: 10, Initiative: 0, Aggressive: true,
	}, testRoom)
	require.NoError(t, err)

	router := event.NewRouter(reg, zap.NewNop())
	roller := dice.NewLoggedRoller(src, zap.NewNop())
	engine := NewEngine(router, monsters, roller, locale.Default(), cfg, zap.NewNop(), opts...)

	return &fixture{reg: reg, monsters: monsters, engine: engine, sess: sess, inst: inst}
}

func drainEvents(t *testing.T, sess *session.Session) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data := <-sess.Conn.Events():
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func kinds(events []map[string]any) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e["kind"].(string)
	}
	return out
}

func TestStartOpensEncounterAtTurnOne(t *testing.T) {
	// Player initiative die 10, monster 5: player acts first.
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	assert.Equal(t, StateWaiting, enc.State)
	assert.Equal(t, 1, enc.Turn)
	assert.Equal(t, 1, f.engine.EncounterCount())

	got := drainEvents(t, f.sess)
	require.Len(t, got, 2)
	assert.Equal(t, "combat_start", got[0]["kind"])
	assert.Equal(t, "turn_start", got[1]["kind"])
	assert.Equal(t, float64(1), got[1]["current_turn"])
	assert.Equal(t, true, got[1]["is_player_turn"])

	status := got[0]["combat_status"].(map[string]any)
	assert.Equal(t, "starting", status["state"])
	assert.Equal(t, float64(1), status["turn_number"])
	assert.Equal(t, true, status["is_ongoing"])
}

func TestStartDuplicatePair(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	_, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	_, err = f.engine.Start(f.sess, testRoom, f.inst.ID)
	assert.ErrorIs(t, err, ErrAlreadyInCombat)

	// A different monster opens an independent encounter.
	other, err := f.monsters.Spawn(&monster.Template{ID: "ember_bat", Name: "ember bat", MaxHP: 5}, testRoom)
	require.NoError(t, err)
	_, err = f.engine.Start(f.sess, testRoom, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.EncounterCount())
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	_, err := f.engine.Start(f.sess, testRoom, "no-such-id")
	assert.ErrorIs(t, err, ErrMonsterNotFound)

	f.inst.CurrentHP = 0
	_, err = f.engine.Start(f.sess, testRoom, f.inst.ID)
	assert.ErrorIs(t, err, ErrMonsterDead)

	f.inst.CurrentHP = f.inst.MaxHP
	require.NoError(t, f.monsters.Remove(f.inst.ID))
	inst2, err := f.monsters.Spawn(&monster.Template{ID: "ash_wolf", Name: "ash wolf", MaxHP: 10}, "emberhollow:gate")
	require.NoError(t, err)
	_, err = f.engine.Start(f.sess, testRoom, inst2.ID)
	assert.ErrorIs(t, err, ErrMonsterNotFound)
}

func TestAttackResolvesAndAdvancesTurn(t *testing.T) {
	// Initiative: player 10, monster 5. Player attack die 3 → 4+2=6 damage.
	// Monster attack die 1 → 2 damage.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 3, 1}}, defaultTunables())

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	drainEvents(t, f.sess)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionAttack))

	got := drainEvents(t, f.sess)
	require.Equal(t, []string{"action_result", "action_result", "combat_status", "turn_start"}, kinds(got))

	// Player hit for 6.
	assert.Equal(t, "Kira", got[0]["actor"])
	assert.Equal(t, float64(6), got[0]["damage"])
	// Monster hit back for 2.
	assert.Equal(t, "ash wolf", got[1]["actor"])
	assert.Equal(t, float64(2), got[1]["damage"])

	// Each action_result carries the snapshot as of that action resolving.
	afterPlayerHit := got[0]["combat_status"].(map[string]any)
	assert.Equal(t, float64(4), afterPlayerHit["monster"].(map[string]any)["hp"])
	assert.Equal(t, float64(20), afterPlayerHit["player"].(map[string]any)["hp"])

	status := got[2]["combat_status"].(map[string]any)
	assert.Equal(t, float64(1), status["turn_number"])
	assert.Equal(t, float64(4), status["monster"].(map[string]any)["hp"])
	assert.Equal(t, float64(18), status["player"].(map[string]any)["hp"])

	assert.Equal(t, float64(2), got[3]["current_turn"])
	assert.Equal(t, 2, enc.Turn)
	assert.Equal(t, StateWaiting, enc.State)
}

func TestSnapshotFieldNameOnWire(t *testing.T) {
	// Every envelope embedding a snapshot names the field combat_status.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 3, 1}}, defaultTunables())

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionAttack))

	got := drainEvents(t, f.sess)
	for _, m := range got {
		switch m["kind"] {
		case "combat_start", "combat_status", "action_result":
			require.Contains(t, m, "combat_status", "kind %s", m["kind"])
			assert.NotContains(t, m, "status")
		}
	}
}

func TestTurnStartBroadcastToRoom(t *testing.T) {
	// A spectator in the same room sees turn boundaries too; is_player_turn
	// tells them whose turn it is.
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())
	spectator, err := f.reg.Register("s2", 2, "Brom", testRoom, "en", 15, 15, 0)
	require.NoError(t, err)

	_, err = f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	got := drainEvents(t, spectator)
	require.Equal(t, []string{"combat_start", "turn_start"}, kinds(got))
	assert.Equal(t, true, got[1]["is_player_turn"])
}

func TestTurnNumbersStrictlyIncrease(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5, 1, 1}}, Tunables{
		TurnTimeout:           time.Minute,
		DefaultAction:         ActionAttack,
		FleeChance:            0.5,
		PlayerDamage:          "1d2",
		MonsterFallbackDamage: "1d2",
	})
	f.inst.CurrentHP = 100
	f.inst.MaxHP = 100
	f.sess.CurrentHP = 100
	f.sess.MaxHP = 100

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	last := 0
	for i := 0; i < 5; i++ {
		status, err := f.engine.StatusOf(enc.ID)
		require.NoError(t, err)
		assert.Greater(t, status.TurnNumber, last)
		assert.Equal(t, last+1, status.TurnNumber)
		last = status.TurnNumber
		require.NoError(t, f.engine.SubmitAction(enc.ID, ActionDefend))
	}
}

func TestKillEmitsActionResultThenCombatEnd(t *testing.T) {
	// Player damage 6 per swing vs 10 HP: kill on turn 2.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 3, 1}}, defaultTunables())
	deaths := &deathRecorder{}
	WithDeathSink(deaths)(f.engine)

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionAttack))
	drainEvents(t, f.sess)
	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionAttack))

	got := drainEvents(t, f.sess)
	// Kill resolves before the monster acts: one action_result, then the
	// final snapshot and combat_end.
	require.Equal(t, []string{"action_result", "combat_status", "combat_end"}, kinds(got))
	assert.Equal(t, "Kira", got[2]["victor"])
	assert.Equal(t, "death", got[2]["reason"])

	status := got[1]["combat_status"].(map[string]any)
	assert.Equal(t, false, status["is_ongoing"])
	assert.Equal(t, float64(0), status["monster"].(map[string]any)["hp"])

	// Encounter is released: a late submit reports not-found.
	err = f.engine.SubmitAction(enc.ID, ActionAttack)
	assert.ErrorIs(t, err, ErrEncounterNotFound)
	assert.Equal(t, 0, f.engine.EncounterCount())

	// Death reached the sink and the instance.
	assert.Equal(t, []string{f.inst.ID}, deaths.died)
	assert.True(t, f.inst.IsDead())
}

func TestDamageClampsAtZero(t *testing.T) {
	// Player swings for 6 against a 3 HP monster: HP must clamp to 0.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 3}}, defaultTunables())
	f.inst.CurrentHP = 3
	f.inst.MaxHP = 3

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionAttack))

	got := drainEvents(t, f.sess)
	var final map[string]any
	for _, m := range got {
		if m["kind"] == "combat_status" {
			final = m
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, float64(0), final["combat_status"].(map[string]any)["monster"].(map[string]any)["hp"])
}

func TestDefendHalvesIncomingDamage(t *testing.T) {
	// Monster die 3 → 4 damage, halved to 2 by defend.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 3}}, defaultTunables())

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	drainEvents(t, f.sess)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionDefend))

	got := drainEvents(t, f.sess)
	var monsterHit map[string]any
	for _, m := range got {
		if m["kind"] == "action_result" && m["actor"] == "ash wolf" {
			monsterHit = m
		}
	}
	require.NotNil(t, monsterHit)
	assert.Equal(t, float64(2), monsterHit["damage"])
	assert.Equal(t, 18, enc.Player.HP)
}

func TestFleeSuccessEndsEncounter(t *testing.T) {
	// Flee roll 10 < 50: success. No one is a victor.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 10}}, defaultTunables())

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	drainEvents(t, f.sess)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionFlee))

	got := drainEvents(t, f.sess)
	require.Equal(t, []string{"action_result", "combat_status", "combat_end"}, kinds(got))
	assert.Equal(t, true, got[0]["success"])
	assert.Equal(t, "fled", got[2]["reason"])
	assert.NotContains(t, got[2], "victor")
	assert.Equal(t, 0, f.engine.EncounterCount())
}

func TestFleeFailureLetsMonsterAct(t *testing.T) {
	// Flee roll 80 >= 50: failure; monster (die 1 → 2 damage) still acts.
	f := newFixture(t, &fixedSource{values: []int{10, 5, 80, 1}}, defaultTunables())

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	drainEvents(t, f.sess)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionFlee))

	got := drainEvents(t, f.sess)
	require.Equal(t, []string{"action_result", "action_result", "combat_status", "turn_start"}, kinds(got))
	assert.Equal(t, false, got[0]["success"])
	assert.Equal(t, 18, enc.Player.HP)
	assert.Equal(t, 1, f.engine.EncounterCount())
}

func TestMonsterActsFirstOnHigherInitiative(t *testing.T) {
	// Player die 2, monster die 15: monster acts first and can kill the
	// player before the player's action resolves.
	f := newFixture(t, &fixedSource{values: []int{2, 15, 3}}, defaultTunables())
	f.sess.CurrentHP = 2

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	drainEvents(t, f.sess)

	require.NoError(t, f.engine.SubmitAction(enc.ID, ActionAttack))

	got := drainEvents(t, f.sess)
	require.Equal(t, []string{"action_result", "combat_status", "combat_end"}, kinds(got))
	assert.Equal(t, "ash wolf", got[0]["actor"])
	assert.Equal(t, "ash wolf", got[2]["victor"])
	assert.Equal(t, 0, f.sess.CurrentHP)
}

func TestSubmitActionErrors(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	err := f.engine.SubmitAction("no-such-encounter", ActionAttack)
	assert.ErrorIs(t, err, ErrEncounterNotFound)

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	err = f.engine.SubmitAction(enc.ID, Action("dance"))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestTimeoutSubstitutesDefaultAction(t *testing.T) {
	cfg := defaultTunables()
	cfg.TurnTimeout = 20 * time.Millisecond
	cfg.PlayerDamage = "1d2"
	cfg.MonsterFallbackDamage = "1d2"
	f := newFixture(t, &fixedSource{values: []int{10, 5, 1, 1}}, cfg)
	f.inst.CurrentHP = 100
	f.inst.MaxHP = 100
	f.sess.CurrentHP = 100
	f.sess.MaxHP = 100

	enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := f.engine.StatusOf(enc.ID)
		return err == nil && status.TurnNumber >= 2
	}, 2*time.Second, 10*time.Millisecond)

	got := drainEvents(t, f.sess)
	var sawTimeoutMessage bool
	for _, m := range got {
		if m["kind"] == "combat_message" {
			sawTimeoutMessage = true
		}
	}
	assert.True(t, sawTimeoutMessage)
	f.engine.Shutdown()
}

func TestForceEnd(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	_, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	drainEvents(t, f.sess)

	f.engine.ForceEnd(f.sess.ID, "disconnect")

	got := drainEvents(t, f.sess)
	require.Equal(t, []string{"combat_status", "combat_end"}, kinds(got))
	assert.Equal(t, "disconnect", got[1]["reason"])
	assert.Equal(t, 0, f.engine.EncounterCount())
	assert.False(t, f.engine.IsMonsterInCombat(f.inst.ID))

	// Idempotent for a session with nothing live.
	f.engine.ForceEnd(f.sess.ID, "disconnect")
}

func TestOldestWaiting(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	_, ok := f.engine.OldestWaiting(f.sess.ID)
	assert.False(t, ok)

	first, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)

	other, err := f.monsters.Spawn(&monster.Template{ID: "ember_bat", Name: "ember bat", MaxHP: 5}, testRoom)
	require.NoError(t, err)
	_, err = f.engine.Start(f.sess, testRoom, other.ID)
	require.NoError(t, err)

	encID, ok := f.engine.OldestWaiting(f.sess.ID)
	require.True(t, ok)
	assert.Equal(t, first.ID, encID)
}

func TestIsMonsterInCombat(t *testing.T) {
	f := newFixture(t, &fixedSource{values: []int{10, 5}}, defaultTunables())

	assert.False(t, f.engine.IsMonsterInCombat(f.inst.ID))
	_, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
	require.NoError(t, err)
	assert.True(t, f.engine.IsMonsterInCombat(f.inst.ID))
}

// HP stays within [0, max] and turns strictly increase under arbitrary
// action sequences.
func TestResolutionInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := &fixedSource{values: rapid.SliceOfN(rapid.IntRange(0, 99), 4, 32).Draw(t, "rolls")}
		f := newFixtureForRapid(t, src)

		enc, err := f.engine.Start(f.sess, testRoom, f.inst.ID)
		if err != nil {
			t.Fatalf("start: %v", err)
		}

		actions := []Action{ActionAttack, ActionDefend, ActionFlee}
		lastTurn := 0
		steps := rapid.IntRange(1, 12).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			status, err := f.engine.StatusOf(enc.ID)
			if err != nil {
				break // encounter ended and was released
			}
			if status.TurnNumber <= lastTurn {
				t.Fatalf("turn did not increase: %d -> %d", lastTurn, status.TurnNumber)
			}
			lastTurn = status.TurnNumber

			checkHP(t, status.Player.HP, status.Player.MaxHP)
			checkHP(t, status.Monster.HP, status.Monster.MaxHP)

			action := rapid.SampledFrom(actions).Draw(t, "action")
			if err := f.engine.SubmitAction(enc.ID, action); err != nil {
				break
			}
		}
		f.engine.Shutdown()
	})
}

func newFixtureForRapid(t *rapid.T, src dice.Source) *fixture {
	reg := session.NewRegistry(1024)
	sess, err := reg.Register("s1", 1, "Kira", testRoom, "en", 20, 20, 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	monsters := monster.NewManager()
	inst, err := monsters.Spawn(&monster.Template{ID: "ash_wolf", Name: "ash wolf", MaxHP: 10}, testRoom)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	router := event.NewRouter(reg, zap.NewNop())
	roller := dice.NewLoggedRoller(src, zap.NewNop())
	engine := NewEngine(router, monsters, roller, locale.Default(), defaultTunables(), zap.NewNop())

	return &fixture{reg: reg, monsters: monsters, engine: engine, sess: sess, inst: inst}
}

func checkHP(t *rapid.T, hp, max int) {
	if hp < 0 || hp > max {
		t.Fatalf("hp %d outside [0, %d]", hp, max)
	}
}
