package monster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wolfTemplate() *Template {
	return &Template{
		ID:           "ash_wolf",
		Name:         "ash wolf",
		Description:  "A gaunt wolf with cinders in its fur.",
		MaxHP:        10,
		Initiative:   1,
		Damage:       "1d4",
		Aggressive:   true,
		RespawnDelay: "30s",
	}
}

func TestTemplateValidate(t *testing.T) {
	require.NoError(t, wolfTemplate().Validate())

	bad := wolfTemplate()
	bad.ID = ""
	assert.Error(t, bad.Validate())

	bad = wolfTemplate()
	bad.MaxHP = 0
	assert.Error(t, bad.Validate())

	bad = wolfTemplate()
	bad.RespawnDelay = "soon"
	assert.Error(t, bad.Validate())
}

func TestLoadTemplateFromBytes(t *testing.T) {
	tmpl, err := LoadTemplateFromBytes([]byte(`
id: ash_wolf
name: ash wolf
max_hp: 10
initiative: 1
damage: 1d4
aggressive: true
respawn_delay: 30s
`))
	require.NoError(t, err)
	assert.Equal(t, "ash_wolf", tmpl.ID)
	assert.True(t, tmpl.Aggressive)
	assert.Equal(t, "1d4", tmpl.Damage)

	_, err = LoadTemplateFromBytes([]byte("max_hp: 5"))
	assert.Error(t, err)
}

func TestSpawnAndRoomIndex(t *testing.T) {
	mgr := NewManager()
	tmpl := wolfTemplate()

	inst, err := mgr.Spawn(tmpl, "emberhollow:square")
	require.NoError(t, err)
	assert.Equal(t, tmpl.MaxHP, inst.CurrentHP)
	assert.False(t, inst.IsDead())

	got, ok := mgr.Get(inst.ID)
	require.True(t, ok)
	assert.Same(t, inst, got)

	inRoom := mgr.InstancesAt("emberhollow:square")
	require.Len(t, inRoom, 1)
	assert.Empty(t, mgr.InstancesAt("emberhollow:gate"))

	// Instance IDs are unique per spawn.
	other, err := mgr.Spawn(tmpl, "emberhollow:square")
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID, other.ID)
}

func TestRemove(t *testing.T) {
	mgr := NewManager()
	inst, err := mgr.Spawn(wolfTemplate(), "emberhollow:square")
	require.NoError(t, err)

	require.NoError(t, mgr.Remove(inst.ID))
	_, ok := mgr.Get(inst.ID)
	assert.False(t, ok)
	assert.Empty(t, mgr.InstancesAt("emberhollow:square"))

	assert.Error(t, mgr.Remove(inst.ID))
}

func TestFindAt(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.Spawn(wolfTemplate(), "emberhollow:square")
	require.NoError(t, err)

	assert.NotNil(t, mgr.FindAt("emberhollow:square", "ash"))
	assert.NotNil(t, mgr.FindAt("emberhollow:square", "ASH WOLF"))
	assert.Nil(t, mgr.FindAt("emberhollow:square", "dragon"))
	assert.Nil(t, mgr.FindAt("emberhollow:gate", "ash"))
}

func TestPopulateRoomCap(t *testing.T) {
	tmpl := wolfTemplate()
	spawns := map[string][]RoomSpawn{
		"emberhollow:square": {{TemplateID: tmpl.ID, Max: 2}},
	}
	sched := NewRespawnScheduler(spawns, map[string]*Template{tmpl.ID: tmpl})
	mgr := NewManager()

	sched.PopulateRoom("emberhollow:square", mgr)
	assert.Len(t, mgr.InstancesAt("emberhollow:square"), 2)

	// Idempotent at the cap.
	sched.PopulateRoom("emberhollow:square", mgr)
	assert.Len(t, mgr.InstancesAt("emberhollow:square"), 2)
}

func TestScheduleAndTick(t *testing.T) {
	tmpl := wolfTemplate()
	spawns := map[string][]RoomSpawn{
		"emberhollow:square": {{TemplateID: tmpl.ID, Max: 1, RespawnDelay: time.Minute}},
	}
	sched := NewRespawnScheduler(spawns, map[string]*Template{tmpl.ID: tmpl})
	mgr := NewManager()

	now := time.Unix(1000, 0)
	sched.Schedule(tmpl.ID, "emberhollow:square", now, time.Minute)

	// Not ready yet.
	sched.Tick(now.Add(30*time.Second), mgr)
	assert.Equal(t, 0, mgr.Count())

	// Ready: respawns up to cap.
	sched.Tick(now.Add(2*time.Minute), mgr)
	assert.Equal(t, 1, mgr.Count())

	// Entry was consumed.
	sched.Tick(now.Add(3*time.Minute), mgr)
	assert.Equal(t, 1, mgr.Count())
}

func TestScheduleZeroDelayIsNoop(t *testing.T) {
	tmpl := wolfTemplate()
	sched := NewRespawnScheduler(nil, map[string]*Template{tmpl.ID: tmpl})
	mgr := NewManager()

	sched.Schedule(tmpl.ID, "emberhollow:square", time.Now(), 0)
	sched.Tick(time.Now().Add(time.Hour), mgr)
	assert.Equal(t, 0, mgr.Count())
}

func TestResolvedDelay(t *testing.T) {
	tmpl := wolfTemplate() // template default 30s
	spawns := map[string][]RoomSpawn{
		"a": {{TemplateID: tmpl.ID, Max: 1, RespawnDelay: time.Minute}},
		"b": {{TemplateID: tmpl.ID, Max: 1}},
	}
	sched := NewRespawnScheduler(spawns, map[string]*Template{tmpl.ID: tmpl})

	assert.Equal(t, time.Minute, sched.ResolvedDelay(tmpl.ID, "a"))
	assert.Equal(t, 30*time.Second, sched.ResolvedDelay(tmpl.ID, "b"))
	assert.Equal(t, time.Duration(0), sched.ResolvedDelay("unknown", "a"))
}

func TestHealthDescription(t *testing.T) {
	inst := NewInstance("x", wolfTemplate(), "r")
	assert.Equal(t, "unharmed", inst.HealthDescription())
	inst.CurrentHP = 5
	assert.Equal(t, "badly wounded", inst.HealthDescription())
	inst.CurrentHP = 0
	assert.Equal(t, "dead", inst.HealthDescription())
	assert.True(t, inst.IsDead())
}
