package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/emberwake/mud/internal/game/character"
	"github.com/emberwake/mud/internal/storage/postgres"
	"github.com/emberwake/mud/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func makeTestCharacter(name string) *character.Character {
	return &character.Character{
		Name:       name,
		Location:   "emberhollow:square",
		CurrentHP:  20,
		MaxHP:      20,
		Initiative: 2,
		Locale:     "en",
	}
}

func TestCharacterRepository_Create(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, makeTestCharacter("Kira"))
	require.NoError(t, err)

	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, "Kira", created.Name)
	assert.Equal(t, "emberhollow:square", created.Location)
	assert.Equal(t, 20, created.MaxHP)
	assert.Equal(t, 20, created.CurrentHP)
	assert.Equal(t, 2, created.Initiative)
	assert.Equal(t, "en", created.Locale)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCharacterRepository_DuplicateNameError(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	c := makeTestCharacter("Kira")
	_, err := repo.Create(ctx, c)
	require.NoError(t, err)

	_, err = repo.Create(ctx, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, postgres.ErrCharacterNameTaken)
}

func TestCharacterRepository_GetByID(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, makeTestCharacter("Kira"))
	require.NoError(t, err)

	fetched, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "Kira", fetched.Name)
	assert.Equal(t, 2, fetched.Initiative)
}

func TestCharacterRepository_GetByID_NotFound(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	_, err := repo.GetByID(context.Background(), 99999999)
	require.Error(t, err)
	assert.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}

func TestCharacterRepository_GetByName(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, makeTestCharacter("Brom"))
	require.NoError(t, err)

	fetched, err := repo.GetByName(ctx, "Brom")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)

	_, err = repo.GetByName(ctx, "nobody")
	assert.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}

func TestCharacterRepository_SaveState(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, makeTestCharacter("Kira"))
	require.NoError(t, err)

	err = repo.SaveState(ctx, created.ID, "emberhollow:gate", 7)
	require.NoError(t, err)

	fetched, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "emberhollow:gate", fetched.Location)
	assert.Equal(t, 7, fetched.CurrentHP)
}

func TestCharacterRepository_SaveState_NotFound(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	err := repo.SaveState(context.Background(), 99999999, "emberhollow:square", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}

// TestCharacterRepository_Property_CreateThenGetByID verifies that for any valid
// character fields, Create followed by GetByID returns the character created.
// One container is shared across iterations; names are made unique per draw.
func TestCharacterRepository_Property_CreateThenGetByID(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		name := uniqueName(rapid.StringMatching(`[A-Za-z][A-Za-z0-9]{1,10}`).Draw(rt, "name"))
		hp := rapid.IntRange(1, 100).Draw(rt, "hp")
		c := &character.Character{
			Name:      name,
			Location:  "emberhollow:square",
			CurrentHP: hp,
			MaxHP:     hp,
			Locale:    "en",
		}

		created, err := repo.Create(ctx, c)
		require.NoError(rt, err)

		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(rt, err)

		assert.Equal(rt, created.ID, fetched.ID)
		assert.Equal(rt, name, fetched.Name)
		assert.Equal(rt, hp, fetched.MaxHP)
		assert.Equal(rt, hp, fetched.CurrentHP)
	})
}

// TestCharacterRepository_Property_SaveStatePersists verifies that SaveState
// followed by GetByID always reflects the new location and currentHP values.
func TestCharacterRepository_Property_SaveStatePersists(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		created, err := repo.Create(ctx, makeTestCharacter(uniqueName("Prop")))
		require.NoError(rt, err)

		newHP := rapid.IntRange(0, created.MaxHP).Draw(rt, "hp")
		newLoc := rapid.StringMatching(`[a-z_]{3,20}`).Draw(rt, "loc")

		err = repo.SaveState(ctx, created.ID, newLoc, newHP)
		require.NoError(rt, err)

		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(rt, err)
		assert.Equal(rt, newLoc, fetched.Location)
		assert.Equal(rt, newHP, fetched.CurrentHP)
	})
}
