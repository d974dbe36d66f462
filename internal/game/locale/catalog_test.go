package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogEnglish(t *testing.T) {
	c := Default()
	msg := c.Message("en", "combat.attack_hit", "Kira", "ash wolf", 4)
	assert.Equal(t, "Kira strikes ash wolf for 4 damage.", msg)
}

func TestLocaleMatching(t *testing.T) {
	c := Default()

	// Regional variant matches the base language table.
	msg := c.Message("es-MX", "combat.attack_hit", "Kira", "lobo", 4)
	assert.Equal(t, "Kira golpea a lobo causando 4 de daño.", msg)

	// Unknown locale falls back to the default language.
	msg = c.Message("zh", "combat.attack_hit", "Kira", "ash wolf", 4)
	assert.Equal(t, "Kira strikes ash wolf for 4 damage.", msg)

	// Empty locale uses the default language.
	msg = c.Message("", "combat.defend", "Kira")
	assert.Equal(t, "Kira braces behind a guard.", msg)
}

func TestMissingKeyFallsBackThenEchoes(t *testing.T) {
	c := Default()

	// Key missing from the Spanish table falls back to English.
	msg := c.Message("es", "combat.defend", "Kira")
	assert.Equal(t, "Kira braces behind a guard.", msg)

	// Key missing everywhere echoes the key.
	assert.Equal(t, "no.such.key", c.Message("en", "no.such.key"))
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New([]string{"!!"}, map[string]map[string]string{"!!": {}})
	assert.Error(t, err)

	_, err = New([]string{"en"}, map[string]map[string]string{})
	assert.Error(t, err)

	c, err := New([]string{"en"}, map[string]map[string]string{"en": {"k": "v %d"}})
	require.NoError(t, err)
	assert.Equal(t, "v 7", c.Message("en", "k", 7))
}
