// Package locale provides the message catalog for human-readable event
// text. The game core emits structured events; every "message" field is
// produced through this catalog so display text stays swappable per player.
package locale

import (
	"fmt"

	"golang.org/x/text/language"
)

// Source produces localized message text. The combat engine and aggro
// trigger depend on this interface rather than the concrete catalog.
type Source interface {
	// Message formats the template registered under key for the given
	// BCP-47 locale, falling back to the default locale for unknown
	// locales or missing keys.
	Message(locale, key string, args ...any) string
}

// Catalog maps message keys to per-language templates and resolves a
// player's preferred locale with a language.Matcher.
//
// Invariant: the default language's table defines every key; other
// languages may cover any subset.
type Catalog struct {
	matcher  language.Matcher
	tags     []language.Tag
	tables   map[language.Tag]map[string]string
	fallback language.Tag
}

// New builds a Catalog from per-language template tables. The first entry
// of langs is the fallback language.
//
// Precondition: langs must be non-empty; tables must contain a table for
// each language in langs.
// Postcondition: Returns a Catalog or an error for an unparseable tag or
// a missing table.
func New(langs []string, tables map[string]map[string]string) (*Catalog, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("locale: at least one language is required")
	}

	c := &Catalog{
		tables: make(map[language.Tag]map[string]string, len(langs)),
	}
	for _, l := range langs {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("locale: parsing language tag %q: %w", l, err)
		}
		table, ok := tables[l]
		if !ok {
			return nil, fmt.Errorf("locale: no message table for language %q", l)
		}
		c.tags = append(c.tags, tag)
		c.tables[tag] = table
	}
	c.fallback = c.tags[0]
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// Message formats the template registered under key for the given locale.
//
// Postcondition: Returns formatted text; an unknown locale falls back to
// the default language, and an unknown key returns the key itself so a
// missing template is visible rather than silent.
func (c *Catalog) Message(locale, key string, args ...any) string {
	tag := c.fallback
	if locale != "" {
		if desired, err := language.Parse(locale); err == nil {
			_, idx, conf := c.matcher.Match(desired)
			if conf > language.No {
				tag = c.tags[idx]
			}
		}
	}

	tmpl, ok := c.tables[tag][key]
	if !ok {
		tmpl, ok = c.tables[c.fallback][key]
	}
	if !ok {
		return key
	}
	return fmt.Sprintf(tmpl, args...)
}

// Default returns the built-in catalog: English templates for every
// message the core emits, plus a Spanish table.
func Default() *Catalog {
	c, err := New([]string{"en", "es"}, map[string]map[string]string{
		"en": {
			"combat.start":        "The %s bares its fangs. Combat begins!",
			"combat.turn":         "Turn %d. It is %s's move.",
			"combat.attack_hit":   "%s strikes %s for %d damage.",
			"combat.defend":       "%s braces behind a guard.",
			"combat.flee_success": "%s breaks away and escapes the fight!",
			"combat.flee_failure": "%s tries to flee but the %s blocks the way!",
			"combat.timeout":      "%s hesitates too long.",
			"combat.victory":      "The %s collapses. %s stands victorious!",
			"combat.defeat":       "%s falls to the %s.",
			"combat.end_fled":     "The fight is over.",
			"combat.end_forced":   "%s is gone. The %s loses interest.",
			"aggro.notice":        "The %s snarls and lunges at %s!",
		},
		"es": {
			"combat.start":        "El %s muestra los colmillos. ¡Comienza el combate!",
			"combat.attack_hit":   "%s golpea a %s causando %d de daño.",
			"combat.flee_success": "¡%s se zafa y escapa de la pelea!",
			"aggro.notice":        "¡El %s gruñe y se abalanza sobre %s!",
		},
	})
	if err != nil {
		panic("locale: building default catalog: " + err.Error())
	}
	return c
}
