// Package character defines the persistent player-character model. It is
// loaded before a session starts and saved after it ends; nothing touches
// it mid-encounter.
package character

import (
	"fmt"
	"time"
)

// Character is the durable state behind a session.
type Character struct {
	// ID is the database primary key.
	ID int64
	// Name is the unique display name.
	Name string
	// Location is the room ID the character last occupied.
	Location string
	// CurrentHP and MaxHP are the character's hit points.
	CurrentHP int
	MaxHP     int
	// Initiative is the flat initiative modifier for combat ordering.
	Initiative int
	// Locale is the preferred BCP-47 language tag (may be empty).
	Locale string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants a character must satisfy before being
// persisted.
//
// Postcondition: Returns nil iff Name and Location are non-empty,
// MaxHP >= 1, and 0 <= CurrentHP <= MaxHP.
func (c *Character) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("character: name must not be empty")
	}
	if c.Location == "" {
		return fmt.Errorf("character %q: location must not be empty", c.Name)
	}
	if c.MaxHP < 1 {
		return fmt.Errorf("character %q: max_hp must be >= 1", c.Name)
	}
	if c.CurrentHP < 0 || c.CurrentHP > c.MaxHP {
		return fmt.Errorf("character %q: current_hp %d outside [0, %d]", c.Name, c.CurrentHP, c.MaxHP)
	}
	return nil
}
