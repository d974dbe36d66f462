package monster

// Instance is a live hostile entity occupying a room.
type Instance struct {
	// ID uniquely identifies this runtime instance.
	ID string
	// TemplateID is the source template's ID.
	TemplateID string
	// Name is copied from the template for display.
	Name string
	// Description is copied from the template.
	Description string
	// RoomID is the room this instance currently occupies.
	RoomID string
	// CurrentHP is the instance's current hit points.
	CurrentHP int
	// MaxHP is the instance's maximum hit points.
	MaxHP int
	// Initiative is the initiative modifier copied from the template.
	Initiative int
	// Damage is the attack dice expression copied from the template.
	Damage string
	// Aggressive marks the instance as attacking players on sight.
	Aggressive bool
}

// NewInstance creates a live instance from a template, placed in roomID.
//
// Precondition: id must be non-empty; tmpl must be non-nil; roomID must be non-empty.
// Postcondition: CurrentHP equals tmpl.MaxHP.
func NewInstance(id string, tmpl *Template, roomID string) *Instance {
	return &Instance{
		ID:          id,
		TemplateID:  tmpl.ID,
		Name:        tmpl.Name,
		Description: tmpl.Description,
		RoomID:      roomID,
		CurrentHP:   tmpl.MaxHP,
		MaxHP:       tmpl.MaxHP,
		Initiative:  tmpl.Initiative,
		Damage:      tmpl.Damage,
		Aggressive:  tmpl.Aggressive,
	}
}

// IsDead reports whether the instance has zero hit points.
func (i *Instance) IsDead() bool {
	return i.CurrentHP <= 0
}

// HealthDescription returns a visible health state string for examine output.
//
// Postcondition: Returns a non-empty string.
func (i *Instance) HealthDescription() string {
	if i.CurrentHP <= 0 {
		return "dead"
	}
	pct := float64(i.CurrentHP) / float64(i.MaxHP)
	switch {
	case pct >= 1.0:
		return "unharmed"
	case pct >= 0.6:
		return "lightly wounded"
	case pct >= 0.3:
		return "badly wounded"
	default:
		return "near death"
	}
}
