package constraint

import (
	"time"
	"unicode/utf8"
)

// #region bounds

const (
	MinStrength     = 0.1  // floor applied by Weaken
	MaxStrength     = 2.0  // ceiling applied by Strengthen
	InitialStrength = 1.0  // strength of a newly added constraint
	PruneThreshold  = 0.2  // constraints at or below this are removed
	StrengthenStep  = 0.1  // default Strengthen amount
	WeakenStep      = 0.05 // default Weaken amount
	ContextLimit    = 100  // max runes of triggering message kept as context
)

// #endregion bounds

// #region constraint

// Constraint is a single learned behavioral rule with strength and provenance.
type Constraint struct {
	Rule             string    `json:"rule"`
	Context          string    `json:"context"`
	Strength         float64   `json:"strength"`
	Successes        int       `json:"successes"`
	Failures         int       `json:"failures"`
	CreatedAt        time.Time `json:"created_at"`
	LastReinforcedAt time.Time `json:"last_reinforced"`
}

// New creates a constraint at InitialStrength. context is truncated to ContextLimit runes.
func New(rule, context string, now time.Time) Constraint {
	return Constraint{
		Rule:             rule,
		Context:          truncateRunes(context, ContextLimit),
		Strength:         InitialStrength,
		CreatedAt:        now,
		LastReinforcedAt: now,
	}
}

// Strengthen raises strength by amount, capped at MaxStrength, and records a success.
func (c *Constraint) Strengthen(amount float64, now time.Time) {
	c.Strength = min(MaxStrength, c.Strength+amount)
	c.Successes++
	c.LastReinforcedAt = now
}

// Weaken lowers strength by amount, floored at MinStrength, and records a failure.
func (c *Constraint) Weaken(amount float64) {
	c.Strength = max(MinStrength, c.Strength-amount)
	c.Failures++
}

// #endregion constraint

// #region action

// Action names one kind of constraint update.
type Action string

const (
	ActionAdded              Action = "added"
	ActionStrengthened       Action = "strengthened"
	ActionReinforcedExisting Action = "reinforced_existing"
	ActionWeakened           Action = "weakened"
)

// UpdateAction records one change applied to the store.
type UpdateAction struct {
	Action     Action  `json:"action"`
	Constraint string  `json:"constraint"`
	Strength   float64 `json:"strength"`
}

// #endregion action

// #region helpers

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}

// #endregion helpers
