package constraint

import (
	"errors"
	"strings"
	"time"
)

// ErrConstraintNotFound is returned when feedback names a rule with no similar constraint.
var ErrConstraintNotFound = errors.New("constraint not found")

// #region store

// Store holds the ordered constraint list of one session. Not safe for concurrent use;
// the owning session serializes access.
type Store struct {
	items []Constraint
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// NewStoreWithClock creates an empty store that stamps times with now. Used by tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{now: now}
}

// Len returns the number of stored constraints.
func (s *Store) Len() int {
	return len(s.items)
}

// Snapshot returns a copy of the stored constraints in insertion order.
func (s *Store) Snapshot() []Constraint {
	out := make([]Constraint, len(s.items))
	copy(out, s.items)
	return out
}

// Recent returns a copy of the last n constraints (all if n exceeds the count).
func (s *Store) Recent(n int) []Constraint {
	if n <= 0 {
		return nil
	}
	start := 0
	if len(s.items) > n {
		start = len(s.items) - n
	}
	out := make([]Constraint, len(s.items)-start)
	copy(out, s.items[start:])
	return out
}

// #endregion store

// #region update

// Update applies one turn's outcome to the store and returns the actions in processing order.
//
// reinforce strengthens every stored constraint. Otherwise each candidate either reinforces
// the first similar constraint or is appended as a new one. Weak constraints are pruned last.
func (s *Store) Update(candidates []string, reinforce bool, context string) []UpdateAction {
	var actions []UpdateAction

	if reinforce {
		actions = append(actions, s.reinforceAll()...)
	} else if len(candidates) > 0 {
		actions = append(actions, s.merge(candidates, context)...)
	}

	s.Prune()
	return actions
}

func (s *Store) reinforceAll() []UpdateAction {
	now := s.now()
	actions := make([]UpdateAction, 0, len(s.items))
	for i := range s.items {
		s.items[i].Strengthen(StrengthenStep, now)
		actions = append(actions, UpdateAction{
			Action:     ActionStrengthened,
			Constraint: s.items[i].Rule,
			Strength:   s.items[i].Strength,
		})
	}
	return actions
}

func (s *Store) merge(candidates []string, context string) []UpdateAction {
	actions := make([]UpdateAction, 0, len(candidates))
	for _, rule := range candidates {
		now := s.now()
		if idx := s.FindSimilar(rule); idx >= 0 {
			s.items[idx].Strengthen(StrengthenStep, now)
			actions = append(actions, UpdateAction{
				Action:     ActionReinforcedExisting,
				Constraint: s.items[idx].Rule,
				Strength:   s.items[idx].Strength,
			})
			continue
		}
		c := New(rule, context, now)
		s.items = append(s.items, c)
		actions = append(actions, UpdateAction{
			Action:     ActionAdded,
			Constraint: c.Rule,
			Strength:   c.Strength,
		})
	}
	return actions
}

// #endregion update

// #region similarity

// FindSimilar returns the index of the first constraint whose rule contains, or is contained
// in, rule (case-insensitive). Returns -1 when none matches.
func (s *Store) FindSimilar(rule string) int {
	lower := strings.ToLower(rule)
	for i, c := range s.items {
		existing := strings.ToLower(c.Rule)
		if strings.Contains(lower, existing) || strings.Contains(existing, lower) {
			return i
		}
	}
	return -1
}

// #endregion similarity

// #region prune

// Prune removes every constraint with strength at or below PruneThreshold and returns
// the removed rules.
func (s *Store) Prune() []string {
	var removed []string
	kept := s.items[:0]
	for _, c := range s.items {
		if c.Strength <= PruneThreshold {
			removed = append(removed, c.Rule)
			continue
		}
		kept = append(kept, c)
	}
	// zero the tail so dropped constraints are not retained by the backing array
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = Constraint{}
	}
	s.items = kept
	return removed
}

// #endregion prune

// #region feedback

// Feedback applies explicit user feedback to the constraint similar to rule: helpful
// strengthens it, otherwise it is weakened. Prunes afterwards.
func (s *Store) Feedback(rule string, helpful bool) (UpdateAction, error) {
	idx := s.FindSimilar(rule)
	if idx < 0 {
		return UpdateAction{}, ErrConstraintNotFound
	}

	c := &s.items[idx]
	action := ActionWeakened
	if helpful {
		c.Strengthen(StrengthenStep, s.now())
		action = ActionStrengthened
	} else {
		c.Weaken(WeakenStep)
	}
	result := UpdateAction{Action: action, Constraint: c.Rule, Strength: c.Strength}

	s.Prune()
	return result, nil
}

// #endregion feedback
