package traits

import (
	"encoding/json"
	"strings"
)

// #region vector

// Vector holds one value in [0,1] per trait, indexed by Trait.
type Vector struct {
	values [numTraits]float64
}

// NewVector returns a vector with every trait at DefaultValue.
func NewVector() Vector {
	var v Vector
	for i := range v.values {
		v.values[i] = DefaultValue
	}
	return v
}

// Get returns the value of t. Unknown traits read as zero.
func (v Vector) Get(t Trait) float64 {
	if !t.Valid() {
		return 0
	}
	return v.values[t]
}

// Adjust adds delta to t and clamps the result to [0,1]. Unknown traits are ignored.
func (v *Vector) Adjust(t Trait, delta float64) {
	if !t.Valid() {
		return
	}
	v.values[t] = clamp01(v.values[t] + delta)
}

// Dominant returns the trait with the highest value; ties go to the earliest declared trait.
func (v Vector) Dominant() Trait {
	best := Analytical
	for i := 1; i < int(numTraits); i++ {
		if v.values[i] > v.values[best] {
			best = Trait(i)
		}
	}
	return best
}

// Map returns the vector keyed by trait name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, numTraits)
	for i, name := range traitNames {
		out[name] = v.values[i]
	}
	return out
}

// MarshalJSON encodes the vector as an object keyed by trait name.
func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON decodes an object keyed by trait name. Missing traits keep DefaultValue.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = NewVector()
	for name, val := range raw {
		t, err := Parse(name)
		if err != nil {
			return err
		}
		v.values[t] = clamp01(val)
	}
	return nil
}

// #endregion vector

// #region evolve

// Signals are the quality judgments that drive trait evolution.
type Signals struct {
	AskedQuestions     bool
	AppropriateLength  bool
	ShowsSelfAwareness bool
}

// Evolve nudges the vector from one turn's signals and response text. Each rule applies
// independently; several may fire on the same turn.
func (v *Vector) Evolve(s Signals, response string, vocab Vocabulary) {
	if s.AskedQuestions {
		v.Adjust(Curious, curiousDelta)
	}
	if s.AppropriateLength {
		v.Adjust(Concise, conciseDelta)
	}
	if s.ShowsSelfAwareness {
		v.Adjust(Analytical, analyticalDelta)
	}

	lower := strings.ToLower(response)
	if containsAny(lower, vocab.EmpathicWords) {
		v.Adjust(Empathic, empathicDelta)
	}
	if containsAny(lower, vocab.CreativeWords) {
		v.Adjust(Creative, creativeDelta)
	}
}

// #endregion evolve

// #region helpers
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// #endregion helpers
