package traits

import "fmt"

// #region trait
// Trait names one personality dimension. The set is closed; Index maps each trait to its
// slot in Vector.
type Trait int

const (
	Analytical Trait = iota
	Creative
	Empathic
	Curious
	Concise
	Detailed
	numTraits
)

// DefaultValue is the starting value of every trait.
const DefaultValue = 0.5

var traitNames = [numTraits]string{"analytical", "creative", "empathic", "curious", "concise", "detailed"}

// All returns every trait in declaration order.
func All() []Trait {
	out := make([]Trait, numTraits)
	for i := range out {
		out[i] = Trait(i)
	}
	return out
}

// String returns the lowercase wire name of the trait.
func (t Trait) String() string {
	if !t.Valid() {
		return fmt.Sprintf("trait(%d)", int(t))
	}
	return traitNames[t]
}

// Valid reports whether t is one of the declared traits.
func (t Trait) Valid() bool {
	return t >= 0 && t < numTraits
}

// Parse resolves a wire name to its trait.
func Parse(name string) (Trait, error) {
	for i, n := range traitNames {
		if n == name {
			return Trait(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trait %q", name)
}

// #endregion trait

// #region vocabulary

// Vocabulary holds the keyword sets that nudge the empathic and creative traits.
type Vocabulary struct {
	EmpathicWords []string
	CreativeWords []string
}

// DefaultVocabulary returns the stock keyword sets.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		EmpathicWords: []string{"feel", "understand", "empathize"},
		CreativeWords: []string{"imagine", "creative", "innovative"},
	}
}

// #endregion vocabulary

// #region deltas
const (
	curiousDelta    = 0.05
	conciseDelta    = 0.03
	analyticalDelta = 0.04
	empathicDelta   = 0.03
	creativeDelta   = 0.03
)

// #endregion deltas
