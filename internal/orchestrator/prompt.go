package orchestrator

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

const persona = "You are Echo, an AI with evolving personality traits."

// BuildSystemPrompt renders the persona, the trait profile and the given constraints
// as the system message for the generation call.
func BuildSystemPrompt(v traits.Vector, constraints []constraint.Constraint) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nCurrent Personality Profile:\n")
	for _, t := range traits.All() {
		fmt.Fprintf(&b, "- %s: %.2f\n", title(t.String()), v.Get(t))
	}
	fmt.Fprintf(&b, "\nDominant trait: %s", v.Dominant())

	if len(constraints) > 0 {
		b.WriteString("\n\nLearned Behavioral Guidelines:\n")
		for i, c := range constraints {
			fmt.Fprintf(&b, "%d. %s (strength: %.2f, context: %s)\n", i+1, c.Rule, c.Strength, c.Context)
		}
	}
	return b.String()
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
