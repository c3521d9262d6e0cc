package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

func TestBuildSystemPrompt_DefaultProfile(t *testing.T) {
	want := "You are Echo, an AI with evolving personality traits.\n\n" +
		"Current Personality Profile:\n" +
		"- Analytical: 0.50\n" +
		"- Creative: 0.50\n" +
		"- Empathic: 0.50\n" +
		"- Curious: 0.50\n" +
		"- Concise: 0.50\n" +
		"- Detailed: 0.50\n" +
		"\nDominant trait: analytical"

	assert.Equal(t, want, BuildSystemPrompt(traits.NewVector(), nil))
}

func TestBuildSystemPrompt_Guidelines(t *testing.T) {
	v := traits.NewVector()
	v.Adjust(traits.Curious, 0.05)
	now := time.Unix(0, 0)
	cs := []constraint.Constraint{
		constraint.New("Ask a clarifying question", "hello", now),
		constraint.New("Avoid jargon", "explain dns", now),
	}
	cs[1].Strengthen(0.1, now)

	got := BuildSystemPrompt(v, cs)

	assert.Contains(t, got, "- Curious: 0.55\n")
	assert.Contains(t, got, "\nDominant trait: curious\n\nLearned Behavioral Guidelines:\n")
	assert.Contains(t, got, "1. Ask a clarifying question (strength: 1.00, context: hello)\n")
	assert.Contains(t, got, "2. Avoid jargon (strength: 1.10, context: explain dns)\n")
}
