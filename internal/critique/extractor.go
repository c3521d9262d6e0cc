package critique

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/signals"
)

// #region vocabulary

// Vocabulary holds the word lists the extractor matches case-insensitively.
type Vocabulary struct {
	TriggerWords    []string // a line is considered only if it contains one of these
	ActionableWords []string // a cleaned candidate is kept only if it contains one of these
}

// DefaultVocabulary returns the stock trigger and actionable word lists.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		TriggerWords:    []string{"should", "must", "need to", "avoid", "ensure"},
		ActionableWords: []string{"should", "must", "need", "avoid", "ensure", "remember", "always", "never"},
	}
}

// MinCandidateLength is the minimum rune length of an accepted candidate.
const MinCandidateLength = 10

// #endregion vocabulary

// #region extractor

var markdownRun = regexp.MustCompile(`[*#\-]+`)

// Extractor pulls candidate behavioral rules out of a self-critique.
type Extractor struct {
	triggers   []string
	actionable []string
}

// NewExtractor creates an extractor over vocab.
func NewExtractor(vocab Vocabulary) *Extractor {
	return &Extractor{
		triggers:   lowerAll(vocab.TriggerWords),
		actionable: lowerAll(vocab.ActionableWords),
	}
}

// Extract returns the candidate rules found in critique, in line order. A turn that deserves
// reinforcement yields nothing. Lines that fail cleaning or validation are dropped.
func (e *Extractor) Extract(critique string, s signals.QualitySignals) []string {
	if s.DeservesReinforcement {
		return nil
	}

	var out []string
	for _, line := range strings.Split(critique, "\n") {
		line = strings.TrimSpace(line)
		if !containsAny(strings.ToLower(line), e.triggers) {
			continue
		}
		candidate := Clean(line)
		if e.valid(candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// Clean strips every run of markdown bullet and emphasis characters, trims the result and
// upper-cases its first rune.
func Clean(line string) string {
	line = strings.TrimSpace(markdownRun.ReplaceAllString(line, ""))
	if line == "" {
		return line
	}
	r, size := utf8.DecodeRuneInString(line)
	return string(unicode.ToUpper(r)) + line[size:]
}

func (e *Extractor) valid(candidate string) bool {
	if utf8.RuneCountInString(candidate) < MinCandidateLength {
		return false
	}
	return containsAny(strings.ToLower(candidate), e.actionable)
}

// #endregion extractor

// #region helpers
func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// #endregion helpers
