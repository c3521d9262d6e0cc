package signals

import (
	"strings"
	"unicode/utf8"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
)

// #region evaluator

// Evaluator scores responses with string heuristics. No model call.
type Evaluator struct {
	phrases []string
}

// NewEvaluator creates an evaluator over vocab. Phrases are lowercased once here.
func NewEvaluator(vocab Vocabulary) *Evaluator {
	phrases := make([]string, 0, len(vocab.SelfAwarePhrases))
	for _, p := range vocab.SelfAwarePhrases {
		if p = strings.ToLower(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Evaluator{phrases: phrases}
}

// Evaluate computes the quality signals of response against the current constraints.
// userMessage is accepted for parity with the turn record and does not affect the score.
func (e *Evaluator) Evaluate(userMessage, response string, constraints []constraint.Constraint) QualitySignals {
	lower := strings.ToLower(response)
	length := utf8.RuneCountInString(response)
	adherence := Adherence(response, constraints)

	s := QualitySignals{
		AskedQuestions:      strings.Contains(response, "?"),
		AppropriateLength:   length > MinLength && length < MaxLength,
		FollowedConstraints: adherence > AdherenceThreshold,
		ShowsSelfAwareness:  e.selfAware(lower),
		Adherence:           adherence,
	}

	trues := 0
	for _, b := range []bool{s.AskedQuestions, s.AppropriateLength, s.FollowedConstraints, s.ShowsSelfAwareness} {
		if b {
			trues++
		}
	}
	s.QualityScore = float64(trues) / 4
	s.DeservesReinforcement = s.QualityScore >= ReinforcementThreshold
	return s
}

func (e *Evaluator) selfAware(lower string) bool {
	for _, p := range e.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// #endregion evaluator

// #region adherence

// Adherence estimates how well response follows constraints, in [0,1].
//
// A rule mentioning "avoid" scores 1 when the text after its last "avoid" is absent from the
// response. Otherwise a rule mentioning "include" scores 1 when the text after its last
// "include" is present. Any other rule scores GenericAdherence. An empty store scores 1.
func Adherence(response string, constraints []constraint.Constraint) float64 {
	if len(constraints) == 0 {
		return 1.0
	}
	lower := strings.ToLower(response)

	var total float64
	for _, c := range constraints {
		total += ruleAdherence(strings.ToLower(c.Rule), lower)
	}
	return total / float64(len(constraints))
}

func ruleAdherence(rule, response string) float64 {
	if target, ok := tailAfter(rule, "avoid"); ok {
		if strings.Contains(response, target) {
			return 0
		}
		return 1
	}
	if target, ok := tailAfter(rule, "include"); ok {
		if strings.Contains(response, target) {
			return 1
		}
		return 0
	}
	return GenericAdherence
}

// tailAfter returns the trimmed text after the last occurrence of sep in s.
// An empty tail is contained in every response.
func tailAfter(s, sep string) (string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(s[i+len(sep):]), true
}

// #endregion adherence
