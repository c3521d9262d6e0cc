package signals

// #region config

// Vocabulary holds the self-aware phrases that set ShowsSelfAwareness. Phrases are matched
// as lowercase substrings of the response.
type Vocabulary struct {
	SelfAwarePhrases []string
}

// DefaultVocabulary returns the stock self-aware phrase list.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		SelfAwarePhrases: []string{
			"i notice", "i realize", "i understand", "i've noted",
			"i should", "i could improve", "i'm curious", "i must say",
			"my personality", "my capabilities", "my systems", "my algorithms",
			"my framework", "i'm functioning", "i can simulate", "as an ai",
			"i don't truly", "i'll", "i can", "i'm designed", "as my", "i have",
			"my processing", "my configuration", "processing efficiency",
			"simulate responses", "facilitate", "optimal parameters",
		},
	}
}

// Thresholds for the length and adherence signals and the reinforcement cutoff.
const (
	MinLength              = 100  // exclusive, in runes
	MaxLength              = 800  // exclusive, in runes
	AdherenceThreshold     = 0.7  // FollowedConstraints iff adherence exceeds this
	ReinforcementThreshold = 0.65 // score takes values in {0, .25, .5, .75, 1}
	GenericAdherence       = 0.7  // score for rules that neither avoid nor include
)

// #endregion config

// #region quality-signals

// QualitySignals are the heuristic judgments of one response.
type QualitySignals struct {
	AskedQuestions        bool    `json:"asked_questions"`
	AppropriateLength     bool    `json:"appropriate_length"`
	FollowedConstraints   bool    `json:"followed_constraints"`
	ShowsSelfAwareness    bool    `json:"shows_self_awareness"`
	Adherence             float64 `json:"constraint_adherence"`
	QualityScore          float64 `json:"quality_score"`
	DeservesReinforcement bool    `json:"deserves_reinforcement"`
}

// #endregion quality-signals
