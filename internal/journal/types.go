package journal

import "time"

// #region decision
// Decision is the store update a journaled turn took.
type Decision string

const (
	DecisionReinforce Decision = "reinforce"
	DecisionExtract   Decision = "extract"
	DecisionNoOp      Decision = "no_op"
	DecisionAborted   Decision = "aborted" // generation failed or context cancelled; no state change
	DecisionFeedback  Decision = "feedback"
)

// #endregion decision

// #region entry
// Entry is a single row in the turn_log table.
type Entry struct {
	ID                    int64
	TurnID                string
	SessionID             string
	MessageCount          int
	Decision              Decision
	Reason                string
	QualityScore          float64
	DeservesReinforcement bool
	UserMessage           string
	Response              string
	SelfEvaluation        string
	SignalsJSON           string // quality signals as evaluated
	UpdatesJSON           string // constraint updates applied
	CreatedAt             time.Time
}

// #endregion entry
