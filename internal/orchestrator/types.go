package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/critique"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/gate"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/signals"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// #endregion

// #region phase

// Phase is the position of a session in the turn state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGenerating
	PhaseSelfEvaluating
	PhaseScoring
	PhaseUpdating
)

var phaseNames = [...]string{"idle", "generating", "self_evaluating", "scoring", "updating"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// #endregion

// #region errors

// Stage names the generator call a turn failed in.
type Stage string

const (
	StageGenerate     Stage = "generate"
	StageSelfEvaluate Stage = "self_evaluate"
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("empty message")

// TurnError reports a turn aborted by a generator failure. Session state is unchanged.
type TurnError struct {
	Stage Stage
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn aborted at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// #endregion

// #region config

// SessionConfig holds per-session tuning.
type SessionConfig struct {
	MirrorLoopInterval    int           // mirror loop fires when the counter is a multiple of this
	PromptConstraintLimit int           // most recent constraints embedded in the system prompt
	GenerateTimeout       time.Duration // per generator call; zero leaves the caller's deadline alone
	SignalVocabulary      signals.Vocabulary
	CritiqueVocabulary    critique.Vocabulary
	TraitVocabulary       traits.Vocabulary
}

// DefaultSessionConfig returns the stock session tuning.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MirrorLoopInterval:    3,
		PromptConstraintLimit: 10,
		GenerateTimeout:       120 * time.Second,
		SignalVocabulary:      signals.DefaultVocabulary(),
		CritiqueVocabulary:    critique.DefaultVocabulary(),
		TraitVocabulary:       traits.DefaultVocabulary(),
	}
}

// #endregion

// #region turn-record

// TurnRecord is the immutable result of one committed turn.
type TurnRecord struct {
	TurnID            string                    `json:"turn_id"`
	SessionID         string                    `json:"session_id"`
	Response          string                    `json:"response"`
	SelfEvaluation    string                    `json:"self_evaluation"`
	QualitySignals    signals.QualitySignals    `json:"quality_signals"`
	Constraints       []constraint.Constraint   `json:"constraints"`
	Personality       traits.Vector             `json:"personality"`
	DominantTrait     string                    `json:"dominant_trait"`
	MirrorLoop        bool                      `json:"mirror_loop"`
	MessageCount      int                       `json:"message_count"`
	ConstraintUpdates []constraint.UpdateAction `json:"constraint_updates"`
	Decision          gate.Path                 `json:"decision"`
}

// #endregion

// #region status

// Status is a read-only snapshot of a session.
type Status struct {
	SessionID       string                 `json:"session_id"`
	Model           string                 `json:"model"`
	MessageCount    int                    `json:"message_count"`
	ConstraintCount int                    `json:"constraint_count"`
	Personality     traits.Vector          `json:"personality"`
	DominantTrait   string                 `json:"dominant_trait"`
	LastQuality     signals.QualitySignals `json:"last_quality"`
	Phase           string                 `json:"phase"`
}

// #endregion

// #region interfaces

// Recorder journals turns. *journal.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) (int64, error)
}

// #endregion
