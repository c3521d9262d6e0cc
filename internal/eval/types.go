package eval

import (
	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// #region eval-config
// EvalConfig holds the bounds checked after every committed turn.
type EvalConfig struct {
	MinStrength    float64 // no constraint may fall below this
	MaxStrength    float64 // no constraint may rise above this
	PruneThreshold float64 // no constraint at or below this may survive a turn
	MirrorInterval int     // mirror loop fires when the counter is a multiple of this
}

// DefaultEvalConfig returns the store's own bounds and a mirror interval of 3.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinStrength:    constraint.MinStrength,
		MaxStrength:    constraint.MaxStrength,
		PruneThreshold: constraint.PruneThreshold,
		MirrorInterval: 3,
	}
}

// #endregion eval-config

// #region snapshot

// Snapshot is the post-commit session state under validation.
type Snapshot struct {
	Constraints  []constraint.Constraint
	Traits       traits.Vector
	MessageCount int
	MirrorLoop   bool
}

// #endregion snapshot

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-commit validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
