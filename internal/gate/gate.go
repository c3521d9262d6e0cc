package gate

import (
	"fmt"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/signals"
)

// #region gate
// Gate chooses how a scored turn updates the constraint store.
type Gate struct{}

// NewGate creates a gate.
func NewGate() *Gate {
	return &Gate{}
}

// Decide picks the update path. Reinforcement wins over candidates: a turn that deserves
// reinforcement never adds rules. storeSize is used only for the reason string.
func (g *Gate) Decide(s signals.QualitySignals, candidates []string, storeSize int) Decision {
	d := Decision{QualityScore: s.QualityScore, Candidates: len(candidates)}

	switch {
	case s.DeservesReinforcement:
		d.Path = PathReinforce
		d.Reason = fmt.Sprintf("quality %.2f >= %.2f: strengthen %d constraints",
			s.QualityScore, signals.ReinforcementThreshold, storeSize)
	case len(candidates) > 0:
		d.Path = PathExtract
		d.Reason = fmt.Sprintf("quality %.2f < %.2f: merge %d candidates",
			s.QualityScore, signals.ReinforcementThreshold, len(candidates))
	default:
		d.Path = PathNoOp
		d.Reason = fmt.Sprintf("quality %.2f < %.2f: no candidates extracted",
			s.QualityScore, signals.ReinforcementThreshold)
	}
	return d
}

// #endregion gate
