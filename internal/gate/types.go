package gate

// #region path

// Path names the store update a turn takes.
type Path string

const (
	PathReinforce Path = "reinforce" // strengthen every stored constraint
	PathExtract   Path = "extract"   // merge extracted candidates
	PathNoOp      Path = "no_op"     // nothing to apply; prune only
)

// #endregion path

// #region decision

// Decision is the output of the reinforcement gate.
type Decision struct {
	Path         Path
	Reason       string
	QualityScore float64
	Candidates   int // candidates offered to the gate
}

// Reinforce reports whether the decision strengthens every constraint.
func (d Decision) Reinforce() bool {
	return d.Path == PathReinforce
}

// #endregion decision
