package replay

// #region imports
import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/gate"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// #endregion

// #region types

// Result is the outcome of replaying one fixture turn.
type Result struct {
	Turn       int // 1-based
	Message    string
	Record     *orchestrator.TurnRecord // nil when Err is set
	Err        error
	Mismatches []string
}

// OK reports whether the turn committed and matched every expectation.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Mismatches) == 0
}

// Summary aggregates a replay run.
type Summary struct {
	TotalTurns      int           `json:"total_turns"`
	Reinforced      int           `json:"reinforced"`
	Extracted       int           `json:"extracted"`
	NoOps           int           `json:"no_ops"`
	Failed          int           `json:"failed"`
	Mismatched      int           `json:"mismatched"`
	MessageCount    int           `json:"message_count"`
	ConstraintCount int           `json:"constraint_count"`
	FinalTraits     traits.Vector `json:"final_traits"`
}

// Passed reports whether every turn committed and matched.
func (s Summary) Passed() bool {
	return s.Failed == 0 && s.Mismatched == 0
}

// #endregion types

// #region replay

// Replay runs every fixture turn through a fresh session whose generator returns the
// recorded response and self-evaluation. The session is returned for inspection.
func Replay(ctx context.Context, f *Fixture, opts ...orchestrator.Option) ([]Result, *orchestrator.Session) {
	gen := codec.NewScripted()
	for _, t := range f.Turns {
		gen.Push(codec.Reply{Text: t.Response}, codec.Reply{Text: t.SelfEvaluation})
	}
	session := orchestrator.NewSession("replay", gen, f.Config.SessionConfig(), opts...)

	results := make([]Result, 0, len(f.Turns))
	for i, t := range f.Turns {
		res := Result{Turn: i + 1, Message: t.Message}
		rec, err := session.ProcessTurn(ctx, t.Message)
		if err != nil {
			res.Err = err
			results = append(results, res)
			// a failed turn would misalign the remaining scripted replies
			break
		}
		res.Record = rec
		res.Mismatches = check(t.Expect, rec)
		results = append(results, res)
	}
	return results, session
}

// check compares a committed turn against exp and describes each difference.
func check(exp *Expectation, rec *orchestrator.TurnRecord) []string {
	if exp == nil {
		return nil
	}
	var out []string
	if exp.Decision != "" && gate.Path(exp.Decision) != rec.Decision {
		out = append(out, fmt.Sprintf("decision: want %s, got %s", exp.Decision, rec.Decision))
	}
	if exp.QualityScore != nil && math.Abs(*exp.QualityScore-rec.QualitySignals.QualityScore) > 1e-9 {
		out = append(out, fmt.Sprintf("quality_score: want %.2f, got %.2f", *exp.QualityScore, rec.QualitySignals.QualityScore))
	}
	if exp.ConstraintCount != nil && *exp.ConstraintCount != len(rec.Constraints) {
		out = append(out, fmt.Sprintf("constraint_count: want %d, got %d", *exp.ConstraintCount, len(rec.Constraints)))
	}
	if exp.MirrorLoop != nil && *exp.MirrorLoop != rec.MirrorLoop {
		out = append(out, fmt.Sprintf("mirror_loop: want %t, got %t", *exp.MirrorLoop, rec.MirrorLoop))
	}
	if exp.DominantTrait != "" && exp.DominantTrait != rec.DominantTrait {
		out = append(out, fmt.Sprintf("dominant_trait: want %s, got %s", exp.DominantTrait, rec.DominantTrait))
	}
	if exp.Actions != nil {
		got := make([]string, len(rec.ConstraintUpdates))
		for i, u := range rec.ConstraintUpdates {
			got[i] = string(u.Action)
		}
		if !slices.Equal(exp.Actions, got) {
			out = append(out, fmt.Sprintf("actions: want %v, got %v", exp.Actions, got))
		}
	}
	return out
}

// Summarize computes aggregate stats from replay results and the final session.
func Summarize(results []Result, session *orchestrator.Session) Summary {
	st := session.Status()
	s := Summary{
		TotalTurns:      len(results),
		MessageCount:    st.MessageCount,
		ConstraintCount: st.ConstraintCount,
		FinalTraits:     st.Personality,
	}
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			continue
		}
		if len(r.Mismatches) > 0 {
			s.Mismatched++
		}
		switch r.Record.Decision {
		case gate.PathReinforce:
			s.Reinforced++
		case gate.PathExtract:
			s.Extracted++
		case gate.PathNoOp:
			s.NoOps++
		}
	}
	return s
}

// #endregion replay
