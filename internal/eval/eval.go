package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// #region eval-harness
// EvalHarness runs lightweight post-commit validation on session state.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates a committed snapshot. Informational: callers log failures and keep the state.
func (h *EvalHarness) Run(snap Snapshot) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Strength bounds
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range snap.Constraints {
		lo = math.Min(lo, c.Strength)
		hi = math.Max(hi, c.Strength)
	}
	if len(snap.Constraints) == 0 {
		lo, hi = h.config.MaxStrength, h.config.MinStrength
	}
	check("strength_min", lo, lo >= h.config.MinStrength,
		fmt.Sprintf("strength %.4f below %.4f", lo, h.config.MinStrength))
	check("strength_max", hi, hi <= h.config.MaxStrength,
		fmt.Sprintf("strength %.4f exceeds %.4f", hi, h.config.MaxStrength))

	// 2. Pruned: nothing at or below the threshold remains
	weak := 0
	for _, c := range snap.Constraints {
		if c.Strength <= h.config.PruneThreshold {
			weak++
		}
	}
	check("unpruned_constraints", float64(weak), weak == 0,
		fmt.Sprintf("%d constraints at or below %.2f survived prune", weak, h.config.PruneThreshold))

	// 3. Trait bounds
	for _, tr := range traits.All() {
		v := snap.Traits.Get(tr)
		check("trait_"+tr.String(), v, v >= 0 && v <= 1,
			fmt.Sprintf("trait %s %.4f outside [0,1]", tr, v))
	}

	// 4. Mirror flag agrees with the counter
	want := h.config.MirrorInterval > 0 && snap.MessageCount%h.config.MirrorInterval == 0
	check("mirror_loop", float64(snap.MessageCount), snap.MirrorLoop == want,
		fmt.Sprintf("mirror flag %v at count %d, want %v", snap.MirrorLoop, snap.MessageCount, want))

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// Failed returns the names of the failing metrics.
func (r EvalResult) Failed() []string {
	var out []string
	for _, m := range r.Metrics {
		if !m.Pass {
			out = append(out, m.Name)
		}
	}
	return out
}

// #endregion eval-harness
