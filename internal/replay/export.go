package replay

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
)

// #region export

// FromJournal builds a fixture from the journal rows of one session, oldest first. Committed
// turns become fixture turns whose expectations are the recorded outcome. Aborted turns and
// feedback rows are skipped, so a session that received feedback may not replay cleanly.
func FromJournal(entries []journal.Entry, mirrorInterval int) (*Fixture, error) {
	if mirrorInterval <= 0 {
		mirrorInterval = 3
	}
	f := &Fixture{Config: FixtureConfig{MirrorLoopInterval: mirrorInterval}}

	var sessionID string
	for _, e := range entries {
		switch e.Decision {
		case journal.DecisionAborted, journal.DecisionFeedback:
			continue
		}
		if sessionID == "" {
			sessionID = e.SessionID
		}

		var updates []constraint.UpdateAction
		if e.UpdatesJSON != "" {
			if err := json.Unmarshal([]byte(e.UpdatesJSON), &updates); err != nil {
				return nil, fmt.Errorf("turn %s: decode updates: %w", e.TurnID, err)
			}
		}
		actions := make([]string, len(updates))
		for i, u := range updates {
			actions[i] = string(u.Action)
		}

		score := e.QualityScore
		mirror := e.MessageCount%mirrorInterval == 0
		f.Turns = append(f.Turns, FixtureTurn{
			Message:        e.UserMessage,
			Response:       e.Response,
			SelfEvaluation: e.SelfEvaluation,
			Expect: &Expectation{
				Decision:     string(e.Decision),
				QualityScore: &score,
				MirrorLoop:   &mirror,
				Actions:      actions,
			},
		})
	}
	f.Description = fmt.Sprintf("exported from session %s (%d turns)", sessionID, len(f.Turns))
	return f, nil
}

// #endregion export
