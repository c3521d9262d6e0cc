package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/replay"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a fixture, or a journaled session, and check every turn",
		Long: "Fixture mode: replay --fixture path/to/fixture.{json,yaml}\n" +
			"Journal mode: replay --db path/to/journal.db --session <session-id>",
		RunE: runReplay,
	}
	cmd.Flags().String("fixture", "", "fixture path (JSON or YAML)")
	cmd.Flags().String("session", "", "journaled session ID to replay")
	cmd.Flags().Bool("json", false, "output results as JSON")
	RootCmd.AddCommand(cmd)
}

// errReplayFailed is returned when any turn failed or mismatched.
var errReplayFailed = errors.New("replay did not match")

func runReplay(cmd *cobra.Command, args []string) error {
	fixturePath, _ := cmd.Flags().GetString("fixture")
	sessionID, _ := cmd.Flags().GetString("session")
	jsonOut, _ := cmd.Flags().GetBool("json")

	if (fixturePath == "") == (sessionID == "") {
		return errors.New("exactly one of --fixture or --session is required")
	}

	var f *replay.Fixture
	var err error
	if fixturePath != "" {
		f, err = replay.LoadFixture(fixturePath)
	} else {
		f, err = fixtureFromJournal(cmd.Context(), sessionID)
	}
	if err != nil {
		return err
	}
	return runFixture(cmd.Context(), f, jsonOut, cmd.OutOrStdout())
}

func fixtureFromJournal(ctx context.Context, sessionID string) (*replay.Fixture, error) {
	store, err := requireJournal()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	entries, err := store.ListSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no journal entries for session %s", sessionID)
	}
	return replay.FromJournal(entries, cfg.Session.MirrorLoopInterval)
}

type replayRow struct {
	Turn       int      `json:"turn"`
	Message    string   `json:"message"`
	Decision   string   `json:"decision,omitempty"`
	Quality    float64  `json:"quality_score"`
	Error      string   `json:"error,omitempty"`
	Mismatches []string `json:"mismatches,omitempty"`
}

func runFixture(ctx context.Context, f *replay.Fixture, jsonOut bool, out io.Writer) error {
	results, session := replay.Replay(ctx, f)
	summary := replay.Summarize(results, session)

	rows := make([]replayRow, len(results))
	for i, r := range results {
		row := replayRow{Turn: r.Turn, Message: r.Message, Mismatches: r.Mismatches}
		if r.Err != nil {
			row.Error = r.Err.Error()
		} else {
			row.Decision = string(r.Record.Decision)
			row.Quality = r.Record.QualitySignals.QualityScore
		}
		rows[i] = row
	}

	if jsonOut {
		printJSON(out, map[string]any{"description": f.Description, "results": rows, "summary": summary})
	} else {
		fmt.Fprintf(out, "Fixture: %s\n\n", f.Description)
		fmt.Fprintf(out, "%-4s  %-10s  %7s  %-6s  %s\n", "Turn", "Decision", "Quality", "Match", "Message")
		fmt.Fprintf(out, "%-4s+-%-10s+-%7s+-%-6s+-%s\n", "----", "----------", "-------", "------", "--------------------")
		for _, row := range rows {
			match := "ok"
			if row.Error != "" || len(row.Mismatches) > 0 {
				match = "FAIL"
			}
			fmt.Fprintf(out, "%-4d  %-10s  %7.2f  %-6s  %s\n", row.Turn, row.Decision, row.Quality, match, truncate(row.Message, 40))
			if row.Error != "" {
				fmt.Fprintf(out, "      error: %s\n", row.Error)
			}
			for _, m := range row.Mismatches {
				fmt.Fprintf(out, "      %s\n", m)
			}
		}
		fmt.Fprintf(out, "\nTurns: %d | Reinforced: %d | Extracted: %d | No-op: %d | Failed: %d | Mismatched: %d\n",
			summary.TotalTurns, summary.Reinforced, summary.Extracted, summary.NoOps, summary.Failed, summary.Mismatched)
		fmt.Fprintf(out, "Final: %d constraints, dominant trait %s\n", summary.ConstraintCount, summary.FinalTraits.Dominant())
	}

	if !summary.Passed() {
		return errReplayFailed
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
