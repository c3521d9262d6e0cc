package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List journaled turns",
		RunE:  runInspect,
	}
	cmd.Flags().String("session", "", "only this session ID, oldest first")
	cmd.Flags().IntP("last", "l", 20, "show N most recent turns across sessions")
	cmd.Flags().Bool("sessions", false, "list journaled session IDs")
	cmd.Flags().Bool("json", false, "output as JSON instead of a table")
	RootCmd.AddCommand(cmd)
}

type inspectRow struct {
	TurnID       string  `json:"turn_id"`
	SessionID    string  `json:"session_id"`
	MessageCount int     `json:"message_count"`
	Decision     string  `json:"decision"`
	Quality      float64 `json:"quality_score"`
	Reason       string  `json:"reason,omitempty"`
	Message      string  `json:"user_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	last, _ := cmd.Flags().GetInt("last")
	listSessions, _ := cmd.Flags().GetBool("sessions")
	jsonOut, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	store, err := requireJournal()
	if err != nil {
		return err
	}
	defer store.Close()

	if listSessions {
		ids, err := store.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			printJSON(out, ids)
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	var entries []journal.Entry
	if sessionID != "" {
		entries, err = store.ListSession(cmd.Context(), sessionID)
	} else {
		entries, err = store.List(cmd.Context(), last)
		// newest first from the store; print chronologically
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no turns found")
		return nil
	}

	rows := make([]inspectRow, len(entries))
	for i, e := range entries {
		rows[i] = inspectRow{
			TurnID:       e.TurnID,
			SessionID:    e.SessionID,
			MessageCount: e.MessageCount,
			Decision:     string(e.Decision),
			Quality:      e.QualityScore,
			Reason:       e.Reason,
			Message:      e.UserMessage,
			CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		printJSON(out, rows)
		return nil
	}
	printInspectTable(out, rows)
	return nil
}

func printInspectTable(out io.Writer, rows []inspectRow) {
	fmt.Fprintf(out, "%-26s  %-8s  %5s  %-9s  %7s  %-20s  %s\n",
		"Turn", "Session", "Count", "Decision", "Quality", "Time", "Message")
	fmt.Fprintf(out, "%-26s+-%-8s+-%5s+-%-9s+-%7s+-%-20s+-%s\n",
		"--------------------------", "--------", "-----", "---------", "-------", "--------------------", "--------------------")
	for _, r := range rows {
		fmt.Fprintf(out, "%-26s  %-8s  %5d  %-9s  %7.2f  %-20s  %s\n",
			r.TurnID, truncate(r.SessionID, 8), r.MessageCount, r.Decision, r.Quality, r.CreatedAt, truncate(r.Message, 40))
	}
}
