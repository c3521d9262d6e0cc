package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/replay"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a journaled session as a replay fixture",
		RunE:  runExport,
	}
	cmd.Flags().String("session", "", "journaled session ID (required)")
	cmd.Flags().StringP("out", "o", "", "output path; .yaml/.yml writes YAML, anything else JSON (required)")
	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	outPath, _ := cmd.Flags().GetString("out")
	if sessionID == "" || outPath == "" {
		return errors.New("usage: butterfly export --db path/to/journal.db --session <id> --out fixture.json")
	}

	f, err := fixtureFromJournal(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	if err := f.Save(outPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d turns to %s (%s)\n", len(f.Turns), outPath, replay.FormatFor(outPath))
	return nil
}
