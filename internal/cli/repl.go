package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Chat with the controller from the terminal",
		Long: "Reads one message per line. Commands: :status, :constraints, :good <rule>, :bad <rule>, :reset, quit.\n" +
			"The journal (--db) records every turn when configured.",
		RunE: runREPL,
	}
	cmd.Flags().String("session", orchestrator.DefaultSessionName, "session name")
	RootCmd.AddCommand(cmd)
}

func runREPL(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("session")

	logger, syncLog, err := newLogger()
	if err != nil {
		return err
	}
	defer syncLog()

	gen, closeGen, err := newGenerator()
	if err != nil {
		return err
	}
	defer closeGen()

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	store, err := openJournal()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, orchestrator.WithJournal(store))
	}

	sessions := orchestrator.NewManager(gen, sessionConfig(), opts...)
	fmt.Fprintf(cmd.OutOrStdout(), "Butterfly controller ready. Model: %s | Session: %s\n", sessions.Model(), name)
	fmt.Fprintln(cmd.OutOrStdout(), "Type a message (or 'quit' to exit):")
	return repl(cmd.Context(), sessions, name, cmd.InOrStdin(), cmd.OutOrStdout())
}

// repl runs the read-eval loop until EOF or quit. Turn failures are printed and the loop
// continues.
func repl(ctx context.Context, sessions *orchestrator.Manager, name string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		session := sessions.Get(name)
		if strings.HasPrefix(line, ":") {
			replCommand(ctx, sessions, session, line, out)
			continue
		}

		rec, err := session.ProcessTurn(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", rec.Response)
		fmt.Fprintf(out, "[turn %d] decision=%s quality=%.2f constraints=%d dominant=%s\n",
			rec.MessageCount, rec.Decision, rec.QualitySignals.QualityScore, len(rec.Constraints), rec.DominantTrait)
		for _, u := range rec.ConstraintUpdates {
			fmt.Fprintf(out, "  %s: %s (%.2f)\n", u.Action, u.Constraint, u.Strength)
		}
		if rec.MirrorLoop {
			fmt.Fprintln(out, "[mirror loop]")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func replCommand(ctx context.Context, sessions *orchestrator.Manager, session *orchestrator.Session, line string, out io.Writer) {
	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch verb {
	case ":status":
		printJSON(out, session.Status())
	case ":constraints":
		for i, c := range session.Constraints() {
			fmt.Fprintf(out, "%d. %s (strength: %.2f, successes: %d, failures: %d)\n", i+1, c.Rule, c.Strength, c.Successes, c.Failures)
		}
	case ":good", ":bad":
		if arg == "" {
			fmt.Fprintf(out, "usage: %s <rule>\n", verb)
			return
		}
		u, err := session.Feedback(ctx, arg, verb == ":good")
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "%s: %s (%.2f)\n", u.Action, u.Constraint, u.Strength)
	case ":reset":
		fresh := sessions.Reset(ctx, session.Name())
		fmt.Fprintf(out, "session reset: %s\n", fresh.ID())
	default:
		fmt.Fprintf(out, "unknown command %s\n", verb)
	}
}

func printJSON(out io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(b))
}
