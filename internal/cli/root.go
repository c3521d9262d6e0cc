// Package cli implements the butterfly controller commands.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/config"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/logging"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
)

var (
	configPath string
	envFile    string
	dbOverride string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "butterfly",
	Short:         "Adaptive persona controller",
	Long:          "Runs an LLM persona that scores its own replies, learns behavioral constraints and evolves personality traits.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbOverride != "" {
			loaded.Journal.DSN = dbOverride
		}
		cfg = loaded
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: defaults + $BUTTERFLY_* env)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config (skipped if missing)")
	RootCmd.PersistentFlags().StringVarP(&dbOverride, "db", "d", "", "journal database path (overrides journal.dsn)")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #region wiring

func newLogger() (*zap.Logger, func(), error) {
	logger, sync, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, sync, nil
}

func newGenerator() (codec.Generator, func() error, error) {
	gen, closeGen, err := codec.New(cfg.Generator.Codec())
	if err != nil {
		return nil, nil, fmt.Errorf("init generator: %w", err)
	}
	return gen, closeGen, nil
}

func sessionConfig() orchestrator.SessionConfig {
	sc := orchestrator.DefaultSessionConfig()
	sc.MirrorLoopInterval = cfg.Session.MirrorLoopInterval
	sc.PromptConstraintLimit = cfg.Session.PromptConstraintLimit
	sc.GenerateTimeout = cfg.Generator.Timeout
	sc.SignalVocabulary = cfg.Vocabulary.Signals()
	sc.CritiqueVocabulary = cfg.Vocabulary.Critique()
	sc.TraitVocabulary = cfg.Vocabulary.Traits()
	return sc
}

// openJournal opens the configured journal. It returns nil when the journal is disabled.
func openJournal() (*journal.Store, error) {
	if cfg.Journal.DSN == "" {
		return nil, nil
	}
	store, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Journal.DSN, err)
	}
	return store, nil
}

func requireJournal() (*journal.Store, error) {
	store, err := openJournal()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("no journal configured: pass --db or set journal.dsn")
	}
	return store, nil
}

// #endregion wiring
