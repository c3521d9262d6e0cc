package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/critique"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/logging"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/signals"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// EnvPrefix prefixes every environment override, e.g. BUTTERFLY_GENERATOR_MODEL.
const EnvPrefix = "BUTTERFLY"

// #region types

// Config is the full controller configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        logging.Config   `mapstructure:"log"`
	Generator  GeneratorConfig  `mapstructure:"generator"`
	Session    SessionConfig    `mapstructure:"session"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Vocabulary VocabularyConfig `mapstructure:"vocabulary"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"` // empty allows any origin
}

type GeneratorConfig struct {
	Provider     string        `mapstructure:"provider"` // ollama, openai, grpc
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"` // per generator call
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type SessionConfig struct {
	MirrorLoopInterval    int `mapstructure:"mirror_loop_interval"`
	PromptConstraintLimit int `mapstructure:"prompt_constraint_limit"`
}

type JournalConfig struct {
	DSN string `mapstructure:"dsn"` // empty disables the journal
}

type BroadcastConfig struct {
	NATSURL string `mapstructure:"nats_url"` // empty disables NATS publishing
	Subject string `mapstructure:"subject"`
}

type VocabularyConfig struct {
	SelfAwarePhrases []string `mapstructure:"self_aware_phrases"`
	TriggerWords     []string `mapstructure:"trigger_words"`
	ActionableWords  []string `mapstructure:"actionable_words"`
	EmpathicWords    []string `mapstructure:"empathic_words"`
	CreativeWords    []string `mapstructure:"creative_words"`
}

// #endregion types

// #region defaults

// Default returns the stock configuration.
func Default() Config {
	sv := signals.DefaultVocabulary()
	cv := critique.DefaultVocabulary()
	tv := traits.DefaultVocabulary()
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			Mode:            "release",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
		Generator: GeneratorConfig{
			Provider:     codec.ProviderOllama,
			Model:        codec.DefaultModel,
			BaseURL:      codec.DefaultOllamaURL,
			Timeout:      120 * time.Second,
			RetryBackoff: time.Second,
		},
		Session: SessionConfig{
			MirrorLoopInterval:    3,
			PromptConstraintLimit: 10,
		},
		Broadcast: BroadcastConfig{Subject: "butterfly.turns"},
		Vocabulary: VocabularyConfig{
			SelfAwarePhrases: sv.SelfAwarePhrases,
			TriggerWords:     cv.TriggerWords,
			ActionableWords:  cv.ActionableWords,
			EmpathicWords:    tv.EmpathicWords,
			CreativeWords:    tv.CreativeWords,
		},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allow_origins", d.Server.AllowOrigins)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)

	v.SetDefault("generator.provider", d.Generator.Provider)
	v.SetDefault("generator.model", d.Generator.Model)
	v.SetDefault("generator.base_url", d.Generator.BaseURL)
	v.SetDefault("generator.api_key", d.Generator.APIKey)
	v.SetDefault("generator.timeout", d.Generator.Timeout)
	v.SetDefault("generator.max_retries", d.Generator.MaxRetries)
	v.SetDefault("generator.retry_backoff", d.Generator.RetryBackoff)

	v.SetDefault("session.mirror_loop_interval", d.Session.MirrorLoopInterval)
	v.SetDefault("session.prompt_constraint_limit", d.Session.PromptConstraintLimit)

	v.SetDefault("journal.dsn", d.Journal.DSN)

	v.SetDefault("broadcast.nats_url", d.Broadcast.NATSURL)
	v.SetDefault("broadcast.subject", d.Broadcast.Subject)

	v.SetDefault("vocabulary.self_aware_phrases", d.Vocabulary.SelfAwarePhrases)
	v.SetDefault("vocabulary.trigger_words", d.Vocabulary.TriggerWords)
	v.SetDefault("vocabulary.actionable_words", d.Vocabulary.ActionableWords)
	v.SetDefault("vocabulary.empathic_words", d.Vocabulary.EmpathicWords)
	v.SetDefault("vocabulary.creative_words", d.Vocabulary.CreativeWords)
}

// #endregion defaults

// #region load

// Load reads configuration from defaults, the optional YAML file at path, and
// BUTTERFLY_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without overriding
// variables already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// #endregion load

// #region validate

// Validate rejects configurations the controller cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Generator.Provider {
	case codec.ProviderOllama, codec.ProviderOpenAI, codec.ProviderGRPC:
	default:
		errs = append(errs, fmt.Errorf("generator.provider: unknown provider %q", c.Generator.Provider))
	}
	if c.Generator.Provider == codec.ProviderGRPC && c.Generator.BaseURL == "" {
		errs = append(errs, errors.New("generator.base_url: required for grpc provider"))
	}
	if c.Generator.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("generator.timeout: must be positive, got %s", c.Generator.Timeout))
	}
	if c.Generator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("generator.max_retries: must not be negative, got %d", c.Generator.MaxRetries))
	}
	if c.Session.MirrorLoopInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.mirror_loop_interval: must be positive, got %d", c.Session.MirrorLoopInterval))
	}
	if c.Session.PromptConstraintLimit <= 0 {
		errs = append(errs, fmt.Errorf("session.prompt_constraint_limit: must be positive, got %d", c.Session.PromptConstraintLimit))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode: unknown mode %q", c.Server.Mode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// #endregion validate

// #region adapters

// Codec returns the generator backend settings.
func (g GeneratorConfig) Codec() codec.Config {
	return codec.Config{
		Provider:     g.Provider,
		Model:        g.Model,
		BaseURL:      g.BaseURL,
		APIKey:       g.APIKey,
		MaxRetries:   g.MaxRetries,
		RetryBackoff: g.RetryBackoff,
	}
}

// Signals returns the evaluator vocabulary.
func (v VocabularyConfig) Signals() signals.Vocabulary {
	return signals.Vocabulary{SelfAwarePhrases: v.SelfAwarePhrases}
}

// Critique returns the extractor vocabulary.
func (v VocabularyConfig) Critique() critique.Vocabulary {
	return critique.Vocabulary{TriggerWords: v.TriggerWords, ActionableWords: v.ActionableWords}
}

// Traits returns the trait keyword vocabulary.
func (v VocabularyConfig) Traits() traits.Vocabulary {
	return traits.Vocabulary{EmpathicWords: v.EmpathicWords, CreativeWords: v.CreativeWords}
}

// #endregion adapters
