package replay

// #region imports
import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
)

// #endregion

// #region fixture-types

// Fixture is a recorded conversation with the expected outcome of each turn.
type Fixture struct {
	Description string        `json:"description" yaml:"description"`
	Config      FixtureConfig `json:"config" yaml:"config"`
	Turns       []FixtureTurn `json:"turns" yaml:"turns"`
}

// FixtureConfig overrides session tuning for a replay run. Zero values keep the defaults.
type FixtureConfig struct {
	MirrorLoopInterval    int `json:"mirror_loop_interval,omitempty" yaml:"mirror_loop_interval,omitempty"`
	PromptConstraintLimit int `json:"prompt_constraint_limit,omitempty" yaml:"prompt_constraint_limit,omitempty"`
}

// FixtureTurn is one recorded exchange. Response and SelfEvaluation are what the generator
// returned for the two calls of the turn.
type FixtureTurn struct {
	Message        string       `json:"message" yaml:"message"`
	Response       string       `json:"response" yaml:"response"`
	SelfEvaluation string       `json:"self_evaluation" yaml:"self_evaluation"`
	Expect         *Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// Expectation lists the checks for one turn. Unset fields are not checked.
type Expectation struct {
	Decision        string   `json:"decision,omitempty" yaml:"decision,omitempty"`
	QualityScore    *float64 `json:"quality_score,omitempty" yaml:"quality_score,omitempty"`
	ConstraintCount *int     `json:"constraint_count,omitempty" yaml:"constraint_count,omitempty"`
	MirrorLoop      *bool    `json:"mirror_loop,omitempty" yaml:"mirror_loop,omitempty"`
	DominantTrait   string   `json:"dominant_trait,omitempty" yaml:"dominant_trait,omitempty"`
	Actions         []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// #endregion fixture-types

// #region format

// Format is a fixture encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension. Anything but .yaml/.yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// #endregion format

// #region fixture-loader

// LoadFixture reads and parses a fixture file. The encoding follows the extension.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f, err := ParseFixture(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes a fixture and checks that every turn has a message.
func ParseFixture(data []byte, format Format) (*Fixture, error) {
	var f Fixture
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, err
	}
	for i, t := range f.Turns {
		if strings.TrimSpace(t.Message) == "" {
			return nil, fmt.Errorf("turn %d: empty message", i+1)
		}
	}
	return &f, nil
}

// Encode serializes the fixture.
func (f *Fixture) Encode(format Format) ([]byte, error) {
	if format == FormatYAML {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return nil, fmt.Errorf("encode fixture: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode fixture: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode fixture: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes the fixture to path in the encoding its extension implies.
func (f *Fixture) Save(path string) error {
	data, err := f.Encode(FormatFor(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// SessionConfig applies the fixture overrides to the default session tuning.
func (fc FixtureConfig) SessionConfig() orchestrator.SessionConfig {
	cfg := orchestrator.DefaultSessionConfig()
	if fc.MirrorLoopInterval > 0 {
		cfg.MirrorLoopInterval = fc.MirrorLoopInterval
	}
	if fc.PromptConstraintLimit > 0 {
		cfg.PromptConstraintLimit = fc.PromptConstraintLimit
	}
	// scripted replies return immediately
	cfg.GenerateTimeout = 0
	return cfg
}

// #endregion fixture-loader
