// Package config handles configuration loading and validation for hfgo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full invocation surface for a fuzzing run: the
// target, its Engine limits, and the observability surface (report
// file, webhook, dashboard, status screen).
type Config struct {
	Target TargetConfig `yaml:"target"`
	Engine EngineConfig `yaml:"engine"`
	Output OutputConfig `yaml:"output"`
}

// TargetConfig describes the fuzzed binary and its input.
type TargetConfig struct {
	CmdLine  []string `yaml:"cmdline"`
	InputDir string   `yaml:"input_dir"`
	WorkDir  string   `yaml:"work_dir"`

	FuzzStdin    bool `yaml:"fuzz_stdin"`
	ClearEnv     bool `yaml:"clear_env"`
	NullifyStdio bool `yaml:"nullify_stdio"`
	Persistent   bool `yaml:"persistent"`

	Dictionary      string `yaml:"dictionary"`
	ExternalMutator string `yaml:"external_mutator"`
	Extension       string `yaml:"extension"`
}

// EngineConfig mirrors internal/engine.Config's tunables.
type EngineConfig struct {
	BackendKind      string        `yaml:"backend"` // hwcounter | softbitmap | sancov | posix
	ThreadsMax       int           `yaml:"threads_max"`
	MutationsMax     int64         `yaml:"mutations_max"`
	MaxFileSz        int64         `yaml:"max_file_size"`
	TimeoutSoft      time.Duration `yaml:"timeout_soft"`
	TimeoutHard      time.Duration `yaml:"timeout_hard"`
	ASLimitBytes     uint64        `yaml:"as_limit_bytes"`
	OrigFlipRate     float64       `yaml:"flip_rate"`
	ForksPerSecond   float64       `yaml:"forks_per_second"`
	SaveUnique       bool          `yaml:"save_unique"`
	UseVerifier      bool          `yaml:"use_verifier"`
	NearDupThreshold int           `yaml:"near_dup_threshold"`
	BlacklistFile    string        `yaml:"blacklist_file"`
}

// OutputConfig configures the ReportSink and the observer surfaces.
type OutputConfig struct {
	ReportFile       string `yaml:"report_file"`
	ReportWebhookURL string `yaml:"report_webhook_url"`
	UseScreen        bool   `yaml:"use_screen"`
	DashboardAddr    string `yaml:"dashboard_addr"`
	ResumeFrom       string `yaml:"resume_from"`
}

// DefaultConfig returns the built-in defaults, matching honggfuzz's own
// command-line defaults where one exists.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Extension: ".fuzz",
		},
		Engine: EngineConfig{
			BackendKind:    "posix",
			ThreadsMax:     4,
			MaxFileSz:      1024 * 1024,
			TimeoutSoft:    3 * time.Second,
			TimeoutHard:    5 * time.Second,
			OrigFlipRate:   0.001,
			ForksPerSecond: 0, // unthrottled
			SaveUnique:     true,
		},
		Output: OutputConfig{
			ReportFile: "report.jsonl",
			UseScreen:  true,
		},
	}
}

// Load reads and parses a YAML config file, applying defaults to any
// field the file leaves unset.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", absPath, err)
	}
	return Parse(data)
}

// Parse parses config YAML, merging over DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invocation surface for the combinations the
// Engine cannot itself recover from.
func (c *Config) Validate() error {
	if len(c.Target.CmdLine) == 0 {
		return fmt.Errorf("config: target.cmdline must name the fuzzed binary")
	}
	if c.Engine.ThreadsMax <= 0 {
		return fmt.Errorf("config: engine.threads_max must be positive")
	}
	if c.Engine.TimeoutHard < c.Engine.TimeoutSoft {
		return fmt.Errorf("config: engine.timeout_hard must be >= timeout_soft")
	}
	return nil
}
