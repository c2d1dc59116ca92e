// Package config loads and validates the codecortex project configuration,
// following the teacher's .cie/project.yaml convention: a single YAML file
// under the workspace's state directory, decoded with unknown keys
// rejected and validated section by section.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultStateDirName is used when Config.StateDirName is empty.
const DefaultStateDirName = ".codecortex"

// EmbeddingModel identifies the model that produced a set of vectors —
// spec.md's "model identity (name + dim + revision)".
type EmbeddingModel struct {
	Name     string `yaml:"name"`
	Dim      int    `yaml:"dim"`
	Revision string `yaml:"revision,omitempty"`
}

// RetryConfig configures the Embedding Service's bounded retry policy.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
	Jitter      bool `yaml:"jitter"`
}

// CachePolicy configures the Query Pipeline's response cache.
type CachePolicy struct {
	Read       bool `yaml:"read"`
	Write      bool `yaml:"write"`
	MaxEntries int  `yaml:"max_entries"`
	TTLMs      int  `yaml:"ttl_ms"`
}

// IngestionConfig configures the Ingestion Pipeline beyond what spec.md's
// external-interfaces surface names directly — the checkpoint/call-resolver
// supplement from SPEC_FULL.md §4 lives here.
type IngestionConfig struct {
	ParserMode              string `yaml:"parser_mode"`
	CheckpointEnabled       bool   `yaml:"checkpoint_enabled"`
	HealRetriesParseErrors  bool   `yaml:"heal_retries_parse_errors"`
}

// Config is the root project configuration, mirroring spec.md §6's
// "Configuration surface (recognized options)" field for field.
type Config struct {
	WorkspaceRoot          string          `yaml:"workspace_root"`
	StateDirName           string          `yaml:"state_dir_name"`
	EmbeddingModel         EmbeddingModel  `yaml:"embedding_model"`
	EmbeddingBatchMaxItems int             `yaml:"embedding_batch_max_items"`
	EmbeddingBatchMaxBytes int             `yaml:"embedding_batch_max_bytes"`
	EmbeddingRetry         RetryConfig     `yaml:"embedding_retry"`
	ParsePoolSize          int             `yaml:"parse_pool_size"`
	EmbedPoolSize          int             `yaml:"embed_pool_size"`
	BootstrapTimeoutMs     int             `yaml:"bootstrap_timeout_ms"`
	QueryDefaultTimeoutMs  int             `yaml:"query_default_timeout_ms"`
	CachePolicy            CachePolicy     `yaml:"cache_policy"`
	Exclusions             []string        `yaml:"exclusions"`
	MaxFileBytes           int64           `yaml:"max_file_bytes"`
	SynthesisDisabled      bool            `yaml:"synthesis_disabled"`
	Ingestion              IngestionConfig `yaml:"ingestion"`
}

// Default returns a Config populated with the defaults the teacher and
// spec.md's boundary behaviors assume (e.g. max_file_bytes governs the
// too_large skip reason).
func Default() Config {
	return Config{
		StateDirName:           DefaultStateDirName,
		EmbeddingModel:         EmbeddingModel{Name: "nomic-embed-text", Dim: 768},
		EmbeddingBatchMaxItems: 1000,
		EmbeddingBatchMaxBytes: 2 * 1024 * 1024,
		EmbeddingRetry:         RetryConfig{MaxAttempts: 3, BaseDelayMs: 200, MaxDelayMs: 2000, Jitter: true},
		ParsePoolSize:          4,
		EmbedPoolSize:          2,
		BootstrapTimeoutMs:     5 * 60 * 1000,
		QueryDefaultTimeoutMs:  10 * 1000,
		CachePolicy:            CachePolicy{Read: true, Write: true, MaxEntries: 1000, TTLMs: 5 * 60 * 1000},
		Exclusions:             []string{".git/**", "node_modules/**", "vendor/**", "dist/**", "build/**", "**/*.min.js"},
		MaxFileBytes:           1024 * 1024,
		Ingestion:              IngestionConfig{ParserMode: "auto", CheckpointEnabled: true},
	}
}

// Path returns the project config file path for a workspace root.
func Path(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, DefaultStateDirName, "project.yaml")
}

// Load reads and validates the project configuration at path, merging over
// Default(). Unknown keys in the YAML are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks each nested section, aggregating all problems found
// rather than stopping at the first — mirrors the nested-Validate()
// style used for per-concern config structs in the pack.
func (c *Config) Validate() error {
	var problems []string

	if c.EmbeddingModel.Dim <= 0 {
		problems = append(problems, "embedding_model.dim must be positive")
	}
	if c.EmbeddingBatchMaxItems <= 0 {
		problems = append(problems, "embedding_batch_max_items must be positive")
	}
	if c.EmbeddingBatchMaxBytes <= 0 {
		problems = append(problems, "embedding_batch_max_bytes must be positive")
	}
	if c.EmbeddingRetry.MaxAttempts < 0 {
		problems = append(problems, "embedding_retry.max_attempts must be non-negative")
	}
	if c.ParsePoolSize <= 0 {
		problems = append(problems, "parse_pool_size must be positive")
	}
	if c.EmbedPoolSize <= 0 {
		problems = append(problems, "embed_pool_size must be positive")
	}
	if c.MaxFileBytes <= 0 {
		problems = append(problems, "max_file_bytes must be positive")
	}
	switch c.Ingestion.ParserMode {
	case "", "auto", "treesitter", "simplified":
	default:
		problems = append(problems, fmt.Sprintf("ingestion.parser_mode %q is not one of auto|treesitter|simplified", c.Ingestion.ParserMode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %v", problems)
	}
	return nil
}
