package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is ~/.config/hegemon/config.yaml. Pointer fields distinguish "not
// set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`
	Backend   string `yaml:"backend"`

	// Load defaults
	ContextSize *int64 `yaml:"context_size"`
	GPULayers   *int64 `yaml:"gpu_layers"`
	BatchSize   *int64 `yaml:"batch_size"`

	// Sampling defaults
	MaxTokens     *int64   `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	Seed          *int64   `yaml:"seed"`

	// Output
	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`

	// Vault
	VaultDir string `yaml:"vault_dir"`
}

// envConfigPath overrides the config file location.
const envConfigPath = "HEGEMON_CONFIG"

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hegemon", "config.yaml")
}

// LoadConfig reads path. A missing file is an empty Config; a malformed one
// is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// isSet reports whether any of names was given on the command line.
func isSet(c *cli.Command, names ...string) bool {
	for _, n := range names {
		if c.IsSet(n) {
			return true
		}
	}
	return false
}

// applyModelConfig fills model flags from cfg unless they were set.
func applyModelConfig(c *cli.Command, cfg Config, m *modelFlags) {
	if cfg.ModelsDir != "" && !isSet(c, "models-path") {
		m.modelsPath = cfg.ModelsDir
	}
	if cfg.Backend != "" && !isSet(c, "backend") {
		m.backend = cfg.Backend
	}
	if cfg.ContextSize != nil && !isSet(c, "ctx-size") {
		m.ctxSize = *cfg.ContextSize
	}
	if cfg.GPULayers != nil && !isSet(c, "gpu-layers") {
		m.gpuLayers = *cfg.GPULayers
	}
	if cfg.BatchSize != nil && !isSet(c, "batch-size") {
		m.batchSize = *cfg.BatchSize
	}
}

// applySamplingConfig fills sampling flags from cfg unless they were set.
func applySamplingConfig(c *cli.Command, cfg Config, s *samplingFlags) {
	if cfg.MaxTokens != nil && !isSet(c, "max-tokens") {
		s.maxTokens = *cfg.MaxTokens
	}
	if cfg.Temperature != nil && !isSet(c, "temperature") {
		s.temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !isSet(c, "top-k") {
		s.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !isSet(c, "top-p") {
		s.topP = *cfg.TopP
	}
	if cfg.RepeatPenalty != nil && !isSet(c, "repeat-penalty") {
		s.repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.Seed != nil && !isSet(c, "seed") {
		s.seed = *cfg.Seed
	}
	if cfg.StreamMode != "" && !isSet(c, "stream-mode") {
		s.streamMode = cfg.StreamMode
	}
}
