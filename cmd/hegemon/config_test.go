package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("missing file is empty", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.MaxTokens != nil || cfg.ModelsDir != "" {
			t.Fatalf("expected empty config, got %+v", cfg)
		}
	})

	t.Run("parses fields", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := "models_dir: /models\nmax_tokens: 64\ntemperature: 0\nlog_format: json\nserver_address: 0.0.0.0:9000\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.ModelsDir != "/models" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if cfg.MaxTokens == nil || *cfg.MaxTokens != 64 {
			t.Fatalf("max_tokens = %v", cfg.MaxTokens)
		}
		if cfg.Temperature == nil || *cfg.Temperature != 0 {
			t.Fatalf("explicit zero temperature lost: %v", cfg.Temperature)
		}
	})

	t.Run("malformed file errors", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("max_tokens: [nope"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestApplyConfigRespectsFlags(t *testing.T) {
	t.Parallel()

	maxTokens, topK := int64(64), int64(3)
	temp := 0.25
	ctxSize := int64(512)
	cfg := Config{
		ModelsDir:   "/models",
		MaxTokens:   &maxTokens,
		TopK:        &topK,
		Temperature: &temp,
		ContextSize: &ctxSize,
		StreamMode:  "quiet",
	}

	var (
		m modelFlags
		s samplingFlags
	)
	cmd := &cli.Command{
		Name:  "t",
		Flags: append(m.flags(), s.flags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyModelConfig(c, cfg, &m)
			applySamplingConfig(c, cfg, &s)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"t", "--top-k", "7", "--ctx-size", "4096"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.topK != 7 {
		t.Fatalf("flag should win: topK = %d", s.topK)
	}
	if m.ctxSize != 4096 {
		t.Fatalf("flag should win: ctxSize = %d", m.ctxSize)
	}
	if s.maxTokens != 64 || s.temperature != 0.25 || s.streamMode != "quiet" {
		t.Fatalf("config not applied: %+v", s)
	}
	if m.modelsPath != "/models" {
		t.Fatalf("modelsPath = %q", m.modelsPath)
	}

	p := s.params()
	if p.MaxTokens != 64 || p.TopK != 7 || p.Seed != nil {
		t.Fatalf("params = %+v", p)
	}
}

func TestSamplingSeed(t *testing.T) {
	t.Parallel()
	s := samplingFlags{seed: 42}
	p := s.params()
	if p.Seed == nil || *p.Seed != 42 {
		t.Fatalf("Seed = %v", p.Seed)
	}
}

func TestConfigContext(t *testing.T) {
	t.Parallel()
	if got := configFrom(context.Background()); got.ModelsDir != "" {
		t.Fatalf("empty context gave %+v", got)
	}
	ctx := withConfig(context.Background(), Config{ModelsDir: "/m"})
	if got := configFrom(ctx); got.ModelsDir != "/m" {
		t.Fatalf("configFrom = %+v", got)
	}
}
