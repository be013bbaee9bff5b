package main

import (
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/session"
)

type logFlags struct {
	level  string
	format string
	debug  bool
}

func (l *logFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &l.level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &l.format,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "shorthand for --log-level=debug",
			Destination: &l.debug,
		},
	}
}

func (l *logFlags) apply(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !isSet(c, "log-level") {
		l.level = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !isSet(c, "log-format") {
		l.format = cfg.LogFormat
	}
	if l.debug {
		l.level = "debug"
	}
}

func (l *logFlags) open(w io.Writer) (logger.Logger, error) {
	return logger.Open(w, l.format, l.level)
}

type modelFlags struct {
	model      string
	modelsPath string
	backend    string
	ctxSize    int64
	gpuLayers  int64
	batchSize  int64
	noMMap     bool
	mlock      bool
}

func (m *modelFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model file",
			Destination: &m.model,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory searched when --model is not given (default $" + envModelsDir + ")",
			Destination: &m.modelsPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "inference backend (bigram)",
			Value:       backendBigram,
			Destination: &m.backend,
		},
		&cli.Int64Flag{
			Name:        "ctx-size",
			Aliases:     []string{"c"},
			Usage:       "context size in tokens",
			Value:       session.DefaultContextSize,
			Destination: &m.ctxSize,
		},
		&cli.Int64Flag{
			Name:        "gpu-layers",
			Aliases:     []string{"ngl"},
			Usage:       "layers to offload to the GPU",
			Destination: &m.gpuLayers,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "load-time decode batch size",
			Value:       1,
			Destination: &m.batchSize,
		},
		&cli.BoolFlag{
			Name:        "no-mmap",
			Usage:       "read the model into memory instead of mapping it",
			Destination: &m.noMMap,
		},
		&cli.BoolFlag{
			Name:        "mlock",
			Usage:       "lock model memory",
			Destination: &m.mlock,
		},
	}
}

func (m *modelFlags) loadConfig(path string) session.LoadConfig {
	cfg := session.DefaultLoadConfig(path)
	cfg.ContextSize = int(m.ctxSize)
	cfg.GPULayers = int(m.gpuLayers)
	cfg.BatchSize = int(m.batchSize)
	cfg.UseMMap = !m.noMMap
	cfg.UseMLock = m.mlock
	return cfg
}

type samplingFlags struct {
	maxTokens        int64
	temperature      float64
	topK             int64
	topP             float64
	repeatPenalty    float64
	penaltyLastN     int64
	frequencyPenalty float64
	presencePenalty  float64
	stop             []string
	seed             int64
	threads          int64
	streamMode       string
	raw              bool
}

func (s *samplingFlags) flags() []cli.Flag {
	d := session.DefaultGenerationParams()
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens to generate",
			Value:       int64(d.MaxTokens),
			Destination: &s.maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature, 0 for greedy",
			Value:       float64(d.Temperature),
			Destination: &s.temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Value:       int64(d.TopK),
			Destination: &s.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Value:       float64(d.TopP),
			Destination: &s.topP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Value:       float64(d.RepeatPenalty),
			Destination: &s.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "penalty-last-n",
			Usage:       "tokens of history the penalties look at",
			Value:       int64(d.PenaltyWindow),
			Destination: &s.penaltyLastN,
		},
		&cli.Float64Flag{
			Name:        "frequency-penalty",
			Destination: &s.frequencyPenalty,
		},
		&cli.Float64Flag{
			Name:        "presence-penalty",
			Destination: &s.presencePenalty,
		},
		&cli.StringSliceFlag{
			Name:        "stop",
			Usage:       "stop sequence, repeatable; first match wins",
			Destination: &s.stop,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampler seed, -1 for random",
			Value:       -1,
			Destination: &s.seed,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "decode threads, 0 for half the CPUs",
			Destination: &s.threads,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "stream output mode (instant, smooth, quiet)",
			Value:       string(StreamInstant),
			Destination: &s.streamMode,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "escape control characters in output",
			Destination: &s.raw,
		},
	}
}

func (s *samplingFlags) params() session.GenerationParams {
	p := session.DefaultGenerationParams()
	p.MaxTokens = int(s.maxTokens)
	p.Temperature = float32(s.temperature)
	p.TopK = int(s.topK)
	p.TopP = float32(s.topP)
	p.RepeatPenalty = float32(s.repeatPenalty)
	p.PenaltyWindow = int(s.penaltyLastN)
	p.FrequencyPenalty = float32(s.frequencyPenalty)
	p.PresencePenalty = float32(s.presencePenalty)
	p.StopSequences = s.stop
	p.Threads = int(s.threads)
	if s.seed >= 0 {
		seed := uint64(s.seed)
		p.Seed = &seed
	}
	return p
}
