package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/hegemon/internal/sampling"
)

const (
	MaxContextSize     = 32768
	DefaultContextSize = 2048
)

var (
	ErrNotLoaded       = errors.New("model not loaded")
	ErrEmptyPrompt     = errors.New("empty prompt")
	ErrContextExceeded = errors.New("context size exceeded")
	ErrInvalidConfig   = errors.New("invalid config")
	ErrNoCallback      = errors.New("nil token callback")
	ErrTokenize        = errors.New("tokenization failed")
	ErrSampling        = errors.New("sampling failed")
)

// LoadConfig describes a model to load.
type LoadConfig struct {
	ModelPath   string
	ContextSize int
	GPULayers   int
	BatchSize   int
	UseMMap     bool
	UseMLock    bool
}

// DefaultLoadConfig returns the load defaults for path.
func DefaultLoadConfig(path string) LoadConfig {
	return LoadConfig{
		ModelPath:   path,
		ContextSize: DefaultContextSize,
		BatchSize:   1,
		UseMMap:     true,
	}
}

func (c LoadConfig) validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("%w: model path is empty", ErrInvalidConfig)
	}
	if c.ContextSize < 1 || c.ContextSize > MaxContextSize {
		return fmt.Errorf("%w: context size %d outside [1, %d]", ErrInvalidConfig, c.ContextSize, MaxContextSize)
	}
	return nil
}

// GenerationParams configures one generation call. Seed nil draws with a
// random seed.
type GenerationParams struct {
	MaxTokens        int
	Temperature      float32
	TopK             int
	TopP             float32
	RepeatPenalty    float32
	PenaltyWindow    int
	FrequencyPenalty float32
	PresencePenalty  float32
	StopSequences    []string
	BatchSize        int
	Threads          int
	Seed             *uint64
}

func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:     128,
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		RepeatPenalty: 1.1,
		PenaltyWindow: 64,
		BatchSize:     1024,
	}
}

// clone detaches p from the caller's slices and pointers.
func (p GenerationParams) clone() GenerationParams {
	p.StopSequences = slices.Clone(p.StopSequences)
	if p.Seed != nil {
		seed := *p.Seed
		p.Seed = &seed
	}
	return p
}

func (p GenerationParams) samplingConfig() sampling.Config {
	seed := sampling.DefaultSeed
	if p.Seed != nil {
		seed = *p.Seed
	}
	return sampling.Config{
		Temperature:      p.Temperature,
		TopK:             p.TopK,
		TopP:             p.TopP,
		RepeatPenalty:    p.RepeatPenalty,
		PenaltyWindow:    p.PenaltyWindow,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
		Seed:             seed,
	}
}

type StopReason string

const (
	StopMaxTokens       StopReason = "max_tokens"
	StopSequence        StopReason = "stop_sequence"
	StopEndOfSequence   StopReason = "end_of_sequence"
	StopContextExceeded StopReason = "context_exceeded"
	StopCancelled       StopReason = "cancelled"
	StopError           StopReason = "error"
)

// Natural reports whether generation ended on its own terms.
func (r StopReason) Natural() bool {
	switch r {
	case StopMaxTokens, StopSequence, StopEndOfSequence:
		return true
	}
	return false
}

// Result is the outcome of a generation call. Err is set when StoppedBy is
// StopError or StopContextExceeded.
type Result struct {
	Text             string
	TokensGenerated  int
	TimeToFirstToken time.Duration
	DecodeDuration   time.Duration
	Total            time.Duration
	StoppedBy        StopReason
	Err              error
}

func (r Result) TTFTMillis() float64   { return millis(r.TimeToFirstToken) }
func (r Result) DecodeMillis() float64 { return millis(r.DecodeDuration) }
func (r Result) TotalMillis() float64  { return millis(r.Total) }

// DecodeTPS is generated tokens per second of decode time.
func (r Result) DecodeTPS() float64 {
	if r.DecodeDuration <= 0 {
		return 0
	}
	return float64(r.TokensGenerated) / r.DecodeDuration.Seconds()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
