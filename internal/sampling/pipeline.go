// Package sampling turns a logits vector into a token through an ordered
// chain of stages: penalties, min-p, top-k, top-p, temperature and a final
// random draw.
package sampling

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSeed asks the draw stage for a random seed.
const DefaultSeed uint64 = 0xFFFFFFFF

// MinPFloor is the fixed min-p threshold applied ahead of top-k.
const MinPFloor float32 = 0.05

var ErrInvalidConfig = errors.New("sampling: invalid config")

// Config configures one pipeline.
type Config struct {
	Temperature      float32
	TopK             int
	TopP             float32
	RepeatPenalty    float32
	PenaltyWindow    int
	FrequencyPenalty float32
	PresencePenalty  float32
	Seed             uint64
}

func (c Config) validate() error {
	var errs []error
	if c.Temperature < 0 {
		errs = append(errs, fmt.Errorf("temperature %v < 0", c.Temperature))
	}
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("top_k %d < 1", c.TopK))
	}
	if c.TopP <= 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p %v outside (0,1]", c.TopP))
	}
	if c.PenaltyWindow < 0 {
		errs = append(errs, fmt.Errorf("penalty_window %d < 0", c.PenaltyWindow))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Pipeline is a built chain. It is not safe for concurrent use.
type Pipeline struct {
	stages    []Stage
	penalties *Penalties
	cand      Candidates
}

// Build validates cfg and assembles the chain in its fixed order.
func Build(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	repeat := cfg.RepeatPenalty
	if repeat <= 0 {
		repeat = 1
	}
	pen := &Penalties{
		Window:    cfg.PenaltyWindow,
		Repeat:    repeat,
		Frequency: cfg.FrequencyPenalty,
		Presence:  cfg.PresencePenalty,
	}
	return &Pipeline{
		stages: []Stage{
			pen,
			MinP{P: MinPFloor, MinKeep: 1},
			TopK{K: cfg.TopK},
			TopP{P: cfg.TopP, MinKeep: 1},
			Temperature{T: cfg.Temperature},
			NewDist(cfg.Seed),
		},
		penalties: pen,
	}, nil
}

// Sample runs every stage over logits and returns the chosen token, or -1
// when logits is empty. logits is not modified.
func (p *Pipeline) Sample(logits []float32) int32 {
	if len(logits) == 0 {
		return -1
	}
	p.cand.Reset(logits)
	for _, s := range p.stages {
		s.Apply(&p.cand)
	}
	if p.cand.Len() == 0 {
		return -1
	}
	return p.cand.IDs[0]
}

// Accept feeds a generated token into the penalty history.
func (p *Pipeline) Accept(tok int32) {
	p.penalties.Accept(tok)
}

// String lists the stage names in application order.
func (p *Pipeline) String() string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return strings.Join(names, " -> ")
}
