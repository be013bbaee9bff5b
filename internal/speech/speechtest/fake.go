// Package speechtest provides a scripted speech.Engine for tests.
package speechtest

import (
	"errors"
	"sync"

	"github.com/samcharles93/hegemon/internal/speech"
)

// Engine returns Segments from every transcription.
type Engine struct {
	mu       sync.Mutex
	Segments []speech.Segment
	FailLoad bool
	FailRun  bool

	Loads  int
	Closes int
	Last   speech.TranscribeParams
}

func (e *Engine) LoadModel(path string, params speech.ModelParams) (speech.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailLoad {
		return nil, errors.New("speechtest: load failed")
	}
	e.Loads++
	return &model{e: e}, nil
}

type model struct {
	e      *Engine
	closed bool
}

func (m *model) Transcribe(pcm []float32, params speech.TranscribeParams) ([]speech.Segment, error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	m.e.Last = params
	if m.e.FailRun {
		return nil, errors.New("speechtest: transcribe failed")
	}
	if params.Progress != nil {
		params.Progress(100)
	}
	return append([]speech.Segment(nil), m.e.Segments...), nil
}

func (m *model) Close() error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.e.Closes++
	}
	return nil
}

// Decoder maps paths to PCM. Unknown paths decode to nothing.
type Decoder map[string][]float32

func (d Decoder) Decode(path string) []float32 { return d[path] }
