// Package speech wraps a speech-to-text engine behind a load/transcribe
// session and renders its segments as text.
package speech

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/samcharles93/hegemon/internal/logger"
)

// SampleRate is the PCM rate transcription expects.
const SampleRate = 16000

var (
	ErrNotLoaded  = errors.New("model not loaded")
	ErrEmptyAudio = errors.New("empty audio data")
	ErrTranscribe = errors.New("transcription failed")
	ErrModelLoad  = errors.New("speech model load failed")
)

// ModelParams configures loading a speech model.
type ModelParams struct {
	Language  string
	UseGPU    bool
	FlashAttn bool
	AudioCtx  int
	Threads   int
}

func DefaultModelParams() ModelParams {
	return ModelParams{
		Language: "en",
		UseGPU:   true,
		Threads:  min(4, runtime.NumCPU()),
	}
}

// TranscribeParams configures one transcription.
type TranscribeParams struct {
	Translate    bool
	NoTimestamps bool
	NoFallback   bool
	NoContext    bool
	Diarize      bool
	PrintSpecial bool
	MaxTokens    int
	BeamSize     int
	AudioCtx     int
	// OutputPath, when set, receives a copy of the rendered transcript.
	OutputPath string
	Progress   func(percent int)
}

func DefaultTranscribeParams() TranscribeParams {
	return TranscribeParams{
		NoContext: true,
		MaxTokens: 32,
		BeamSize:  -1,
	}
}

// Segment is one transcribed span. T0 and T1 are in centiseconds.
type Segment struct {
	T0, T1          int64
	Text            string
	SpeakerTurnNext bool
}

// Engine loads speech models.
type Engine interface {
	LoadModel(path string, params ModelParams) (Model, error)
}

// Model is a loaded speech model.
type Model interface {
	Transcribe(pcm []float32, params TranscribeParams) ([]Segment, error)
	Close() error
}

// AudioDecoder turns an audio file into mono SampleRate float PCM. It
// returns an empty slice for unreadable or zero-length audio.
type AudioDecoder interface {
	Decode(path string) []float32
}

// Session holds at most one speech model. It is not safe for concurrent use.
type Session struct {
	engine Engine
	log    logger.Logger
	model  Model
	path   string
	params ModelParams
}

func NewSession(e Engine, log logger.Logger) *Session {
	if log == nil {
		log = logger.Default()
	}
	return &Session{engine: e, log: log}
}

// Load replaces any loaded model with the one at path.
func (s *Session) Load(path string, params ModelParams) error {
	if s.model != nil {
		s.Unload()
	}
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrModelLoad)
	}
	m, err := safeLoad(s.engine, path, params)
	if err != nil {
		s.log.Error("speech model load failed", "path", path, "error", err)
		return err
	}
	s.model, s.path, s.params = m, path, params
	s.log.Info("speech model loaded", "path", path, "language", params.Language)
	return nil
}

// Unload is safe to call repeatedly.
func (s *Session) Unload() {
	if s.model == nil {
		return
	}
	if err := s.model.Close(); err != nil {
		s.log.Warn("speech model close", "error", err)
	}
	s.model = nil
	s.log.Info("speech model unloaded", "path", s.path)
}

func (s *Session) IsLoaded() bool { return s.model != nil }

// TranscribePCM transcribes pcm and renders the segments.
func (s *Session) TranscribePCM(pcm []float32, params TranscribeParams) (string, error) {
	if s.model == nil {
		return "", ErrNotLoaded
	}
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}
	if params.AudioCtx == 0 {
		params.AudioCtx = s.params.AudioCtx
	}
	segs, err := safeTranscribe(s.model, pcm, params)
	if err != nil {
		return "", err
	}
	s.log.Debug("transcribed", "segments", len(segs), "seconds", float64(len(pcm))/SampleRate)

	out := FormatSegments(segs, params.NoTimestamps)
	if params.OutputPath != "" {
		if err := os.WriteFile(params.OutputPath, []byte(out), 0o644); err != nil {
			s.log.Warn("could not write transcript", "path", params.OutputPath, "error", err)
		}
	}
	return out, nil
}

// FormatSegments renders segments one per line as
// "[mm:ss.mmm --> mm:ss.mmm] text", or concatenates the raw text when
// noTimestamps is set.
func FormatSegments(segs []Segment, noTimestamps bool) string {
	var b strings.Builder
	for _, seg := range segs {
		if noTimestamps {
			b.WriteString(seg.Text)
			continue
		}
		fmt.Fprintf(&b, "[%s --> %s] %s", timestamp(seg.T0), timestamp(seg.T1), seg.Text)
		if seg.SpeakerTurnNext {
			b.WriteString(" [SPEAKER_TURN]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func timestamp(cs int64) string {
	ms := max(cs, 0) * 10
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

func safeLoad(e Engine, path string, params ModelParams) (m Model, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrModelLoad, rec)
		}
	}()
	m, err = e.LoadModel(path, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if m == nil {
		return nil, ErrModelLoad
	}
	return m, nil
}

func safeTranscribe(m Model, pcm []float32, params TranscribeParams) (segs []Segment, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTranscribe, rec)
		}
	}()
	segs, err = m.Transcribe(pcm, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscribe, err)
	}
	return segs, nil
}

// Unavailable is the Engine used when no speech runtime is linked in.
type Unavailable struct{}

func (Unavailable) LoadModel(path string, _ ModelParams) (Model, error) {
	return nil, fmt.Errorf("no speech runtime available for %s", path)
}
