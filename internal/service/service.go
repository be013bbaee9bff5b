// Package service is the outward convenience facade over the text and
// speech sessions. Failures surface as "[Error: ...]" strings in the
// string-returning calls; typed variants are available to callers in this
// module.
package service

import (
	"errors"
	"sync"

	"github.com/samcharles93/hegemon/internal/engine"
	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/session"
	"github.com/samcharles93/hegemon/internal/speech"
)

const (
	MarkerLlamaNotLoaded   = "[Error: Llama model not loaded]"
	MarkerWhisperNotLoaded = "[Error: Whisper model not loaded]"
	MarkerEmptyPrompt      = "[Error: Empty prompt]"
	MarkerContextExceeded  = "[Error: Context size exceeded]"
	MarkerEmptyAudio       = "[Error: Empty audio data]"
	MarkerTranscribeFailed = "[Error: Whisper full processing failed]"
	MarkerAudioFile        = "[Error: Failed to load audio file]"
)

// Marker renders a failed result as its "[Error: ...]" string, or "" when
// the result is not a failure.
func Marker(res session.Result) string {
	switch {
	case res.StoppedBy == session.StopContextExceeded:
		return MarkerContextExceeded
	case res.StoppedBy != session.StopError:
		return ""
	case errors.Is(res.Err, session.ErrNotLoaded):
		return MarkerLlamaNotLoaded
	case errors.Is(res.Err, session.ErrEmptyPrompt):
		return MarkerEmptyPrompt
	case res.Err != nil:
		return "[Error: " + res.Err.Error() + "]"
	}
	return "[Error: generation failed]"
}

func speechMarker(err error) string {
	switch {
	case errors.Is(err, speech.ErrNotLoaded):
		return MarkerWhisperNotLoaded
	case errors.Is(err, speech.ErrEmptyAudio):
		return MarkerEmptyAudio
	case errors.Is(err, speech.ErrTranscribe):
		return MarkerTranscribeFailed
	}
	return "[Error: " + err.Error() + "]"
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithAudioDecoder(d speech.AudioDecoder) Option {
	return func(s *Service) { s.decoder = d }
}

// WithGate replaces the process-wide backend gate.
func WithGate(g *engine.Gate) Option {
	return func(s *Service) { s.gate = g }
}

// WithObserver registers fn to receive every generation result.
func WithObserver(fn func(session.Result)) Option {
	return func(s *Service) { s.observe = fn }
}

// Service is safe for concurrent use; calls are serialized.
type Service struct {
	mu      sync.Mutex
	backend engine.Backend
	gate    *engine.Gate
	log     logger.Logger
	llm     *session.Session
	stt     *speech.Session
	decoder speech.AudioDecoder
	observe func(session.Result)
}

func New(backend engine.Backend, stt speech.Engine, opts ...Option) *Service {
	s := &Service{backend: backend, gate: session.ProcessGate(), log: logger.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if stt == nil {
		stt = speech.Unavailable{}
	}
	s.llm = session.New(backend,
		session.WithLogger(s.log.With("component", "llm")),
		session.WithGate(s.gate),
	)
	s.stt = speech.NewSession(stt, s.log.With("component", "speech"))
	return s
}

func (s *Service) InitializeGlobalBackends() error {
	return s.gate.Init(s.backend)
}

func (s *Service) FreeGlobalBackends() {
	s.gate.Free(s.backend)
}

func (s *Service) BackendInitialized() bool {
	return s.gate.Initialized()
}

func (s *Service) InitializeLlamaModel(cfg session.LoadConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llm.Load(cfg)
}

// LoadError is the reason the last InitializeLlamaModel failed.
func (s *Service) LoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llm.Err()
}

func (s *Service) UnloadLlamaModel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llm.Unload()
}

func (s *Service) IsLlamaModelLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llm.IsLoaded()
}

// ModelInfo describes the loaded model.
func (s *Service) ModelInfo() (info string, nCtx, nVocab int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llm.Info(), s.llm.ContextSize(), s.llm.VocabSize()
}

// Generate is the typed form of ProcessPrompt.
func (s *Service) Generate(prompt string, params session.GenerationParams) session.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.llm.Generate(prompt, params)
	s.report(res)
	return res
}

// ProcessPrompt returns the generated text or an error marker.
func (s *Service) ProcessPrompt(prompt string, params session.GenerationParams) string {
	res := s.Generate(prompt, params)
	if m := Marker(res); m != "" {
		return m
	}
	return res.Text
}

// Stream is the typed form of StreamPrompt. Failures, including a model
// that is not loaded, are reported only through the Result; onToken sees
// generated text and nothing else.
func (s *Service) Stream(prompt string, params session.GenerationParams, onToken func(string) bool) session.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.llm.IsLoaded() {
		return session.Result{StoppedBy: session.StopError, Err: session.ErrNotLoaded}
	}
	res := s.llm.GenerateStreamingResult(prompt, params, onToken)
	s.report(res)
	return res
}

// StreamPrompt streams into onToken. When the model is not loaded onToken
// receives the marker once.
func (s *Service) StreamPrompt(prompt string, params session.GenerationParams, onToken func(string) bool) bool {
	res := s.Stream(prompt, params, onToken)
	if errors.Is(res.Err, session.ErrNotLoaded) && onToken != nil {
		onToken(MarkerLlamaNotLoaded)
	}
	return res.StoppedBy.Natural()
}

func (s *Service) Tokenization(text string) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llm.Tokenize(text)
}

func (s *Service) Detokenization(tokens []int32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.llm.IsLoaded() {
		return MarkerLlamaNotLoaded
	}
	return s.llm.Detokenize(tokens)
}

func (s *Service) InitializeWhisperModel(path string, params speech.ModelParams) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stt.Load(path, params) == nil
}

func (s *Service) UnloadWhisperModel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stt.Unload()
}

func (s *Service) IsWhisperModelLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stt.IsLoaded()
}

// Transcribe is the typed form of TranscribeAudioPCM.
func (s *Service) Transcribe(pcm []float32, params speech.TranscribeParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stt.TranscribePCM(pcm, params)
}

// TranscribeAudioPCM returns the transcript or an error marker.
func (s *Service) TranscribeAudioPCM(pcm []float32, params speech.TranscribeParams) string {
	out, err := s.Transcribe(pcm, params)
	if err != nil {
		return speechMarker(err)
	}
	return out
}

// TranscribeAudioFile decodes path to PCM and transcribes it.
func (s *Service) TranscribeAudioFile(path string, params speech.TranscribeParams) string {
	if s.decoder == nil {
		s.log.Warn("no audio decoder configured", "path", path)
		return MarkerAudioFile
	}
	pcm := s.decoder.Decode(path)
	if len(pcm) == 0 {
		s.log.Warn("audio decode produced no samples", "path", path)
		return MarkerAudioFile
	}
	return s.TranscribeAudioPCM(pcm, params)
}

// Close unloads both models.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stt.Unload()
	return s.llm.Close()
}

func (s *Service) report(res session.Result) {
	if s.observe != nil {
		s.observe(res)
	}
	if res.Err != nil {
		s.log.Warn("generation failed", "stopped_by", res.StoppedBy, "error", res.Err)
		return
	}
	s.log.Debug("generation finished",
		"stopped_by", res.StoppedBy,
		"tokens", res.TokensGenerated,
		"ttft_ms", res.TTFTMillis(),
		"decode_tps", res.DecodeTPS(),
	)
}
