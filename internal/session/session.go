// Package session owns one loaded model and its decode context and drives
// generation over it.
//
// A Session is not safe for concurrent use. Callers sharing one across
// goroutines must serialize access themselves.
package session

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/samcharles93/hegemon/internal/engine"
	"github.com/samcharles93/hegemon/internal/logger"
)

var backendGate engine.Gate

// InitBackend runs b's process-wide initialization once. Repeated calls are
// no-ops until FreeBackend; a different backend is refused while b is held.
func InitBackend(b engine.Backend) error {
	return backendGate.Init(b)
}

// FreeBackend tears down b if InitBackend succeeded for it. It is idempotent.
func FreeBackend(b engine.Backend) {
	backendGate.Free(b)
}

// BackendInitialized reports the state of the process-wide gate.
func BackendInitialized() bool {
	return backendGate.Initialized()
}

// ProcessGate is the gate used by sessions without WithGate.
func ProcessGate() *engine.Gate { return &backendGate }

type Option func(*Session)

func WithLogger(l logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithGate replaces the process-wide backend gate.
func WithGate(g *engine.Gate) Option {
	return func(s *Session) { s.gate = g }
}

type Session struct {
	backend engine.Backend
	gate    *engine.Gate
	log     logger.Logger

	cfg     LoadConfig
	model   *modelHandle
	vocab   engine.Vocab
	ctx     *contextHandle
	lastErr error
}

func New(backend engine.Backend, opts ...Option) *Session {
	s := &Session{backend: backend, gate: &backendGate, log: logger.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Err returns the error behind the most recent failed Load.
func (s *Session) Err() error { return s.lastErr }

// Load loads cfg, replacing any model already held. It returns false on any
// failure and leaves the session unloaded with nothing held.
func (s *Session) Load(cfg LoadConfig) bool {
	s.lastErr = nil
	if err := s.load(cfg); err != nil {
		s.lastErr = err
		s.log.Error("model load failed", "path", cfg.ModelPath, "error", err)
		return false
	}
	s.log.Info("model loaded",
		"path", cfg.ModelPath,
		"n_ctx", s.ctx.params.NCtx,
		"n_batch", s.ctx.params.NBatch,
		"n_vocab", s.vocab.NTokens(),
	)
	return true
}

func (s *Session) load(cfg LoadConfig) error {
	if s.model != nil || s.ctx != nil {
		s.Unload()
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.GPULayers < 0 {
		s.log.Warn("negative gpu layer count clamped to 0", "gpu_layers", cfg.GPULayers)
		cfg.GPULayers = 0
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	if err := s.gate.Init(s.backend); err != nil {
		return fmt.Errorf("backend init: %w", err)
	}

	m, err := safeLoad(s.backend, cfg.ModelPath, engine.ModelParams{
		GPULayers: cfg.GPULayers,
		UseMMap:   cfg.UseMMap,
		UseMLock:  cfg.UseMLock,
	})
	if err != nil {
		return err
	}
	model := &modelHandle{m: m}

	vocab := m.Vocab()
	if vocab == nil {
		return errors.Join(engine.ErrNoVocab, model.Close())
	}

	params := contextParams(cfg, 0, 0)
	c, err := safeNewContext(m, params)
	if err != nil {
		return errors.Join(err, model.Close())
	}

	s.cfg = cfg
	s.model = model.take()
	s.vocab = vocab
	s.ctx = &contextHandle{c: c, params: params}
	return nil
}

// contextParams derives decode context parameters. batch and threads
// override the load defaults when positive.
func contextParams(cfg LoadConfig, batch, threads int) engine.ContextParams {
	nBatch := cfg.BatchSize
	if nBatch <= 1 {
		nBatch = max(1, min(512, cfg.ContextSize/4))
	}
	if batch > 0 {
		nBatch = batch
	}
	hw := runtime.NumCPU()
	if threads <= 0 {
		threads = max(1, hw/2)
	}
	return engine.ContextParams{
		NCtx:         cfg.ContextSize,
		NBatch:       nBatch,
		Threads:      threads,
		ThreadsBatch: max(threads, hw),
		OffloadKQV:   cfg.GPULayers > 0,
	}
}

// Unload releases the context and then the model. It is safe to call when
// nothing is loaded.
func (s *Session) Unload() {
	if s.model == nil && s.ctx == nil {
		return
	}
	if err := s.release(); err != nil {
		s.log.Warn("model unload reported errors", "path", s.cfg.ModelPath, "error", err)
	}
	s.log.Info("model unloaded", "path", s.cfg.ModelPath)
}

func (s *Session) release() error {
	var errs []error
	if err := s.ctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	s.ctx = nil
	s.vocab = nil
	if err := s.model.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close model: %w", err))
	}
	s.model = nil
	return errors.Join(errs...)
}

// Close unloads and reports any release errors.
func (s *Session) Close() error {
	if s.model == nil && s.ctx == nil {
		return nil
	}
	err := s.release()
	s.log.Info("model unloaded", "path", s.cfg.ModelPath)
	return err
}

// IsLoaded is true when a model, its vocabulary and a context are all held.
func (s *Session) IsLoaded() bool {
	return s.model != nil && s.model.m != nil &&
		s.vocab != nil &&
		s.ctx != nil && s.ctx.c != nil
}

// Tokenize returns the prompt tokens for text with BOS prepended, or nil
// when nothing is loaded.
func (s *Session) Tokenize(text string) []int32 {
	if !s.IsLoaded() {
		return nil
	}
	toks, err := tokenize(s.vocab, text, true, true)
	if err != nil {
		s.log.Warn("tokenize failed", "error", err)
		return nil
	}
	return toks
}

// Detokenize concatenates the pieces of tokens, or returns "" when nothing
// is loaded.
func (s *Session) Detokenize(tokens []int32) string {
	if !s.IsLoaded() {
		return ""
	}
	var buf []byte
	scratch := make([]byte, 32)
	for _, tok := range tokens {
		var piece []byte
		piece, scratch = tokenPiece(s.vocab, tok, scratch)
		buf = append(buf, piece...)
	}
	return string(buf)
}

func (s *Session) ContextSize() int {
	if !s.IsLoaded() {
		return 0
	}
	return s.ctx.c.NCtx()
}

func (s *Session) VocabSize() int {
	if !s.IsLoaded() {
		return 0
	}
	return s.vocab.NTokens()
}

// Info is a one-line description of the loaded model.
func (s *Session) Info() string {
	if !s.IsLoaded() {
		return "no model loaded"
	}
	return fmt.Sprintf("model=%s n_ctx=%d n_vocab=%d gpu_layers=%d mmap=%t mlock=%t",
		s.cfg.ModelPath, s.ctx.c.NCtx(), s.vocab.NTokens(), s.cfg.GPULayers, s.cfg.UseMMap, s.cfg.UseMLock)
}

// decodeContext returns an empty context for a generation call. A used
// context, or one built with different batch or thread settings, is closed
// and replaced.
func (s *Session) decodeContext(p GenerationParams) (engine.Context, error) {
	want := contextParams(s.cfg, p.BatchSize, p.Threads)
	if s.ctx.fresh() && s.ctx.params == want {
		return s.ctx.c, nil
	}
	if err := s.ctx.Close(); err != nil {
		s.log.Warn("close used context", "error", err)
	}
	c, err := safeNewContext(s.model.m, want)
	if err != nil {
		s.ctx = nil
		s.Unload()
		return nil, err
	}
	s.ctx = &contextHandle{c: c, params: want}
	return c, nil
}

func tokenize(v engine.Vocab, text string, addBOS, parseSpecial bool) (toks []int32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic in Tokenize: %v", ErrTokenize, rec)
		}
	}()
	dst := make([]int32, len(text)+2)
	n := v.Tokenize(text, addBOS, parseSpecial, dst)
	if n < 0 {
		dst = make([]int32, -n)
		n = v.Tokenize(text, addBOS, parseSpecial, dst)
		if n < 0 {
			return nil, fmt.Errorf("%w: buffer of %d still too small", ErrTokenize, len(dst))
		}
	}
	return dst[:n], nil
}

// tokenPiece returns the text of tok and the (possibly grown) scratch buffer.
func tokenPiece(v engine.Vocab, tok int32, scratch []byte) ([]byte, []byte) {
	n := v.TokenToPiece(tok, scratch)
	if n < 0 {
		scratch = make([]byte, -n)
		n = v.TokenToPiece(tok, scratch)
		if n < 0 {
			return nil, scratch
		}
	}
	return scratch[:n], scratch
}

func safeLoad(b engine.Backend, path string, params engine.ModelParams) (m engine.Model, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic in LoadModel: %v", engine.ErrModelLoad, rec)
		}
	}()
	m, err = b.LoadModel(path, params)
	if err == nil && m == nil {
		err = fmt.Errorf("%w: backend returned no model", engine.ErrModelLoad)
	}
	return m, err
}

func safeNewContext(m engine.Model, params engine.ContextParams) (c engine.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic in NewContext: %v", engine.ErrContextCreate, rec)
		}
	}()
	c, err = m.NewContext(params)
	if err == nil && c == nil {
		err = engine.ErrContextCreate
	}
	return c, err
}

func safeDecode(c engine.Context, batch []int32) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic in Decode: %v", engine.ErrDecode, rec)
		}
	}()
	return c.Decode(batch)
}
