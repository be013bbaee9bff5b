package session

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/hegemon/internal/engine"
	"github.com/samcharles93/hegemon/internal/engine/enginetest"
	"github.com/samcharles93/hegemon/internal/logger"
)

func newBackend() *enginetest.Backend {
	return enginetest.New("Hel", "lo", "a", "b", "c", "STOP", "S", "TOP", "en", "dless", "x")
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return path
}

func loaded(t *testing.T, b *enginetest.Backend, ctxSize int) *Session {
	t.Helper()
	s := New(b, WithLogger(logger.Discard()), WithGate(new(engine.Gate)))
	cfg := DefaultLoadConfig(modelFile(t))
	cfg.ContextSize = ctxSize
	if !s.Load(cfg) {
		t.Fatalf("Load failed: %v", s.Err())
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func greedy() GenerationParams {
	p := DefaultGenerationParams()
	p.Temperature = 0
	p.RepeatPenalty = 1
	return p
}

func TestLoadRejectsContextSizeWithoutEngineCalls(t *testing.T) {
	t.Parallel()
	path := modelFile(t)
	for _, n := range []int{0, -1, MaxContextSize + 1} {
		b := newBackend()
		s := New(b, WithLogger(logger.Discard()), WithGate(new(engine.Gate)))
		cfg := DefaultLoadConfig(path)
		cfg.ContextSize = n
		if s.Load(cfg) {
			t.Fatalf("Load with context size %d succeeded", n)
		}
		if !errors.Is(s.Err(), ErrInvalidConfig) {
			t.Fatalf("context size %d: err = %v, want ErrInvalidConfig", n, s.Err())
		}
		if s.IsLoaded() {
			t.Fatalf("context size %d: session reports loaded", n)
		}
		if c := b.Counts(); c.Loads != 0 || c.Contexts != 0 {
			t.Fatalf("context size %d: engine touched: %+v", n, c)
		}
	}
}

func TestLoadAcceptsContextBounds(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, MaxContextSize} {
		s := loaded(t, newBackend(), n)
		if got := s.ContextSize(); got != n {
			t.Fatalf("ContextSize = %d, want %d", got, n)
		}
	}
}

func TestLoadRejectsMissingOrEmptyPath(t *testing.T) {
	t.Parallel()
	b := newBackend()
	s := New(b, WithLogger(logger.Discard()), WithGate(new(engine.Gate)))
	if s.Load(DefaultLoadConfig("")) {
		t.Fatal("empty path loaded")
	}
	if s.Load(DefaultLoadConfig(filepath.Join(t.TempDir(), "missing.bin"))) {
		t.Fatal("missing file loaded")
	}
	if c := b.Counts(); c.Loads != 0 {
		t.Fatalf("engine load called %d times", c.Loads)
	}
}

func TestLoadTwiceUnloadsFirst(t *testing.T) {
	t.Parallel()
	b := newBackend()
	s := loaded(t, b, 64)
	if !s.Load(DefaultLoadConfig(modelFile(t))) {
		t.Fatalf("second Load failed: %v", s.Err())
	}
	want := []string{"load", "ctx", "ctx.close", "model.close", "load", "ctx"}
	if got := b.Events(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if c := b.Counts(); c.ModelCloses != 1 || c.Live() != 2 {
		t.Fatalf("counts after reload = %+v", c)
	}
}

func TestFailedReloadLeavesSessionUnloaded(t *testing.T) {
	t.Parallel()
	bad := map[string]func(t *testing.T) LoadConfig{
		"context size": func(t *testing.T) LoadConfig {
			cfg := DefaultLoadConfig(modelFile(t))
			cfg.ContextSize = 0
			return cfg
		},
		"missing file": func(t *testing.T) LoadConfig {
			return DefaultLoadConfig(filepath.Join(t.TempDir(), "missing.bin"))
		},
	}
	for name, cfgFor := range bad {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			b := newBackend()
			s := loaded(t, b, 64)
			if s.Load(cfgFor(t)) {
				t.Fatal("reload with bad config succeeded")
			}
			if s.IsLoaded() {
				t.Fatal("previous model still loaded after failed reload")
			}
			c := b.Counts()
			if c.Loads != 1 || c.ModelCloses != 1 || c.Live() != 0 {
				t.Fatalf("counts after failed reload = %+v", c)
			}
		})
	}
}

func TestLoadClampsNegativeGPULayers(t *testing.T) {
	t.Parallel()
	b := newBackend()
	s := New(b, WithLogger(logger.Discard()), WithGate(new(engine.Gate)))
	cfg := DefaultLoadConfig(modelFile(t))
	cfg.GPULayers = -3
	if !s.Load(cfg) {
		t.Fatalf("Load failed: %v", s.Err())
	}
	defer s.Unload()
	if b.LastModel.GPULayers != 0 {
		t.Fatalf("gpu layers = %d, want 0", b.LastModel.GPULayers)
	}
}

func TestLoadReleasesPartialAcquisitions(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*enginetest.Backend){
		"vocab":   func(b *enginetest.Backend) { b.FailVocab = true },
		"context": func(b *enginetest.Backend) { b.FailContext = true },
		"load":    func(b *enginetest.Backend) { b.FailLoad = true },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			b := newBackend()
			breakIt(b)
			s := New(b, WithLogger(logger.Discard()), WithGate(new(engine.Gate)))
			if s.Load(DefaultLoadConfig(modelFile(t))) {
				t.Fatal("Load succeeded")
			}
			if s.IsLoaded() {
				t.Fatal("session reports loaded")
			}
			if live := b.Counts().Live(); live != 0 {
				t.Fatalf("%d handles leaked", live)
			}
		})
	}
}

func TestUnloadIsIdempotent(t *testing.T) {
	t.Parallel()
	b := newBackend()
	s := loaded(t, b, 64)
	s.Unload()
	s.Unload()
	if s.IsLoaded() {
		t.Fatal("still loaded")
	}
	c := b.Counts()
	if c.ModelCloses != 1 || c.ContextCloses != 1 {
		t.Fatalf("counts = %+v", c)
	}
	evs := b.Events()
	if evs[len(evs)-2] != "ctx.close" || evs[len(evs)-1] != "model.close" {
		t.Fatalf("release order = %v", evs)
	}
}

func TestGenerateNotLoaded(t *testing.T) {
	t.Parallel()
	s := New(newBackend(), WithLogger(logger.Discard()), WithGate(new(engine.Gate)))
	res := s.Generate("hi", DefaultGenerationParams())
	if res.StoppedBy != StopError || !errors.Is(res.Err, ErrNotLoaded) {
		t.Fatalf("result = %+v", res)
	}
	if s.Tokenize("hi") != nil || s.Detokenize([]int32{2}) != "" {
		t.Fatal("unloaded tokenize/detokenize returned data")
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend(), 64)
	res := s.Generate("", DefaultGenerationParams())
	if res.StoppedBy != StopError || !errors.Is(res.Err, ErrEmptyPrompt) {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateEndOfSequence(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("Hel", "lo"), 64)
	res := s.Generate("abc", greedy())
	if res.Err != nil {
		t.Fatalf("Generate: %v", res.Err)
	}
	if res.Text != "Hello" || res.TokensGenerated != 2 || res.StoppedBy != StopEndOfSequence {
		t.Fatalf("result = %+v", res)
	}
	if res.TimeToFirstToken < 0 || res.DecodeDuration < 0 || res.Total < res.TimeToFirstToken {
		t.Fatalf("timings = ttft %v decode %v total %v", res.TimeToFirstToken, res.DecodeDuration, res.Total)
	}
}

func TestGenerateRespectsMaxTokens(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("a", "b", "c", "a", "b"), 64)
	for _, n := range []int{1, 3, 5} {
		p := greedy()
		p.MaxTokens = n
		res := s.Generate("x", p)
		if res.TokensGenerated > n {
			t.Fatalf("max %d: generated %d", n, res.TokensGenerated)
		}
		if res.StoppedBy != StopMaxTokens {
			t.Fatalf("max %d: stopped by %s", n, res.StoppedBy)
		}
	}
}

func TestGenerateRejectsNonPositiveMaxTokens(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend(), 64)
	p := greedy()
	p.MaxTokens = 0
	if res := s.Generate("x", p); !errors.Is(res.Err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", res.Err)
	}
}

func TestGenerateStopSequenceTrimsSuffix(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("a", "b", "S", "TOP", "c"), 64)
	p := greedy()
	p.StopSequences = []string{"STOP"}
	res := s.Generate("x", p)
	if res.StoppedBy != StopSequence || res.Text != "ab" {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateStopPrefixDoesNotTrigger(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("en", "dless"), 64)
	p := greedy()
	p.StopSequences = []string{"end"}
	res := s.Generate("x", p)
	if res.StoppedBy != StopEndOfSequence || res.Text != "endless" {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateStopOrderAndEmpty(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("a", "b", "c"), 64)
	p := greedy()
	p.StopSequences = []string{"", "b", "ab"}
	res := s.Generate("x", p)
	if res.StoppedBy != StopSequence || res.Text != "a" {
		t.Fatalf("result = %+v", res)
	}

	p.StopSequences = []string{""}
	res = s.Generate("x", p)
	if res.StoppedBy != StopEndOfSequence || res.Text != "abc" {
		t.Fatalf("empty stop: result = %+v", res)
	}
}

func TestGenerateParamsAreCopied(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("a", "b", "c"), 64)
	p := greedy()
	p.StopSequences = []string{"b"}
	stops := p.StopSequences
	var seen []string
	res := s.GenerateStreamingResult("x", p, func(piece string) bool {
		seen = append(seen, piece)
		stops[0] = "zzz"
		return true
	})
	if res.StoppedBy != StopSequence || res.Text != "a" {
		t.Fatalf("result = %+v, pieces %v", res, seen)
	}
}

func TestGeneratePromptExceedsContext(t *testing.T) {
	t.Parallel()
	b := newBackend().Script("a")
	s := loaded(t, b, 4)
	res := s.Generate("abcabc", greedy())
	if res.StoppedBy != StopContextExceeded || !errors.Is(res.Err, ErrContextExceeded) {
		t.Fatalf("result = %+v", res)
	}
	if d := b.Counts().Decodes; d != 0 {
		t.Fatalf("decode ran %d times", d)
	}
}

func TestGenerateContextFillsDuringDecode(t *testing.T) {
	t.Parallel()
	b := newBackend().Script("a", "b", "c", "a", "b", "c")
	s := loaded(t, b, 4)
	res := s.Generate("a", greedy())
	if res.StoppedBy != StopContextExceeded {
		t.Fatalf("result = %+v", res)
	}
	if res.TokensGenerated != 3 {
		t.Fatalf("generated %d tokens before overflow, want 3", res.TokensGenerated)
	}
}

func TestGenerateStreamingCancel(t *testing.T) {
	t.Parallel()
	b := newBackend().Script("a", "b", "c", "a", "b", "c")
	s := loaded(t, b, 64)
	const k = 2
	var got []string
	ok := s.GenerateStreaming("x", greedy(), func(piece string) bool {
		got = append(got, piece)
		return len(got) < k
	})
	if ok {
		t.Fatal("cancelled stream reported success")
	}
	if len(got) != k {
		t.Fatalf("received %d pieces, want %d", len(got), k)
	}
	if d := b.Counts().Decodes; d != k {
		t.Fatalf("decode ran %d times after cancel at token %d", d, k)
	}
}

func TestGenerateStreamingNaturalStop(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("Hel", "lo"), 64)
	var got []string
	ok := s.GenerateStreaming("x", greedy(), func(piece string) bool {
		got = append(got, piece)
		return true
	})
	if !ok {
		t.Fatal("natural stop reported failure")
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Fatalf("pieces = %v", got)
	}
}

func TestGenerateStreamingEmitsBeforeStopCheck(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("a", "STOP", "b"), 64)
	p := greedy()
	p.StopSequences = []string{"STOP"}
	var got []string
	res := s.GenerateStreamingResult("x", p, func(piece string) bool {
		got = append(got, piece)
		return true
	})
	if !slices.Equal(got, []string{"a", "STOP"}) {
		t.Fatalf("pieces = %v", got)
	}
	if res.Text != "a" || res.StoppedBy != StopSequence {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateStreamingNilCallback(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend(), 64)
	if s.GenerateStreaming("x", greedy(), nil) {
		t.Fatal("nil callback reported success")
	}
}

func TestGenerateDecodeFailure(t *testing.T) {
	t.Parallel()
	b := newBackend().Script("a", "b")
	b.FailDecodeAt = 2
	s := loaded(t, b, 64)
	res := s.Generate("x", greedy())
	if res.StoppedBy != StopError || !errors.Is(res.Err, engine.ErrDecode) {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateDecodePanicRecovered(t *testing.T) {
	t.Parallel()
	b := newBackend()
	b.PanicDecode = true
	s := loaded(t, b, 64)
	res := s.Generate("x", greedy())
	if res.StoppedBy != StopError || !errors.Is(res.Err, engine.ErrDecode) {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateInvalidSampling(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend(), 64)
	p := greedy()
	p.TopK = 0
	res := s.Generate("x", p)
	if res.StoppedBy != StopError || !errors.Is(res.Err, ErrInvalidConfig) {
		t.Fatalf("result = %+v", res)
	}
}

func TestEachCallStartsFromEmptyContext(t *testing.T) {
	t.Parallel()
	b := newBackend().Script("a", "b")
	s := loaded(t, b, 64)
	p := greedy()
	p.BatchSize = 0
	first := s.Generate("x", p)
	second := s.Generate("x", p)
	if first.Text != "ab" || second.Text != first.Text {
		t.Fatalf("texts = %q, %q", first.Text, second.Text)
	}
	c := b.Counts()
	if c.Contexts != 2 || c.ContextCloses != 1 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend(), 64)
	toks := s.Tokenize("Hello")
	if len(toks) != 3 || toks[0] != enginetest.BOS {
		t.Fatalf("tokens = %v", toks)
	}
	if got := s.Detokenize(toks); got != "Hello" {
		t.Fatalf("Detokenize = %q", got)
	}
	if s.VocabSize() != 13 {
		t.Fatalf("VocabSize = %d", s.VocabSize())
	}
	if !strings.Contains(s.Info(), "n_ctx=64") {
		t.Fatalf("Info = %q", s.Info())
	}
}

func TestSeededGenerationIsReproducible(t *testing.T) {
	t.Parallel()
	s := loaded(t, newBackend().Script("a", "b", "c"), 64)
	seed := uint64(11)
	p := DefaultGenerationParams()
	p.Seed = &seed
	a := s.Generate("x", p)
	b := s.Generate("x", p)
	if a.Text != b.Text {
		t.Fatalf("seeded outputs differ: %q vs %q", a.Text, b.Text)
	}
}
