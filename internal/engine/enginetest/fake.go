// Package enginetest provides a scripted, call-counting engine.Backend for
// tests.
package enginetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/hegemon/internal/engine"
)

const (
	BOS int32 = 0
	EOS int32 = 1
)

// Counts is a snapshot of backend calls.
type Counts struct {
	Init          int
	Free          int
	Loads         int
	ModelCloses   int
	Contexts      int
	ContextCloses int
	Decodes       int
}

// Live reports handles acquired but not yet released.
func (c Counts) Live() int {
	return c.Loads - c.ModelCloses + c.Contexts - c.ContextCloses
}

// Backend emits Script, one token per decode, then EOS. Every decode context
// restarts the script from the beginning.
type Backend struct {
	mu     sync.Mutex
	pieces []string
	index  map[string]int32
	script []int32
	counts Counts
	events []string

	LastModel   engine.ModelParams
	LastContext engine.ContextParams

	FailInit     bool
	FailLoad     bool
	FailVocab    bool
	FailContext  bool
	FailDecodeAt int // 1-based decode call that fails, 0 never
	PanicDecode  bool
}

// New returns a backend whose vocabulary is BOS, EOS and pieces.
func New(pieces ...string) *Backend {
	b := &Backend{
		pieces: append([]string{"<s>", "</s>"}, pieces...),
		index:  make(map[string]int32, len(pieces)),
	}
	for i, p := range pieces {
		if _, ok := b.index[p]; !ok {
			b.index[p] = int32(i + 2)
		}
	}
	return b
}

// Script sets the emitted sequence by piece text. Unknown pieces panic.
func (b *Backend) Script(pieces ...string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = b.script[:0]
	for _, p := range pieces {
		id, ok := b.index[p]
		if !ok {
			panic(fmt.Sprintf("enginetest: piece %q not in vocabulary", p))
		}
		b.script = append(b.script, id)
	}
	return b
}

func (b *Backend) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Events returns the ordered call log: load, model.close, ctx, ctx.close.
func (b *Backend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *Backend) record(ev string, counter *int) {
	*counter++
	b.events = append(b.events, ev)
}

func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.Init++
	if b.FailInit {
		return errors.New("enginetest: init failed")
	}
	return nil
}

func (b *Backend) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.Free++
}

func (b *Backend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LastModel = params
	if b.FailLoad {
		return nil, fmt.Errorf("%w: %s", engine.ErrModelLoad, path)
	}
	b.record("load", &b.counts.Loads)
	return &model{b: b}, nil
}

type model struct {
	b      *Backend
	closed bool
}

func (m *model) Vocab() engine.Vocab {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if m.b.FailVocab || m.closed {
		return nil
	}
	return vocab{b: m.b}
}

func (m *model) NewContext(params engine.ContextParams) (engine.Context, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	m.b.LastContext = params
	if m.b.FailContext {
		return nil, engine.ErrContextCreate
	}
	if params.NCtx <= 0 {
		return nil, fmt.Errorf("%w: n_ctx %d", engine.ErrContextCreate, params.NCtx)
	}
	m.b.record("ctx", &m.b.counts.Contexts)
	return &context{b: m.b, nCtx: params.NCtx, logits: make([]float32, len(m.b.pieces))}, nil
}

func (m *model) Close() error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.b.record("model.close", &m.b.counts.ModelCloses)
	return nil
}

type context struct {
	b      *Backend
	nCtx   int
	nPast  int
	steps  int
	logits []float32
	closed bool
}

func (c *context) Decode(batch []int32) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return engine.ErrClosed
	}
	c.b.counts.Decodes++
	if c.b.PanicDecode {
		panic("enginetest: decode panic")
	}
	if c.b.FailDecodeAt > 0 && c.b.counts.Decodes == c.b.FailDecodeAt {
		return fmt.Errorf("%w: scripted failure", engine.ErrDecode)
	}
	if c.nPast+len(batch) > c.nCtx {
		return fmt.Errorf("%w: context full", engine.ErrDecode)
	}
	c.nPast += len(batch)

	next := EOS
	if c.steps < len(c.b.script) {
		next = c.b.script[c.steps]
	}
	c.steps++
	for i := range c.logits {
		c.logits[i] = 0
	}
	c.logits[next] = 20
	return nil
}

func (c *context) Logits() []float32 { return c.logits }
func (c *context) NCtx() int         { return c.nCtx }
func (c *context) PosMax() int       { return c.nPast - 1 }

func (c *context) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.b.record("ctx.close", &c.b.counts.ContextCloses)
	return nil
}

type vocab struct {
	b *Backend
}

// Tokenize matches the longest known piece at each position and skips
// bytes no piece covers.
func (v vocab) Tokenize(text string, addBOS, parseSpecial bool, dst []int32) int {
	var out []int32
	if addBOS {
		out = append(out, BOS)
	}
	for i := 0; i < len(text); {
		best, bestLen := int32(-1), 0
		for id, p := range v.b.pieces {
			if int32(id) <= EOS && !parseSpecial {
				continue
			}
			if len(p) > bestLen && len(p) <= len(text)-i && text[i:i+len(p)] == p {
				best, bestLen = int32(id), len(p)
			}
		}
		if best < 0 {
			i++
			continue
		}
		out = append(out, best)
		i += bestLen
	}
	if len(out) > len(dst) {
		return -len(out)
	}
	return copy(dst, out)
}

func (v vocab) TokenToPiece(tok int32, dst []byte) int {
	if tok <= EOS || int(tok) >= len(v.b.pieces) {
		return 0
	}
	p := v.b.pieces[tok]
	if len(p) > len(dst) {
		return -len(p)
	}
	return copy(dst, p)
}

func (v vocab) IsEOG(tok int32) bool { return tok == EOS }
func (v vocab) BOS() int32           { return BOS }
func (v vocab) NTokens() int         { return len(v.b.pieces) }
