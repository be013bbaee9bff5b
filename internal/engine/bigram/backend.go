package bigram

import (
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/hegemon/internal/engine"
)

// Backend loads bigram model files. The zero value is ready to use.
type Backend struct{}

func (Backend) Init() error { return nil }
func (Backend) Free()       {}

func (Backend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	f, err := readFile(path, params.UseMMap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrModelLoad, err)
	}
	m := newModel(f)
	if params.UseMLock {
		m.lock()
	}
	return m, nil
}

type edge struct {
	to     int32
	weight float32
}

type model struct {
	mu     sync.Mutex
	vocab  *vocab
	rows   [][]edge
	floor  float32
	locked []byte
	closed bool
}

func newModel(f *File) *model {
	n := int32(len(f.Pieces))
	m := &model{
		vocab: newVocab(f),
		rows:  make([][]edge, n),
		floor: f.Floor,
	}
	for fromKey, row := range f.Bigrams {
		from, _ := parseID(fromKey, n)
		edges := make([]edge, 0, len(row))
		for toKey, w := range row {
			to, _ := parseID(toKey, n)
			edges = append(edges, edge{to: to, weight: w})
		}
		m.rows[from] = edges
	}
	return m
}

// lock pins the edge tables. Failure is not fatal; the weights stay usable.
func (m *model) lock() {
	total := 0
	for _, row := range m.rows {
		total += len(row)
	}
	if total == 0 {
		return
	}
	flat := make([]edge, 0, total)
	for i, row := range m.rows {
		start := len(flat)
		flat = append(flat, row...)
		m.rows[i] = flat[start:len(flat):len(flat)]
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(flat[0])))
	if err := unix.Mlock(b); err == nil {
		m.locked = b
	}
}

func (m *model) Vocab() engine.Vocab {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	return m.vocab
}

func (m *model) NewContext(params engine.ContextParams) (engine.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, engine.ErrClosed
	}
	if params.NCtx <= 0 {
		return nil, fmt.Errorf("%w: n_ctx %d", engine.ErrContextCreate, params.NCtx)
	}
	return &context{
		model:  m,
		nCtx:   params.NCtx,
		logits: make([]float32, len(m.rows)),
	}, nil
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.locked != nil {
		_ = unix.Munlock(m.locked)
		m.locked = nil
	}
	m.rows = nil
	return nil
}

type context struct {
	model  *model
	nCtx   int
	nPast  int
	last   int32
	logits []float32
	closed bool
}

func (c *context) Decode(batch []int32) error {
	if c.closed {
		return engine.ErrClosed
	}
	if len(batch) == 0 {
		return fmt.Errorf("%w: empty batch", engine.ErrDecode)
	}
	if c.nPast+len(batch) > c.nCtx {
		return fmt.Errorf("%w: %d tokens exceed n_ctx %d", engine.ErrDecode, c.nPast+len(batch), c.nCtx)
	}
	n := int32(len(c.logits))
	for _, tok := range batch {
		if tok < 0 || tok >= n {
			return fmt.Errorf("%w: token %d out of range", engine.ErrDecode, tok)
		}
	}
	c.nPast += len(batch)
	c.last = batch[len(batch)-1]

	for i := range c.logits {
		c.logits[i] = c.model.floor
	}
	for _, e := range c.model.rows[c.last] {
		c.logits[e.to] = e.weight
	}
	// BOS is never a continuation.
	c.logits[c.model.vocab.bos] = c.model.floor * 2
	return nil
}

func (c *context) Logits() []float32 { return c.logits }
func (c *context) NCtx() int         { return c.nCtx }
func (c *context) PosMax() int       { return c.nPast - 1 }

func (c *context) Close() error {
	c.closed = true
	c.logits = nil
	return nil
}

type vocab struct {
	pieces   []string
	index    map[string]int32
	special  map[int32]bool
	byteToks [256]int32
	maxLen   int
	bos      int32
	eos      int32
}

func newVocab(f *File) *vocab {
	v := &vocab{
		pieces:  f.Pieces,
		index:   make(map[string]int32, len(f.Pieces)),
		special: make(map[int32]bool, len(f.Special)),
		bos:     f.BOS,
		eos:     f.EOS,
	}
	for _, id := range f.Special {
		v.special[id] = true
	}
	v.special[f.BOS] = true
	v.special[f.EOS] = true
	for i := range v.byteToks {
		v.byteToks[i] = -1
	}
	for i, p := range f.Pieces {
		id := int32(i)
		if b, ok := byteFallback(p); ok {
			v.byteToks[b] = id
			continue
		}
		if _, dup := v.index[p]; !dup {
			v.index[p] = id
		}
		if len(p) > v.maxLen {
			v.maxLen = len(p)
		}
	}
	return v
}

// byteFallback recognises pieces of the form <0xNN>.
func byteFallback(p string) (byte, bool) {
	if len(p) != 6 || p[:3] != "<0x" || p[5] != '>' {
		return 0, false
	}
	b, err := strconv.ParseUint(p[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(b), true
}

func (v *vocab) Tokenize(text string, addBOS, parseSpecial bool, dst []int32) int {
	out := make([]int32, 0, len(text)+1)
	if addBOS {
		out = append(out, v.bos)
	}
	for i := 0; i < len(text); {
		matched := false
		for l := min(v.maxLen, len(text)-i); l > 0; l-- {
			id, ok := v.index[text[i:i+l]]
			if !ok || (v.special[id] && !parseSpecial) {
				continue
			}
			out = append(out, id)
			i += l
			matched = true
			break
		}
		if matched {
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		for j := 0; j < size; j++ {
			if id := v.byteToks[text[i+j]]; id >= 0 {
				out = append(out, id)
			}
		}
		i += size
	}
	if len(out) > len(dst) {
		return -len(out)
	}
	return copy(dst, out)
}

func (v *vocab) TokenToPiece(tok int32, dst []byte) int {
	if tok < 0 || int(tok) >= len(v.pieces) {
		return 0
	}
	piece := v.pieces[tok]
	if v.special[tok] {
		piece = ""
	} else if b, ok := byteFallback(piece); ok {
		piece = string([]byte{b})
	}
	if len(piece) > len(dst) {
		return -len(piece)
	}
	return copy(dst, piece)
}

func (v *vocab) IsEOG(tok int32) bool { return tok == v.eos }
func (v *vocab) BOS() int32           { return v.bos }
func (v *vocab) NTokens() int         { return len(v.pieces) }
