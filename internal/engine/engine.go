// Package engine defines the narrow binding surface between a model session
// and a native inference runtime. Implementations own the weights, the
// vocabulary and the decode state; callers own the lifetimes.
package engine

import "errors"

var (
	ErrModelLoad     = errors.New("engine: model load failed")
	ErrNoVocab       = errors.New("engine: vocabulary unavailable")
	ErrContextCreate = errors.New("engine: context create failed")
	ErrDecode        = errors.New("engine: decode failed")
	ErrClosed        = errors.New("engine: handle closed")
)

// ModelParams configures weight loading.
type ModelParams struct {
	GPULayers int
	UseMMap   bool
	UseMLock  bool
}

// ContextParams configures a decode context.
type ContextParams struct {
	NCtx         int
	NBatch       int
	Threads      int
	ThreadsBatch int
	OffloadKQV   bool
}

// Backend is a process-wide runtime. Init and Free bracket its use; see Gate.
type Backend interface {
	Init() error
	Free()
	LoadModel(path string, params ModelParams) (Model, error)
}

// Model is a loaded set of weights. Close releases them.
type Model interface {
	Vocab() Vocab
	NewContext(params ContextParams) (Context, error)
	Close() error
}

// Vocab maps between text and token ids.
//
// Tokenize writes into dst and returns the token count. When dst is too
// small it returns the negated required size and dst is left unspecified.
// TokenToPiece follows the same convention for bytes.
type Vocab interface {
	Tokenize(text string, addBOS, parseSpecial bool, dst []int32) int
	TokenToPiece(tok int32, dst []byte) int
	IsEOG(tok int32) bool
	BOS() int32
	NTokens() int
}

// Context holds decode state for one sequence.
type Context interface {
	// Decode evaluates batch and appends it to the sequence.
	Decode(batch []int32) error
	// Logits of the last decoded position. Valid until the next Decode.
	Logits() []float32
	NCtx() int
	// PosMax is the highest occupied position, -1 when empty.
	PosMax() int
	Close() error
}
