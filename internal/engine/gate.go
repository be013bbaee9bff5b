package engine

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBackendHeld is returned by Gate.Init when a different backend holds the
// gate.
var ErrBackendHeld = errors.New("engine: another backend is initialized")

// Gate runs a backend's Init once and its Free at most once per successful
// Init. Both are safe to call repeatedly and from many goroutines. A failed
// Init is retried on the next call; after Free the gate is re-armed. The gate
// belongs to the first backend passed to Init until that backend is freed.
type Gate struct {
	mu          sync.Mutex
	cur         *initAttempt
	initialized atomic.Bool
}

type initAttempt struct {
	backend Backend
	once    sync.Once
	err     error
}

// Init initializes b if the gate has not done so yet.
func (g *Gate) Init(b Backend) error {
	g.mu.Lock()
	if g.cur == nil {
		g.cur = &initAttempt{backend: b}
	}
	a := g.cur
	g.mu.Unlock()
	if a.backend != b {
		return ErrBackendHeld
	}

	a.once.Do(func() {
		a.err = b.Init()
		if a.err == nil {
			g.initialized.Store(true)
		}
	})

	if a.err != nil {
		g.mu.Lock()
		if g.cur == a {
			g.cur = nil
		}
		g.mu.Unlock()
	}
	return a.err
}

// Free releases b if it is the backend the gate initialized. Any other
// backend is ignored.
func (g *Gate) Free(b Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil || g.cur.backend != b {
		return
	}
	if !g.initialized.CompareAndSwap(true, false) {
		return
	}
	g.cur.backend.Free()
	g.cur = nil
}

// Initialized reports whether Init succeeded and Free has not run since.
func (g *Gate) Initialized() bool {
	return g.initialized.Load()
}
