// Package securemem keeps secrets in page-locked memory that is wiped
// before it is released.
//
// Allocation and locking failures are returned, never papered over: a
// caller that cannot get locked memory must not fall back to the heap.
package securemem

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// WipePattern is written over every byte of a buffer before release.
const WipePattern byte = 0x00

var (
	ErrAlloc = errors.New("securemem: allocation failed")
	ErrLock  = errors.New("securemem: memory lock failed")
	ErrSize  = errors.New("securemem: size must be positive")
)

// noCopy makes go vet's copylocks check flag copies of Buffer.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Buffer is a page-aligned, mlocked region. Do not copy a Buffer; use Move
// to transfer ownership. A Buffer that becomes unreachable without Close is
// still wiped and released by a runtime cleanup.
type Buffer struct {
	_       noCopy
	r       *region
	n       int
	wipe    func([]byte) // observes the region after wiping; tests only
	cleanup runtime.Cleanup
}

// region owns the mapping. It is shared only between a Buffer and its
// cleanup, so it must not point back at the Buffer.
type region struct {
	mu  sync.Mutex
	mem []byte
}

func (r *region) released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem == nil
}

// release wipes, unlocks and unmaps, in that order. hook, if set, sees the
// wiped bytes.
func (r *region) release(hook func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil

	wipe(mem)
	if hook != nil {
		hook(mem)
	}
	var errs []error
	if err := unix.Munlock(mem); err != nil {
		errs = append(errs, fmt.Errorf("munlock: %w", err))
	}
	if err := unix.Munmap(mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	return errors.Join(errs...)
}

func releaseDropped(r *region) { _ = r.release(nil) }

func newOwner(r *region, n int, hook func([]byte)) *Buffer {
	b := &Buffer{r: r, n: n, wipe: hook}
	b.cleanup = runtime.AddCleanup(b, releaseDropped, r)
	return b
}

// NewBuffer maps and locks at least n bytes.
func NewBuffer(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, ErrSize
	}
	page := os.Getpagesize()
	size := (n + page - 1) / page * page

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	if err := unix.Mlock(mem); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("%w: %w", ErrLock, err)
	}
	excludeFromDump(mem)
	return newOwner(&region{mem: mem}, n, nil), nil
}

// FromBytes copies b into a new Buffer and wipes b.
func FromBytes(b []byte) (*Buffer, error) {
	buf, err := NewBuffer(len(b))
	if err != nil {
		wipe(b)
		return nil, err
	}
	copy(buf.r.mem, b)
	wipe(b)
	return buf, nil
}

// Bytes exposes the usable region. The slice is invalid after Close or Move,
// and once b itself is unreachable.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.r == nil || b.r.mem == nil {
		return nil
	}
	return b.r.mem[:b.n]
}

func (b *Buffer) Len() int {
	if b == nil || b.r == nil {
		return 0
	}
	return b.n
}

// Move returns a Buffer owning b's region and leaves b empty.
func (b *Buffer) Move() *Buffer {
	if b.r == nil {
		return &Buffer{}
	}
	b.cleanup.Stop()
	out := newOwner(b.r, b.n, b.wipe)
	b.r, b.n = nil, 0
	return out
}

// Close wipes, unlocks and unmaps the region, in that order. It is
// idempotent.
func (b *Buffer) Close() error {
	if b == nil || b.r == nil {
		return nil
	}
	r := b.r
	b.r, b.n = nil, 0
	b.cleanup.Stop()
	return r.release(b.wipe)
}

//go:noinline
func wipe(b []byte) {
	for i := range b {
		b[i] = WipePattern
	}
	runtime.KeepAlive(b)
}
