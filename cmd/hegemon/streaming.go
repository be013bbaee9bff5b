package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamSmooth  StreamMode = "smooth"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return StreamInstant, nil
	case StreamInstant, StreamSmooth, StreamQuiet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want instant, smooth or quiet)", s)
	}
}

// StreamWriter prints generated pieces as they arrive. Instant writes each
// piece, smooth batches pieces by count or time, quiet prints everything on
// Flush. Not safe for concurrent use; the generation callback is
// synchronous.
type StreamWriter struct {
	mode StreamMode
	raw  bool
	out  *bufio.Writer
	now  func() time.Time

	all           strings.Builder
	pending       strings.Builder
	pendingPieces int
	lastFlush     time.Time
	flushEvery    time.Duration
	batchPieces   int
}

func NewStreamWriter(w io.Writer, mode StreamMode, raw bool) *StreamWriter {
	return &StreamWriter{
		mode:        mode,
		raw:         raw,
		out:         bufio.NewWriterSize(w, 4096),
		now:         time.Now,
		lastFlush:   time.Now(),
		flushEvery:  50 * time.Millisecond,
		batchPieces: 5,
	}
}

// Write handles one generated piece; it always reports true so it can be
// used directly as a generation callback.
func (w *StreamWriter) Write(piece string) bool {
	w.all.WriteString(piece)
	switch w.mode {
	case StreamQuiet:
	case StreamSmooth:
		w.pending.WriteString(piece)
		w.pendingPieces++
		if w.pendingPieces >= w.batchPieces || w.now().Sub(w.lastFlush) >= w.flushEvery {
			w.flushPending()
		}
	default:
		w.emit(piece)
		_ = w.out.Flush()
	}
	return true
}

// Flush writes anything still buffered and returns the full text.
func (w *StreamWriter) Flush() string {
	switch w.mode {
	case StreamQuiet:
		w.emit(w.all.String())
	case StreamSmooth:
		w.flushPending()
	}
	_ = w.out.Flush()
	return w.all.String()
}

func (w *StreamWriter) flushPending() {
	if w.pending.Len() == 0 {
		return
	}
	w.emit(w.pending.String())
	_ = w.out.Flush()
	w.pending.Reset()
	w.pendingPieces = 0
	w.lastFlush = w.now()
}

func (w *StreamWriter) emit(s string) {
	if !w.raw {
		_, _ = w.out.WriteString(s)
		return
	}
	for _, r := range s {
		_, _ = w.out.WriteString(escapeRune(r))
	}
}

func escapeRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	}
	if strconv.IsPrint(r) {
		return string(r)
	}
	return fmt.Sprintf(`\u%04x`, r)
}
