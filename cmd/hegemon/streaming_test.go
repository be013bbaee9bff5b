package main

import (
	"bytes"
	"testing"
	"time"
)

func TestParseStreamMode(t *testing.T) {
	t.Parallel()
	cases := map[string]StreamMode{
		"":        StreamInstant,
		"instant": StreamInstant,
		" Smooth": StreamSmooth,
		"QUIET":   StreamQuiet,
	}
	for in, want := range cases {
		got, err := parseStreamMode(in)
		if err != nil || got != want {
			t.Fatalf("parseStreamMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseStreamMode("loud"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestStreamWriterInstant(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewStreamWriter(&buf, StreamInstant, false)
	if !w.Write("Hel") {
		t.Fatal("Write returned false")
	}
	if buf.String() != "Hel" {
		t.Fatalf("instant mode should flush each piece, got %q", buf.String())
	}
	w.Write("lo")
	if got := w.Flush(); got != "Hello" {
		t.Fatalf("Flush = %q", got)
	}
	if buf.String() != "Hello" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestStreamWriterQuiet(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewStreamWriter(&buf, StreamQuiet, false)
	w.Write("a")
	w.Write("b")
	if buf.Len() != 0 {
		t.Fatalf("quiet mode wrote early: %q", buf.String())
	}
	w.Flush()
	if buf.String() != "ab" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestStreamWriterSmoothBatches(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewStreamWriter(&buf, StreamSmooth, false)
	now := time.Unix(0, 0)
	w.now = func() time.Time { return now }
	w.lastFlush = now

	for range 4 {
		w.Write("x")
	}
	if buf.Len() != 0 {
		t.Fatalf("flushed before batch filled: %q", buf.String())
	}
	w.Write("y")
	if buf.String() != "xxxxy" {
		t.Fatalf("batch flush = %q", buf.String())
	}

	w.Write("z")
	now = now.Add(time.Second)
	w.Write("!")
	if buf.String() != "xxxxyz!" {
		t.Fatalf("time flush = %q", buf.String())
	}
}

func TestStreamWriterRaw(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewStreamWriter(&buf, StreamInstant, true)
	w.Write("a\n\tb\\\x01")
	if got, want := buf.String(), `a\n\tb\\\u0001`; got != want {
		t.Fatalf("raw output = %q want %q", got, want)
	}
	if got := w.Flush(); got != "a\n\tb\\\x01" {
		t.Fatalf("Flush should return unescaped text, got %q", got)
	}
}
