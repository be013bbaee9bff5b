package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSONRecordsFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("dropped")
	log.Warn("kept", "model", "tiny")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	for _, want := range []string{`"msg":"kept"`, `"model":"tiny"`, `"level":"WARN"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestDiscardWritesNothing(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("nothing")
	if log.Enabled(slog.LevelError) {
		t.Fatal("discard logger reports error level enabled")
	}
}

func TestWithAndGroupCarryAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "session").WithGroup("gen")
	log.Info("done", "tokens", 4)

	out := buf.String()
	if !strings.Contains(out, `"component":"session"`) || !strings.Contains(out, `"gen":{"tokens":4}`) {
		t.Fatalf("attrs lost: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	cases := map[string]Format{"": FormatPretty, "json": FormatJSON, "TEXT": FormatText, "pretty": FormatPretty}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestOpenSelectsHandler(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := Open(&buf, "json", "debug")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	log.Debug("hi")
	if !strings.Contains(buf.String(), `"level":"DEBUG"`) {
		t.Fatalf("json debug record missing: %s", buf.String())
	}

	buf.Reset()
	log, err = Open(&buf, "text", "info")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	log.Info("hi", "k", "v")
	if !strings.Contains(buf.String(), "level=INFO") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("text record = %s", buf.String())
	}

	if _, err := Open(&buf, "yaml", "info"); err == nil {
		t.Fatal("Open accepted unknown format")
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Debug("hidden")
	log.Info("loaded", "path", "/models/a b.json", "n_ctx", 2048, "took", 15*time.Millisecond)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %s", out)
	}
	for _, want := range []string{"INFO ", "loaded", `path="/models/a b.json"`, "n_ctx=2048", "took=15ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("want one line, got %q", out)
	}
}

func TestPrettyGroupsAndAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("empty group returned a new handler")
	}
	l := slog.New(h.WithAttrs([]slog.Attr{slog.String("svc", "api")}).WithGroup("a").WithGroup("b"))
	l.Info("nested", "key", "val", slog.Group("g", "x", 1))

	out := buf.String()
	for _, want := range []string{"svc=api", "a.b.key=val", "a.b.g.x=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("q", "plain", "simple", "empty", "", "eq", "a=b")
	out := buf.String()
	for _, want := range []string{"plain=simple", `empty=""`, `eq="a=b"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}
