package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeModels(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write model %s: %v", name, err)
		}
	}
}

func fakeTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestDiscoverModelsSorted(t *testing.T) {
	dir := t.TempDir()
	writeModels(t, dir, "b.bigram", "a.BIGRAM", "ignore.txt")

	got, err := discoverModels(dir)
	if err != nil {
		t.Fatalf("discoverModels returned error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.BIGRAM"),
		filepath.Join(dir, "b.bigram"),
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected model count: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected ordering at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestDiscoverModelsRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := discoverModels(f); err == nil {
		t.Fatal("expected error for a non-directory")
	}
}

func TestResolveModelPath(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveModelPath("/tmp/model.bigram", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/model.bigram") {
			t.Fatalf("unexpected model path: got %q", got)
		}
	})

	t.Run("relative model resolves against models dir", func(t *testing.T) {
		dir := t.TempDir()
		got, err := resolveModelPath("tiny.bigram", dir, bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if want := filepath.Join(dir, "tiny.bigram"); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("no model and no dir", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		if _, err := resolveModelPath("", t.TempDir(), bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		dir := t.TempDir()
		writeModels(t, dir, "only.bigram")
		t.Setenv(envModelsDir, dir)
		fakeTTY(t, false)

		got, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if want := filepath.Join(dir, "only.bigram"); got != want {
			t.Fatalf("unexpected model path: got %q want %q", got, want)
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		dir := t.TempDir()
		writeModels(t, dir, "a.bigram", "b.bigram")
		t.Setenv(envModelsDir, dir)
		fakeTTY(t, false)

		if _, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := t.TempDir()
		writeModels(t, dir, "b.bigram", "a.bigram")
		t.Setenv(envModelsDir, dir)
		fakeTTY(t, true)

		got, err := resolveModelPath("", "", bytes.NewBufferString("9\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if want := filepath.Join(dir, "b.bigram"); got != want {
			t.Fatalf("unexpected model selection: got %q want %q", got, want)
		}
	})

	t.Run("interactive selection ends at eof", func(t *testing.T) {
		dir := t.TempDir()
		writeModels(t, dir, "a.bigram", "b.bigram")
		fakeTTY(t, true)

		if _, err := resolveModelPath("", dir, bytes.NewBufferString("x"), io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestVaultPaths(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "v")
		t.Setenv(envVaultDir, filepath.Join(t.TempDir(), "env"))
		salt, check, err := vaultPaths(dir, Config{VaultDir: "/nope"})
		if err != nil {
			t.Fatalf("vaultPaths: %v", err)
		}
		if salt != filepath.Join(dir, "vault.salt") || check != filepath.Join(dir, "vault.check") {
			t.Fatalf("got %q %q", salt, check)
		}
		if st, err := os.Stat(dir); err != nil || st.Mode().Perm() != 0o700 {
			t.Fatalf("vault dir not created 0700: %v", err)
		}
	})

	t.Run("config used when env empty", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "cfg")
		t.Setenv(envVaultDir, "")
		salt, _, err := vaultPaths("", Config{VaultDir: dir})
		if err != nil {
			t.Fatalf("vaultPaths: %v", err)
		}
		if filepath.Dir(salt) != dir {
			t.Fatalf("salt = %q", salt)
		}
	})
}
