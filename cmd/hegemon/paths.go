package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/samcharles93/hegemon/internal/bench"
)

const (
	envModelsDir = bench.EnvBasePath
	envVaultDir  = "HEGEMON_VAULT_DIR"
	modelExt     = ".bigram"
)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveModelPath picks the model for a command: --model wins, otherwise
// the models directory is searched and a single match is used. With several
// matches an interactive terminal is asked to choose.
func resolveModelPath(modelFlag, modelsPath string, stdin io.Reader, stderr io.Writer) (string, error) {
	modelFlag = strings.TrimSpace(modelFlag)
	if modelFlag != "" {
		if dir := modelsDir(modelsPath); dir != "" && !filepath.IsAbs(modelFlag) {
			if _, err := os.Stat(modelFlag); err != nil {
				return filepath.Join(dir, modelFlag), nil
			}
		}
		return filepath.Clean(modelFlag), nil
	}

	dir := modelsDir(modelsPath)
	if dir == "" {
		return "", fmt.Errorf("--model or --models-path is required unless %s is set", envModelsDir)
	}
	models, err := discoverModels(dir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no %s models found in %s", modelExt, dir)
	case 1:
		_, _ = fmt.Fprintf(stderr, "using model %s\n", models[0])
		return models[0], nil
	}
	if !stdinIsTTY() {
		return "", fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", dir)
	}
	return selectModel(dir, models, stdin, stderr)
}

func modelsDir(flag string) string {
	if d := strings.TrimSpace(flag); d != "" {
		return d
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var models []string
	for _, e := range ents {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), modelExt) {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	sort.Strings(models)
	return models, nil
}

func selectModel(dir string, models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	_, _ = fmt.Fprintf(stderr, "select a model from %s\n", dir)
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, filepath.Base(m))
	}

	r := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "selection [1-%d]: ", len(models))
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		idx, convErr := strconv.Atoi(line)
		if line != "" && convErr == nil && idx >= 1 && idx <= len(models) {
			return models[idx-1], nil
		}
		if errors.Is(err, io.EOF) {
			return "", errors.New("no valid selection on stdin; set --model")
		}
		if line != "" {
			_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
		}
	}
}

// vaultPaths returns the salt and check file locations.
func vaultPaths(flag string, cfg Config) (salt, check string, err error) {
	dir := strings.TrimSpace(flag)
	if dir == "" {
		dir = os.Getenv(envVaultDir)
	}
	if dir == "" {
		dir = cfg.VaultDir
	}
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", "", fmt.Errorf("locate vault directory: %w", err)
		}
		dir = filepath.Join(base, "hegemon", "vault")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", err
	}
	return filepath.Join(dir, "vault.salt"), filepath.Join(dir, "vault.check"), nil
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
