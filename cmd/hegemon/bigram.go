package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/engine/bigram"
	"github.com/samcharles93/hegemon/internal/logger"
)

func buildBigramCmd() *cli.Command {
	var corpus, out string
	return &cli.Command{
		Name:  "build-bigram",
		Usage: "Build a character bigram model from a text corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "corpus",
				Usage:       "UTF-8 text file to learn from",
				Required:    true,
				Destination: &corpus,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path (default: corpus name with " + modelExt + ")",
				Destination: &out,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			data, err := os.ReadFile(corpus)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read corpus: %v", err), 1)
			}
			if len(data) == 0 {
				return cli.Exit("error: corpus is empty", 1)
			}
			if out == "" {
				out = strings.TrimSuffix(corpus, filepath.Ext(corpus)) + modelExt
			}
			f := bigram.Build(string(data))
			if err := bigram.WriteFile(out, f); err != nil {
				return cli.Exit(fmt.Sprintf("error: write model: %v", err), 1)
			}
			logger.FromContext(ctx).Info("model written", "path", out, "pieces", len(f.Pieces))
			return nil
		},
	}
}
