package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/logger"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	var lf logFlags
	return &cli.Command{
		Name:  "hegemon",
		Usage: "Local LLM and speech inference host",
		Flags: lf.flags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := LoadConfig(configPath())
			if err != nil {
				return ctx, cli.Exit(err.Error(), 1)
			}
			lf.apply(cmd, cfg)
			log, err := lf.open(os.Stderr)
			if err != nil {
				return ctx, cli.Exit(err.Error(), 1)
			}
			ctx = logger.WithContext(ctx, log)
			return withConfig(ctx, cfg), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			generateCmd(),
			streamCmd(),
			tokenizeCmd(),
			benchmarkCmd(),
			serveCmd(),
			vaultCmd(),
			buildBigramCmd(),
			versionCmd(),
		},
	}
}
