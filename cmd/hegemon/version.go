package main

import (
	"context"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build details",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, err := io.WriteString(stdout, version.Resolve().Details())
			return err
		},
	}
}
