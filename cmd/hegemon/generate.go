package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/engine"
	"github.com/samcharles93/hegemon/internal/engine/bigram"
	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/session"
)

const backendBigram = "bigram"

// Seams for tests.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

func newBackend(name string) (engine.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", backendBigram:
		return bigram.Backend{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, backendBigram)
	}
}

// openSession resolves and loads the model named by m. The returned close
// function unloads it and frees the backend.
func openSession(ctx context.Context, cmd *cli.Command, m *modelFlags) (*session.Session, func(), error) {
	log := logger.FromContext(ctx)
	applyModelConfig(cmd, configFrom(ctx), m)

	path, err := resolveModelPath(m.model, m.modelsPath, stdin, os.Stderr)
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
	}
	backend, err := newBackend(m.backend)
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	s := session.New(backend, session.WithLogger(log))
	if !s.Load(m.loadConfig(path)) {
		session.FreeBackend(backend)
		return nil, nil, cli.Exit(fmt.Sprintf("error: load model: %v", s.Err()), 1)
	}
	closeFn := func() {
		if err := s.Close(); err != nil {
			log.Warn("session close failed", "error", err)
		}
		session.FreeBackend(backend)
	}
	return s, closeFn, nil
}

func promptFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "prompt",
		Aliases:     []string{"p"},
		Usage:       "prompt text, - to read stdin (default: positional arguments)",
		Destination: dst,
	}
}

func readPrompt(flag string, args []string) (string, error) {
	if flag == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	if flag != "" {
		return flag, nil
	}
	return strings.Join(args, " "), nil
}

func logResult(log logger.Logger, res session.Result) {
	log.Info("generation finished",
		"stopped_by", res.StoppedBy,
		"tokens", res.TokensGenerated,
		"ttft_ms", fmt.Sprintf("%.2f", res.TTFTMillis()),
		"decode_tps", fmt.Sprintf("%.2f", res.DecodeTPS()),
		"total_ms", fmt.Sprintf("%.2f", res.TotalMillis()),
	)
}

func generateCmd() *cli.Command {
	var (
		m      modelFlags
		s      samplingFlags
		prompt string
	)
	flags := append(m.flags(), s.flags()...)
	flags = append(flags, promptFlag(&prompt))

	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate a completion and print it when done",
		ArgsUsage: "[prompt...]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applySamplingConfig(cmd, configFrom(ctx), &s)
			text, err := readPrompt(prompt, cmd.Args().Slice())
			if err != nil {
				return err
			}

			sess, closeFn, err := openSession(ctx, cmd, &m)
			if err != nil {
				return err
			}
			defer closeFn()

			res := sess.Generate(text, s.params())
			if res.Err != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", res.Err), 1)
			}
			_, _ = fmt.Fprintln(stdout, res.Text)
			logResult(log, res)
			return nil
		},
	}
}

func streamCmd() *cli.Command {
	var (
		m      modelFlags
		s      samplingFlags
		prompt string
	)
	flags := append(m.flags(), s.flags()...)
	flags = append(flags, promptFlag(&prompt))

	return &cli.Command{
		Name:      "stream",
		Usage:     "Generate a completion, printing tokens as they arrive",
		ArgsUsage: "[prompt...]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applySamplingConfig(cmd, configFrom(ctx), &s)
			mode, err := parseStreamMode(s.streamMode)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			text, err := readPrompt(prompt, cmd.Args().Slice())
			if err != nil {
				return err
			}

			sess, closeFn, err := openSession(ctx, cmd, &m)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			sw := NewStreamWriter(stdout, mode, s.raw)
			res := sess.GenerateStreamingResult(text, s.params(), func(piece string) bool {
				return ctx.Err() == nil && sw.Write(piece)
			})
			sw.Flush()
			_, _ = fmt.Fprintln(stdout)
			if res.Err != nil {
				return cli.Exit(fmt.Sprintf("error: stream: %v", res.Err), 1)
			}
			logResult(log, res)
			return nil
		},
	}
}

func tokenizeCmd() *cli.Command {
	var (
		m      modelFlags
		prompt string
		pieces bool
	)
	flags := append(m.flags(), promptFlag(&prompt), &cli.BoolFlag{
		Name:        "pieces",
		Usage:       "print each token id with its text",
		Destination: &pieces,
	})

	return &cli.Command{
		Name:      "tokenize",
		Usage:     "Print the token ids for a text",
		ArgsUsage: "[text...]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text, err := readPrompt(prompt, cmd.Args().Slice())
			if err != nil {
				return err
			}
			sess, closeFn, err := openSession(ctx, cmd, &m)
			if err != nil {
				return err
			}
			defer closeFn()

			toks := sess.Tokenize(text)
			if pieces {
				for _, t := range toks {
					_, _ = fmt.Fprintf(stdout, "%d\t%q\n", t, sess.Detokenize([]int32{t}))
				}
				return nil
			}
			ids := make([]string, len(toks))
			for i, t := range toks {
				ids[i] = strconv.Itoa(int(t))
			}
			_, _ = fmt.Fprintln(stdout, strings.Join(ids, " "))
			return nil
		},
	}
}
