package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/bench"
	"github.com/samcharles93/hegemon/internal/logger"
)

func benchmarkCmd() *cli.Command {
	var (
		catalog     string
		models      []string
		backendName string
		repetitions int64
		noWarmup    bool
		maxTokens   int64
		ctxSize     int64
		gpuLayers   int64
		seed        int64
		parallel    bool
		detailed    bool
		exportPath  string
	)
	d := bench.DefaultParams()

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Measure load time, TTFT and decode speed across models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "catalog",
				Usage:       "JSON model catalog; file names resolve against $" + bench.EnvBasePath,
				Destination: &catalog,
			},
			&cli.StringSliceFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model file to benchmark, repeatable",
				Destination: &models,
			},
			&cli.StringFlag{
				Name:        "backend",
				Value:       backendBigram,
				Destination: &backendName,
			},
			&cli.Int64Flag{
				Name:        "repetitions",
				Aliases:     []string{"r"},
				Value:       int64(d.Repetitions),
				Destination: &repetitions,
			},
			&cli.BoolFlag{
				Name:        "no-warmup",
				Destination: &noWarmup,
			},
			&cli.Int64Flag{
				Name:        "max-tokens",
				Aliases:     []string{"n"},
				Value:       int64(d.MaxTokens),
				Destination: &maxTokens,
			},
			&cli.Int64Flag{
				Name:        "ctx-size",
				Aliases:     []string{"c"},
				Value:       int64(d.ContextSize),
				Destination: &ctxSize,
			},
			&cli.Int64Flag{
				Name:        "gpu-layers",
				Aliases:     []string{"ngl"},
				Destination: &gpuLayers,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampler seed, -1 for random",
				Value:       -1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "parallel",
				Usage:       "benchmark models concurrently",
				Destination: &parallel,
			},
			&cli.BoolFlag{
				Name:        "detailed",
				Usage:       "print per-run samples",
				Destination: &detailed,
			},
			&cli.StringFlag{
				Name:        "export",
				Usage:       "write results as JSON to this path",
				Destination: &exportPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			targets, err := benchmarkTargets(catalog, models)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			backend, err := newBackend(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			p := d
			p.Repetitions = int(repetitions)
			p.Warmup = !noWarmup
			p.MaxTokens = int(maxTokens)
			p.ContextSize = int(ctxSize)
			p.GPULayers = int(gpuLayers)
			p.Parallel = parallel
			p.DetailedStats = detailed
			if seed >= 0 {
				s := uint64(seed)
				p.Seed = &s
			}

			r := &bench.Runner{Backend: backend, Log: log, Out: stdout}
			results := r.RunAll(ctx, targets, p)
			bench.PrintSummary(stdout, results)

			if exportPath != "" {
				if err := bench.Export(exportPath, p, results); err != nil {
					return cli.Exit(fmt.Sprintf("error: export: %v", err), 1)
				}
				log.Info("results exported", "path", exportPath)
			}
			if bench.Summarize(results).Succeeded == 0 {
				return cli.Exit("error: every benchmark failed", 1)
			}
			return nil
		},
	}
}

// benchmarkTargets merges catalog entries and explicit model paths.
func benchmarkTargets(catalog string, paths []string) ([]bench.ModelInfo, error) {
	var out []bench.ModelInfo
	if catalog != "" {
		base, err := bench.BasePath()
		if err != nil {
			return nil, err
		}
		ms, err := bench.LoadCatalog(catalog, base)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	for _, p := range paths {
		out = append(out, bench.FromPath(p))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("nothing to benchmark: pass --catalog or --model")
	}
	return out, nil
}
