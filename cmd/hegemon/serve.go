package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/api"
	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/metrics"
	"github.com/samcharles93/hegemon/internal/service"
	"github.com/samcharles93/hegemon/internal/speech"
)

const defaultServeAddr = "127.0.0.1:8080"

func serveCmd() *cli.Command {
	var (
		m           modelFlags
		s           samplingFlags
		addr        string
		readTimeout time.Duration
	)
	flags := append(m.flags(), s.flags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       defaultServeAddr,
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP, SSE and WebSocket API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFrom(ctx)
			applyModelConfig(cmd, cfg, &m)
			applySamplingConfig(cmd, cfg, &s)
			if cfg.ServerAddress != "" && !isSet(cmd, "addr") {
				addr = cfg.ServerAddress
			}

			backend, err := newBackend(m.backend)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			reg := metrics.New(nil)
			svc := service.New(backend, speech.Unavailable{},
				service.WithLogger(log),
				service.WithObserver(reg.Observe),
			)
			if err := svc.InitializeGlobalBackends(); err != nil {
				return cli.Exit(fmt.Sprintf("error: init backend: %v", err), 1)
			}
			defer func() {
				if err := svc.Close(); err != nil {
					log.Warn("service close failed", "error", err)
				}
				svc.FreeGlobalBackends()
			}()

			// Preload only when a model was named; otherwise clients call
			// the load route.
			if m.model != "" {
				path, err := resolveModelPath(m.model, m.modelsPath, stdin, os.Stderr)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
				}
				if !svc.InitializeLlamaModel(m.loadConfig(path)) {
					return cli.Exit(fmt.Sprintf("error: load model: %v", svc.LoadError()), 1)
				}
				log.Info("model preloaded", "path", path)
			}

			srv := api.NewServer(svc,
				api.WithLogger(log),
				api.WithMetrics(reg),
				api.WithDefaults(s.params()),
				api.WithModelsDir(modelsDir(m.modelsPath)),
			)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(hs *http.Server) error {
					hs.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, srv.Handler())
		},
	}
}
