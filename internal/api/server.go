// Package api serves the generation facade over HTTP: JSON endpoints, SSE
// streaming, a WebSocket stream and Prometheus metrics.
package api

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/metrics"
	"github.com/samcharles93/hegemon/internal/service"
	"github.com/samcharles93/hegemon/internal/session"
)

const (
	routeHealth     = "/v1/health"
	routeStatus     = "/v1/status"
	routeLoad       = "/v1/models/load"
	routeUnload     = "/v1/models/unload"
	routeGenerate   = "/v1/generate"
	routeStream     = "/v1/generate/stream"
	routeWSGenerate = "/v1/ws/generate"
	routeTokenize   = "/v1/tokenize"
	routeDetokenize = "/v1/detokenize"
	routeTranscribe = "/v1/transcribe"
	routeMetrics    = "/metrics"
)

var knownRoutes = map[string]bool{
	routeHealth: true, routeStatus: true, routeLoad: true, routeUnload: true,
	routeGenerate: true, routeStream: true, routeWSGenerate: true,
	routeTokenize: true, routeDetokenize: true, routeTranscribe: true, routeMetrics: true,
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics shares m with the caller, typically so the service's observer
// and /metrics use the same registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDefaults sets the generation parameters that request fields override.
func WithDefaults(p session.GenerationParams) Option {
	return func(s *Server) { s.defaults = p }
}

// WithModelsDir resolves relative model paths in load requests against dir.
func WithModelsDir(dir string) Option {
	return func(s *Server) { s.modelsDir = dir }
}

// WithOriginCheck replaces the WebSocket origin check. The default accepts
// same-host origins only.
func WithOriginCheck(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

type Server struct {
	svc       *service.Service
	metrics   *metrics.Metrics
	log       logger.Logger
	defaults  session.GenerationParams
	modelsDir string
	upgrader  websocket.Upgrader
}

func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		log:      logger.Default(),
		defaults: session.DefaultGenerationParams(),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Register mounts the JSON and SSE routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET(routeHealth, s.handleHealth)
	e.GET(routeStatus, s.handleStatus)
	e.POST(routeLoad, s.handleLoad)
	e.POST(routeUnload, s.handleUnload)
	e.POST(routeGenerate, s.handleGenerate)
	e.POST(routeStream, s.handleStream)
	e.POST(routeTokenize, s.handleTokenize)
	e.POST(routeDetokenize, s.handleDetokenize)
	e.POST(routeTranscribe, s.handleTranscribe)
}

// Handler is the full HTTP surface: the echo routes plus the WebSocket
// stream and /metrics, with request ids and instrumentation.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.Use(middleware.Recover())
	s.Register(e)

	mux := http.NewServeMux()
	mux.HandleFunc(routeWSGenerate, s.handleWSGenerate)
	mux.Handle(routeMetrics, s.metrics.Handler())
	mux.Handle("/", e)

	return withRequestID(s.metrics.Instrument(mux, routeName))
}

func routeName(r *http.Request) string {
	if knownRoutes[r.URL.Path] {
		return r.URL.Path
	}
	return "other"
}

func (s *Server) resolveModel(path string) string {
	if s.modelsDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.modelsDir, path)
}
