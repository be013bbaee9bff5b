// Package bench measures load time, time to first token, decode throughput
// and end-to-end latency of models through a session.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/hegemon/internal/engine"
	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/session"
)

// EnvBasePath names the variable locating model files and outputs.
const EnvBasePath = "HEGEMON_PATH"

const WarmupPrompt = "Hello"

// DefaultPrompts rotate across repetitions.
var DefaultPrompts = []string{
	"What are the main advantages of using C++ for system programming?",
	"Where is Ouagadougou located?",
	"What is the capital of Burkina Faso?",
	"Write a short poem about Askia Mohammed.",
	"Explain the concept of recursion in programming with an example.",
	"What are the key differences between machine learning and deep learning?",
}

var ErrNoBasePath = errors.New(EnvBasePath + " is not set")

// BasePath returns HEGEMON_PATH or ErrNoBasePath.
func BasePath() (string, error) {
	p := os.Getenv(EnvBasePath)
	if p == "" {
		return "", ErrNoBasePath
	}
	return p, nil
}

// Params configures a benchmark.
type Params struct {
	GPULayers     int
	ContextSize   int
	Repetitions   int
	Warmup        bool
	MaxTokens     int
	Temperature   float32
	TopK          int
	TopP          float32
	Seed          *uint64
	Parallel      bool
	DetailedStats bool
}

func DefaultParams() Params {
	return Params{
		ContextSize: session.DefaultContextSize,
		Repetitions: 10,
		Warmup:      true,
		MaxTokens:   128,
		Temperature: 0.7,
		TopK:        40,
		TopP:        0.9,
	}
}

func (p Params) generation() session.GenerationParams {
	g := session.DefaultGenerationParams()
	g.MaxTokens = p.MaxTokens
	g.Temperature = p.Temperature
	g.TopK = p.TopK
	g.TopP = p.TopP
	g.Seed = p.Seed
	return g
}

// Result is the outcome of benchmarking one model. Metrics is nil when
// Success is false.
type Result struct {
	Model         ModelInfo
	Success       bool
	Prompt        string
	GeneratedText string
	Err           string
	Metrics       *Metrics
}

// Runner benchmarks models loaded through Backend. Out receives the
// running log and may be nil.
type Runner struct {
	Backend engine.Backend
	// Gate guards Backend init; nil uses the process-wide gate.
	Gate    *engine.Gate
	Prompts []string
	Log     logger.Logger
	Out     io.Writer

	// RSS reports the process resident set; nil uses gopsutil.
	RSS func() (uint64, error)

	outMu sync.Mutex
}

func (r *Runner) logger() logger.Logger {
	if r.Log == nil {
		return logger.Default()
	}
	return r.Log
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out == nil {
		return
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.Out, format, args...)
}

func (r *Runner) prompts() []string {
	if len(r.Prompts) == 0 {
		return DefaultPrompts
	}
	return r.Prompts
}

func (r *Runner) rss() uint64 {
	fn := r.RSS
	if fn == nil {
		fn = processRSS
	}
	v, err := fn()
	if err != nil {
		return 0
	}
	return v
}

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}

// Run loads m fresh, optionally warms up, and times Repetitions
// generations. Any failure discards the metrics gathered so far.
func (r *Runner) Run(ctx context.Context, m ModelInfo, p Params) Result {
	res := Result{Model: m}
	start := time.Now()
	log := r.logger().With("model", m.ID)

	metrics, prompt, text, err := r.run(ctx, m, p, log)
	res.Prompt = prompt
	if err != nil {
		res.Err = err.Error()
		log.Warn("benchmark failed", "error", err)
		r.printf("  FAILED: %s\n", res.Err)
		return res
	}
	metrics.TotalTime = time.Since(start)
	res.Success = true
	res.GeneratedText = text
	res.Metrics = metrics
	return res
}

func (r *Runner) run(ctx context.Context, m ModelInfo, p Params, log logger.Logger) (*Metrics, string, string, error) {
	if p.Repetitions < 1 {
		return nil, "", "", fmt.Errorf("repetitions %d < 1", p.Repetitions)
	}
	gate := r.Gate
	if gate == nil {
		gate = session.ProcessGate()
	}
	sess := session.New(r.Backend, session.WithLogger(log), session.WithGate(gate))
	defer func() { _ = sess.Close() }()

	cfg := session.DefaultLoadConfig(m.Path)
	cfg.GPULayers = p.GPULayers
	if p.ContextSize > 0 {
		cfg.ContextSize = p.ContextSize
	}

	var metrics Metrics
	peak := r.rss()

	loadStart := time.Now()
	if !sess.Load(cfg) {
		return nil, "", "", fmt.Errorf("load %s: %w", m.Path, sess.Err())
	}
	metrics.LoadTime = time.Since(loadStart)
	peak = max(peak, r.rss())

	gen := p.generation()
	if p.Warmup {
		r.printf("  Running warmup...\n")
		if res := sess.Generate(WarmupPrompt, gen); !res.StoppedBy.Natural() {
			return nil, "", "", fmt.Errorf("warmup: %w", res.Err)
		}
	}

	prompts := r.prompts()
	var firstPrompt, firstText string
	for i := range p.Repetitions {
		if err := ctx.Err(); err != nil {
			return nil, firstPrompt, "", err
		}
		prompt := prompts[i%len(prompts)]
		if i == 0 {
			firstPrompt = prompt
		}

		t0 := time.Now()
		res := sess.Generate(prompt, gen)
		e2e := time.Since(t0)
		if !res.StoppedBy.Natural() {
			return nil, firstPrompt, "", fmt.Errorf("repetition %d: %s: %w", i+1, res.StoppedBy, res.Err)
		}
		if i == 0 {
			firstText = res.Text
		}
		metrics.Add(Sample{
			TTFT:      res.TimeToFirstToken,
			Decode:    res.DecodeDuration,
			EndToEnd:  e2e,
			Tokens:    res.TokensGenerated,
			DecodeTPS: res.DecodeTPS(),
		})
		peak = max(peak, r.rss())
		log.Debug("repetition done", "n", i+1, "e2e_ms", ms(e2e), "tokens", res.TokensGenerated)
	}
	metrics.PeakRSSBytes = peak
	return &metrics, firstPrompt, firstText, nil
}

// RunAll benchmarks every model, one goroutine per model when p.Parallel
// is set. Results keep the order of models.
func (r *Runner) RunAll(ctx context.Context, models []ModelInfo, p Params) []Result {
	results := make([]Result, len(models))
	if !p.Parallel {
		for i, m := range models {
			r.printf("Benchmarking %s (%d/%d)\n", m.ID, i+1, len(models))
			results[i] = r.Run(ctx, m, p)
			r.printResult(results[i], p.DetailedStats)
		}
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models {
		g.Go(func() error {
			r.printf("Benchmarking %s\n", m.ID)
			res := r.Run(gctx, m, p)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			r.printResult(res, p.DetailedStats)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) printResult(res Result, detailed bool) {
	if r.Out == nil {
		return
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	PrintResult(r.Out, res, detailed)
}
