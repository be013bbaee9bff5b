package bench

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type exportDoc struct {
	RunID     string         `json:"run_id"`
	Timestamp int64          `json:"benchmark_timestamp"`
	Params    exportParams   `json:"benchmark_params"`
	Results   []exportResult `json:"results"`
}

type exportParams struct {
	GPULayers   int     `json:"n_gpu_layers"`
	NGen        int     `json:"n_gen"`
	Repetitions int     `json:"repetitions"`
	Temperature float32 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float32 `json:"top_p"`
}

type exportResult struct {
	ModelID      string         `json:"model_id"`
	Success      bool           `json:"success"`
	PromptUsed   string         `json:"prompt_used"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metrics      *exportMetrics `json:"metrics,omitempty"`
}

type exportMetrics struct {
	LoadTimeMs       float64 `json:"load_time_ms"`
	GenerationTimeMs float64 `json:"generation_time_ms"`
	TotalTimeMs      float64 `json:"total_time_ms"`
	TokensGenerated  int     `json:"tokens_generated"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
	AvgTTFTMs        float64 `json:"avg_ttft_ms"`
	AvgDecodeTPS     float64 `json:"avg_decode_tps"`
	AvgEndToEndMs    float64 `json:"avg_end_to_end_latency_ms"`
	P50LatencyMs     float64 `json:"p50_latency_ms"`
	P95LatencyMs     float64 `json:"p95_latency_ms"`
	P99LatencyMs     float64 `json:"p99_latency_ms"`
	PeakRSSBytes     uint64  `json:"peak_rss_bytes"`

	GenerationTimes  []float64 `json:"generation_times_ms,omitempty"`
	GenerationStddev *float64  `json:"generation_time_stddev,omitempty"`
	TPSHistory       []float64 `json:"tokens_per_second_history,omitempty"`
	TPSStddev        *float64  `json:"tokens_per_second_stddev,omitempty"`
}

// Marshal renders results as the benchmark JSON document.
func Marshal(p Params, results []Result, now time.Time) ([]byte, error) {
	doc := exportDoc{
		RunID:     uuid.NewString(),
		Timestamp: now.Unix(),
		Params: exportParams{
			GPULayers:   p.GPULayers,
			NGen:        p.MaxTokens,
			Repetitions: p.Repetitions,
			Temperature: p.Temperature,
			TopK:        p.TopK,
			TopP:        p.TopP,
		},
		Results: make([]exportResult, 0, len(results)),
	}
	for _, r := range results {
		er := exportResult{
			ModelID:    r.Model.ID,
			Success:    r.Success,
			PromptUsed: r.Prompt,
		}
		if !r.Success || r.Metrics == nil {
			er.Success = false
			er.ErrorMessage = r.Err
			doc.Results = append(doc.Results, er)
			continue
		}
		m := r.Metrics
		em := &exportMetrics{
			LoadTimeMs:       ms(m.LoadTime),
			GenerationTimeMs: m.GenerationTimeMs,
			TotalTimeMs:      ms(m.TotalTime),
			TokensGenerated:  m.TokensGenerated,
			TokensPerSecond:  m.TokensPerSecond,
			AvgTTFTMs:        m.AvgTTFTMs,
			AvgDecodeTPS:     m.AvgDecodeTPS,
			AvgEndToEndMs:    m.AvgEndToEndMs,
			P50LatencyMs:     m.P50LatencyMs,
			P95LatencyMs:     m.P95LatencyMs,
			P99LatencyMs:     m.P99LatencyMs,
			PeakRSSBytes:     m.PeakRSSBytes,
		}
		if p.DetailedStats && len(m.GenerationTimes) > 0 {
			sd := m.GenerationStddev
			em.GenerationTimes = m.GenerationTimes
			em.GenerationStddev = &sd
		}
		if p.DetailedStats && len(m.DecodeTPSHistory) > 0 {
			sd := m.TPSStddev
			em.TPSHistory = m.DecodeTPSHistory
			em.TPSStddev = &sd
		}
		er.Metrics = em
		doc.Results = append(doc.Results, er)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Export writes the benchmark document to path, creating parent
// directories as needed.
func Export(path string, p Params, results []Result) error {
	data, err := Marshal(p, results, time.Now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
