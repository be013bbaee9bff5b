package bench

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary aggregates a set of results.
type Summary struct {
	Total     int
	Succeeded int
	// Fastest is the successful result with the highest mean decode TPS.
	Fastest *Result
}

func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for i := range results {
		r := &results[i]
		if !r.Success || r.Metrics == nil {
			continue
		}
		s.Succeeded++
		if s.Fastest == nil || r.Metrics.AvgDecodeTPS > s.Fastest.Metrics.AvgDecodeTPS {
			s.Fastest = r
		}
	}
	return s
}

// PrintResult writes one model's metrics as a table.
func PrintResult(w io.Writer, r Result, detailed bool) {
	if !r.Success || r.Metrics == nil {
		fmt.Fprintf(w, "  %s FAILED: %s\n", r.Model.ID, r.Err)
		return
	}
	m := r.Metrics
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(r.Model.ID)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Load time", fmt.Sprintf("%.2f ms", ms(m.LoadTime))},
		{"Avg TTFT", fmt.Sprintf("%.2f ms", m.AvgTTFTMs)},
		{"Avg decode speed", fmt.Sprintf("%.2f tokens/sec", m.AvgDecodeTPS)},
		{"Avg E2E latency", fmt.Sprintf("%.2f ms", m.AvgEndToEndMs)},
		{"Latency P50/P95/P99", fmt.Sprintf("%.2f / %.2f / %.2f ms", m.P50LatencyMs, m.P95LatencyMs, m.P99LatencyMs)},
		{"Tokens generated", m.TokensGenerated},
		{"Peak RSS", fmt.Sprintf("%.1f MiB", float64(m.PeakRSSBytes)/(1<<20))},
	})
	if detailed {
		tw.AppendSeparator()
		tw.AppendRows([]table.Row{
			{"Decode time stddev", fmt.Sprintf("%.2f ms", m.GenerationStddev)},
			{"Decode TPS stddev", fmt.Sprintf("%.2f", m.TPSStddev)},
			{"E2E history", joinFloats(m.EndToEndHistory)},
		})
	}
	tw.Render()
}

// PrintSummary writes the per-model comparison, the fastest model and the
// success ratio.
func PrintSummary(w io.Writer, results []Result) {
	fmt.Fprintf(w, "\n%s\nBENCHMARK SUMMARY\n%s\n", strings.Repeat("=", 80), strings.Repeat("=", 80))

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Model", "Status", "Load ms", "TTFT ms", "Decode TPS", "P50 ms", "P95 ms", "P99 ms"})
	for _, r := range results {
		if !r.Success || r.Metrics == nil {
			tw.AppendRow(table.Row{r.Model.ID, "failed", "-", "-", "-", "-", "-", "-"})
			continue
		}
		m := r.Metrics
		tw.AppendRow(table.Row{
			r.Model.ID, "ok",
			fmt.Sprintf("%.2f", ms(m.LoadTime)),
			fmt.Sprintf("%.2f", m.AvgTTFTMs),
			fmt.Sprintf("%.2f", m.AvgDecodeTPS),
			fmt.Sprintf("%.2f", m.P50LatencyMs),
			fmt.Sprintf("%.2f", m.P95LatencyMs),
			fmt.Sprintf("%.2f", m.P99LatencyMs),
		})
	}
	tw.Render()

	s := Summarize(results)
	if s.Fastest != nil {
		fmt.Fprintf(w, "Fastest model (by decode TPS): %s (%.2f tokens/sec)\n", s.Fastest.Model.ID, s.Fastest.Metrics.AvgDecodeTPS)
	}
	fmt.Fprintf(w, "Success rate: %d/%d (%.2f%%)\n", s.Succeeded, s.Total, 100*s.SuccessRate())
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.1f", x)
	}
	return strings.Join(parts, ", ")
}
