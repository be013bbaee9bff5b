package bench

import (
	"math"
	"slices"
	"time"
)

// Sample is one timed generation.
type Sample struct {
	TTFT      time.Duration
	Decode    time.Duration
	EndToEnd  time.Duration
	Tokens    int
	DecodeTPS float64
}

// Metrics holds a run's histories and the aggregates derived from them.
// Aggregates are recomputed on every Add.
type Metrics struct {
	LoadTime        time.Duration
	TotalTime       time.Duration
	TokensGenerated int
	PeakRSSBytes    uint64

	TTFTHistory      []float64 // ms
	EndToEndHistory  []float64 // ms
	DecodeTPSHistory []float64
	GenerationTimes  []float64 // decode ms

	AvgTTFTMs        float64
	AvgDecodeTPS     float64
	AvgEndToEndMs    float64
	P50LatencyMs     float64
	P95LatencyMs     float64
	P99LatencyMs     float64
	GenerationTimeMs float64
	TokensPerSecond  float64
	GenerationStddev float64
	TPSStddev        float64
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Add appends s and refreshes the aggregates.
func (m *Metrics) Add(s Sample) {
	m.TTFTHistory = append(m.TTFTHistory, ms(s.TTFT))
	m.EndToEndHistory = append(m.EndToEndHistory, ms(s.EndToEnd))
	m.DecodeTPSHistory = append(m.DecodeTPSHistory, s.DecodeTPS)
	m.GenerationTimes = append(m.GenerationTimes, ms(s.Decode))
	m.TokensGenerated += s.Tokens
	m.recompute()
}

func (m *Metrics) recompute() {
	m.AvgTTFTMs = Mean(m.TTFTHistory)
	m.AvgDecodeTPS = Mean(m.DecodeTPSHistory)
	m.AvgEndToEndMs = Mean(m.EndToEndHistory)
	m.P50LatencyMs, m.P95LatencyMs, m.P99LatencyMs = 0, 0, 0
	if len(m.EndToEndHistory) >= 2 {
		m.P50LatencyMs = Percentile(m.EndToEndHistory, 0.50)
		m.P95LatencyMs = Percentile(m.EndToEndHistory, 0.95)
		m.P99LatencyMs = Percentile(m.EndToEndHistory, 0.99)
	}
	m.GenerationTimeMs = 0
	for _, v := range m.GenerationTimes {
		m.GenerationTimeMs += v
	}
	m.TokensPerSecond = 0
	if m.GenerationTimeMs > 0 {
		m.TokensPerSecond = float64(m.TokensGenerated) / (m.GenerationTimeMs / 1000)
	}
	m.GenerationStddev = Stddev(m.GenerationTimes)
	m.TPSStddev = Stddev(m.DecodeTPSHistory)
}

// Mean is 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Percentile indexes a sorted copy of xs at floor(p*(n-1)).
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	idx := int(math.Floor(p * float64(len(sorted)-1)))
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}

// Stddev is the sample standard deviation, 0 for fewer than two values.
func Stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
