package sampling

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Candidates is the working set for one sampling step. Stages shrink or
// rescale it in place; P is only meaningful after a stage that calls
// softmax.
type Candidates struct {
	IDs    []int32
	Logits []float32
	P      []float32
	Sorted bool
}

// Reset loads logits as the full candidate set.
func (c *Candidates) Reset(logits []float32) {
	n := len(logits)
	if cap(c.IDs) < n {
		c.IDs = make([]int32, n)
		c.Logits = make([]float32, n)
		c.P = make([]float32, n)
	}
	c.IDs = c.IDs[:n]
	c.Logits = c.Logits[:n]
	c.P = c.P[:n]
	for i, l := range logits {
		c.IDs[i] = int32(i)
		c.Logits[i] = l
	}
	c.Sorted = false
}

func (c *Candidates) Len() int { return len(c.IDs) }

func (c *Candidates) truncate(n int) {
	c.IDs = c.IDs[:n]
	c.Logits = c.Logits[:n]
	c.P = c.P[:n]
}

// sortDesc orders candidates by logit, highest first.
func (c *Candidates) sortDesc() {
	if c.Sorted {
		return
	}
	idx := make([]int, len(c.IDs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case c.Logits[a] > c.Logits[b]:
			return -1
		case c.Logits[a] < c.Logits[b]:
			return 1
		}
		return 0
	})
	ids := make([]int32, len(idx))
	logits := make([]float32, len(idx))
	for i, j := range idx {
		ids[i] = c.IDs[j]
		logits[i] = c.Logits[j]
	}
	copy(c.IDs, ids)
	copy(c.Logits, logits)
	c.Sorted = true
}

// softmax fills P from Logits.
func (c *Candidates) softmax() {
	if len(c.Logits) == 0 {
		return
	}
	maxv := c.Logits[0]
	for _, l := range c.Logits[1:] {
		maxv = max(maxv, l)
	}
	var sum float64
	for i, l := range c.Logits {
		e := math.Exp(float64(l - maxv))
		c.P[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / sum)
	for i := range c.P {
		c.P[i] *= inv
	}
}

// Stage is one step of the sampling chain.
type Stage interface {
	Name() string
	Apply(c *Candidates)
}

// Penalties scales the logits of tokens seen in the last Window accepted
// tokens. The repeat penalty divides positive logits and multiplies negative
// ones; frequency and presence penalties are subtracted.
type Penalties struct {
	Window    int
	Repeat    float32
	Frequency float32
	Presence  float32

	history []int32
	counts  map[int32]int
}

func (p *Penalties) Name() string { return "penalties" }

// Accept records a generated token in the history window.
func (p *Penalties) Accept(tok int32) {
	if p.Window <= 0 {
		return
	}
	if p.counts == nil {
		p.counts = make(map[int32]int, p.Window)
	}
	if len(p.history) == p.Window {
		old := p.history[0]
		p.history = p.history[1:]
		if p.counts[old]--; p.counts[old] <= 0 {
			delete(p.counts, old)
		}
	}
	p.history = append(p.history, tok)
	p.counts[tok]++
}

func (p *Penalties) noop() bool {
	return p.Window <= 0 || (p.Repeat == 1 && p.Frequency == 0 && p.Presence == 0)
}

func (p *Penalties) Apply(c *Candidates) {
	if p.noop() || len(p.counts) == 0 {
		return
	}
	for i, id := range c.IDs {
		n, ok := p.counts[id]
		if !ok {
			continue
		}
		if c.Logits[i] > 0 {
			c.Logits[i] /= p.Repeat
		} else {
			c.Logits[i] *= p.Repeat
		}
		c.Logits[i] -= float32(n)*p.Frequency + p.Presence
	}
	c.Sorted = false
}

// MinP drops candidates whose probability is below P times the most likely
// candidate's probability.
type MinP struct {
	P       float32
	MinKeep int
}

func (m MinP) Name() string { return "min_p" }

func (m MinP) Apply(c *Candidates) {
	if m.P <= 0 || c.Len() == 0 {
		return
	}
	maxv := c.Logits[0]
	for _, l := range c.Logits[1:] {
		maxv = max(maxv, l)
	}
	threshold := maxv + float32(math.Log(float64(m.P)))

	keep := 0
	for _, l := range c.Logits {
		if l >= threshold {
			keep++
		}
	}
	if keep < max(m.MinKeep, 1) {
		return
	}
	n := 0
	for i := range c.IDs {
		if c.Logits[i] >= threshold {
			c.IDs[n] = c.IDs[i]
			c.Logits[n] = c.Logits[i]
			n++
		}
	}
	c.truncate(n)
}

// TopK keeps the K highest logits.
type TopK struct {
	K int
}

func (t TopK) Name() string { return "top_k" }

func (t TopK) Apply(c *Candidates) {
	if t.K <= 0 || t.K >= c.Len() {
		c.sortDesc()
		return
	}
	c.sortDesc()
	c.truncate(t.K)
}

// TopP keeps the smallest prefix whose cumulative probability reaches P.
type TopP struct {
	P       float32
	MinKeep int
}

func (t TopP) Name() string { return "top_p" }

func (t TopP) Apply(c *Candidates) {
	if t.P >= 1 || c.Len() == 0 {
		return
	}
	c.sortDesc()
	c.softmax()
	var cum float32
	cut := c.Len()
	for i, p := range c.P {
		cum += p
		if cum >= t.P && i+1 >= t.MinKeep {
			cut = i + 1
			break
		}
	}
	c.truncate(cut)
}

// Temperature divides logits by T. T <= 0 collapses the set to its argmax.
type Temperature struct {
	T float32
}

func (t Temperature) Name() string { return "temperature" }

func (t Temperature) Apply(c *Candidates) {
	if c.Len() == 0 {
		return
	}
	if t.T <= 0 {
		best := 0
		for i := 1; i < c.Len(); i++ {
			if c.Logits[i] > c.Logits[best] {
				best = i
			}
		}
		c.IDs[0], c.Logits[0] = c.IDs[best], c.Logits[best]
		c.truncate(1)
		c.Sorted = true
		return
	}
	if t.T == 1 {
		return
	}
	inv := 1 / t.T
	for i := range c.Logits {
		c.Logits[i] *= inv
	}
}

// Dist draws the final token from the softmax of the remaining candidates.
type Dist struct {
	rng *rand.Rand
}

// NewDist returns a draw stage seeded with seed. DefaultSeed draws a fresh
// random seed.
func NewDist(seed uint64) *Dist {
	if seed == DefaultSeed {
		seed = rand.Uint64()
	}
	return &Dist{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (d *Dist) Name() string { return "dist" }

// Apply leaves exactly one candidate: the drawn token.
func (d *Dist) Apply(c *Candidates) {
	if c.Len() <= 1 {
		return
	}
	c.softmax()
	r := d.rng.Float32()
	var cum float32
	pick := c.Len() - 1
	for i, p := range c.P {
		cum += p
		if r < cum {
			pick = i
			break
		}
	}
	c.IDs[0], c.Logits[0], c.P[0] = c.IDs[pick], c.Logits[pick], c.P[pick]
	c.truncate(1)
}
