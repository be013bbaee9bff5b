// Package bigram is a small pure-Go backend that satisfies engine.Backend.
//
// A model is a JSON document holding a piece vocabulary and sparse
// next-token weights keyed by the previous token. It is not a transformer;
// it exists so the session, sampler and benchmark paths can run end to end
// without a native runtime.
package bigram

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

// File is the on-disk model layout.
type File struct {
	Pieces  []string                      `json:"pieces"`
	BOS     int32                         `json:"bos"`
	EOS     int32                         `json:"eos"`
	Special []int32                       `json:"special,omitempty"`
	Floor   float32                       `json:"floor"`
	Bigrams map[string]map[string]float32 `json:"bigrams"`
}

func readFile(path string, useMMap bool) (*File, error) {
	data, release, err := readBytes(path, useMMap)
	if err != nil {
		return nil, err
	}
	defer release()

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("bigram: parse %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("bigram: %s: %w", path, err)
	}
	return &f, nil
}

func readBytes(path string, useMMap bool) ([]byte, func(), error) {
	if !useMMap {
		data, err := os.ReadFile(path)
		return data, func() {}, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = fh.Close() }()

	st, err := fh.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() == 0 {
		return nil, nil, fmt.Errorf("bigram: %s is empty", path)
	}
	data, err := unix.Mmap(int(fh.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("bigram: mmap %s: %w", path, err)
	}
	return data, func() { _ = unix.Munmap(data) }, nil
}

func (f *File) validate() error {
	n := int32(len(f.Pieces))
	if n == 0 {
		return fmt.Errorf("empty vocabulary")
	}
	if f.BOS < 0 || f.BOS >= n {
		return fmt.Errorf("bos %d out of range", f.BOS)
	}
	if f.EOS < 0 || f.EOS >= n {
		return fmt.Errorf("eos %d out of range", f.EOS)
	}
	for _, id := range f.Special {
		if id < 0 || id >= n {
			return fmt.Errorf("special token %d out of range", id)
		}
	}
	for from, row := range f.Bigrams {
		if _, err := parseID(from, n); err != nil {
			return err
		}
		for to := range row {
			if _, err := parseID(to, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseID(s string, n int32) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("token key %q: %w", s, err)
	}
	if v < 0 || int32(v) >= n {
		return 0, fmt.Errorf("token key %d out of range", v)
	}
	return int32(v), nil
}

// Build derives a character-level model from corpus. Each distinct rune
// becomes a piece; weights are log frequencies of observed successions.
// The corpus end is treated as a transition to EOS.
func Build(corpus string) *File {
	f := &File{
		Pieces:  []string{"<s>", "</s>"},
		BOS:     0,
		EOS:     1,
		Special: []int32{0, 1},
		Floor:   -12,
		Bigrams: make(map[string]map[string]float32),
	}

	runes := []rune(corpus)
	uniq := make(map[rune]struct{}, 64)
	for _, r := range runes {
		uniq[r] = struct{}{}
	}
	sorted := make([]rune, 0, len(uniq))
	for r := range uniq {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ids := make(map[rune]int32, len(sorted))
	for _, r := range sorted {
		ids[r] = int32(len(f.Pieces))
		f.Pieces = append(f.Pieces, string(r))
	}

	counts := make(map[int32]map[int32]int)
	add := func(from, to int32) {
		row := counts[from]
		if row == nil {
			row = make(map[int32]int)
			counts[from] = row
		}
		row[to]++
	}
	prev := f.BOS
	for _, r := range runes {
		cur := ids[r]
		add(prev, cur)
		prev = cur
	}
	add(prev, f.EOS)

	for from, row := range counts {
		total := 0
		for _, c := range row {
			total += c
		}
		out := make(map[string]float32, len(row))
		for to, c := range row {
			out[strconv.Itoa(int(to))] = float32(math.Log(float64(c) / float64(total)))
		}
		f.Bigrams[strconv.Itoa(int(from))] = out
	}
	return f
}

// WriteFile stores f at path as indented JSON.
func WriteFile(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
