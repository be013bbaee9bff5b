package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/hegemon/internal/sampling"
)

// Generate runs generation to a terminal condition and returns the result.
// It never panics on engine failure; failures are tagged StopError.
func (s *Session) Generate(prompt string, params GenerationParams) Result {
	return s.run(prompt, params, nil)
}

// GenerateStreaming calls onToken with each generated piece in order. A
// false return from onToken stops generation. It returns true only when
// generation ended on a natural stop condition.
func (s *Session) GenerateStreaming(prompt string, params GenerationParams, onToken func(string) bool) bool {
	return s.GenerateStreamingResult(prompt, params, onToken).StoppedBy.Natural()
}

// GenerateStreamingResult is GenerateStreaming returning the full result.
func (s *Session) GenerateStreamingResult(prompt string, params GenerationParams, onToken func(string) bool) Result {
	if onToken == nil {
		return Result{StoppedBy: StopError, Err: ErrNoCallback}
	}
	return s.run(prompt, params, onToken)
}

func (s *Session) run(prompt string, params GenerationParams, onToken func(string) bool) (res Result) {
	start := time.Now()
	defer func() { res.Total = time.Since(start) }()

	fail := func(reason StopReason, err error) Result {
		res.Text = ""
		res.StoppedBy = reason
		res.Err = err
		return res
	}

	if !s.IsLoaded() {
		return fail(StopError, ErrNotLoaded)
	}
	if prompt == "" {
		return fail(StopError, ErrEmptyPrompt)
	}
	p := params.clone()
	if p.MaxTokens <= 0 {
		return fail(StopError, fmt.Errorf("%w: max tokens %d must be positive", ErrInvalidConfig, p.MaxTokens))
	}

	pipe, err := sampling.Build(p.samplingConfig())
	if err != nil {
		return fail(StopError, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	promptToks, err := tokenize(s.vocab, prompt, true, true)
	if err != nil {
		return fail(StopError, err)
	}
	if len(promptToks) == 0 {
		return fail(StopError, fmt.Errorf("%w: prompt produced no tokens", ErrTokenize))
	}

	ctx, err := s.decodeContext(p)
	if err != nil {
		return fail(StopError, err)
	}
	vocab := s.vocab

	var (
		out     []byte
		scratch = make([]byte, 32)
		next    = make([]int32, 1)
		batch   = promptToks
		first   time.Time
	)
	defer func() {
		if !first.IsZero() {
			res.DecodeDuration = time.Since(first)
		}
	}()

	for {
		used := ctx.PosMax() + 1
		if used+len(batch) > ctx.NCtx() {
			return fail(StopContextExceeded, fmt.Errorf("%w: %d + %d > %d", ErrContextExceeded, used, len(batch), ctx.NCtx()))
		}
		if err := safeDecode(ctx, batch); err != nil {
			return fail(StopError, err)
		}

		tok := pipe.Sample(ctx.Logits())
		if first.IsZero() {
			first = time.Now()
			res.TimeToFirstToken = first.Sub(start)
		}
		if tok < 0 {
			return fail(StopError, fmt.Errorf("%w: empty candidate set", ErrSampling))
		}
		if vocab.IsEOG(tok) {
			res.StoppedBy = StopEndOfSequence
			break
		}
		pipe.Accept(tok)

		var piece []byte
		piece, scratch = tokenPiece(vocab, tok, scratch)
		out = append(out, piece...)
		res.TokensGenerated++

		if onToken != nil && !onToken(string(piece)) {
			res.StoppedBy = StopCancelled
			break
		}
		if res.TokensGenerated >= p.MaxTokens {
			res.StoppedBy = StopMaxTokens
			break
		}
		if n := matchStop(out, p.StopSequences); n > 0 {
			out = out[:len(out)-n]
			res.StoppedBy = StopSequence
			break
		}

		next[0] = tok
		batch = next
	}

	res.Text = string(out)
	return res
}

// matchStop returns the length of the first stop sequence, in configured
// order, that out ends with. Empty sequences never match.
func matchStop(out []byte, stops []string) int {
	for _, stop := range stops {
		if stop != "" && strings.HasSuffix(string(out), stop) {
			return len(stop)
		}
	}
	return 0
}
