package api

import (
	"github.com/samcharles93/hegemon/internal/session"
	"github.com/samcharles93/hegemon/internal/speech"
)

// GenerateRequest mirrors session.GenerationParams. Nil fields keep the
// server defaults.
type GenerateRequest struct {
	Prompt           string   `json:"prompt"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Temperature      *float32 `json:"temperature,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	RepeatPenalty    *float32 `json:"repeat_penalty,omitempty"`
	PenaltyWindow    *int     `json:"penalty_last_n,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	BatchSize        *int     `json:"n_batch,omitempty"`
	Threads          *int     `json:"n_threads,omitempty"`
	Seed             *uint64  `json:"seed,omitempty"`
}

// params overlays the request onto defaults.
func (r GenerateRequest) params(defaults session.GenerationParams) session.GenerationParams {
	p := defaults
	setIf(&p.MaxTokens, r.MaxTokens)
	setIf(&p.Temperature, r.Temperature)
	setIf(&p.TopK, r.TopK)
	setIf(&p.TopP, r.TopP)
	setIf(&p.RepeatPenalty, r.RepeatPenalty)
	setIf(&p.PenaltyWindow, r.PenaltyWindow)
	setIf(&p.FrequencyPenalty, r.FrequencyPenalty)
	setIf(&p.PresencePenalty, r.PresencePenalty)
	setIf(&p.BatchSize, r.BatchSize)
	setIf(&p.Threads, r.Threads)
	if r.Stop != nil {
		p.StopSequences = r.Stop
	}
	if r.Seed != nil {
		seed := *r.Seed
		p.Seed = &seed
	}
	return p
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

type GenerateResponse struct {
	ID              string  `json:"id"`
	Text            string  `json:"text"`
	TokensGenerated int     `json:"tokens_generated"`
	StoppedBy       string  `json:"stopped_by"`
	TTFTMs          float64 `json:"ttft_ms"`
	DecodeMs        float64 `json:"decode_ms"`
	TotalMs         float64 `json:"total_ms"`
	DecodeTPS       float64 `json:"decode_tps"`
}

func newGenerateResponse(id string, res session.Result) GenerateResponse {
	return GenerateResponse{
		ID:              id,
		Text:            res.Text,
		TokensGenerated: res.TokensGenerated,
		StoppedBy:       string(res.StoppedBy),
		TTFTMs:          res.TTFTMillis(),
		DecodeMs:        res.DecodeMillis(),
		TotalMs:         res.TotalMillis(),
		DecodeTPS:       res.DecodeTPS(),
	}
}

// LoadRequest mirrors session.LoadConfig.
type LoadRequest struct {
	ModelPath   string `json:"model_path"`
	ContextSize *int   `json:"n_ctx,omitempty"`
	GPULayers   *int   `json:"n_gpu_layers,omitempty"`
	BatchSize   *int   `json:"n_batch,omitempty"`
	UseMMap     *bool  `json:"use_mmap,omitempty"`
	UseMLock    *bool  `json:"use_mlock,omitempty"`
}

func (r LoadRequest) config(path string) session.LoadConfig {
	cfg := session.DefaultLoadConfig(path)
	setIf(&cfg.ContextSize, r.ContextSize)
	setIf(&cfg.GPULayers, r.GPULayers)
	setIf(&cfg.BatchSize, r.BatchSize)
	setIf(&cfg.UseMMap, r.UseMMap)
	setIf(&cfg.UseMLock, r.UseMLock)
	return cfg
}

type StatusResponse struct {
	Version            string `json:"version"`
	BackendInitialized bool   `json:"backend_initialized"`
	ModelLoaded        bool   `json:"model_loaded"`
	SpeechLoaded       bool   `json:"speech_loaded"`
	Model              string `json:"model"`
	ContextSize        int    `json:"n_ctx"`
	VocabSize          int    `json:"n_vocab"`
}

type TokenizeRequest struct {
	Text string `json:"text"`
}

type TokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

type DetokenizeRequest struct {
	Tokens []int32 `json:"tokens"`
}

type DetokenizeResponse struct {
	Text string `json:"text"`
}

type TranscribeRequest struct {
	PCM          []float32 `json:"pcm"`
	Translate    bool      `json:"translate,omitempty"`
	NoTimestamps bool      `json:"no_timestamps,omitempty"`
	Diarize      bool      `json:"diarize,omitempty"`
	MaxTokens    *int      `json:"max_tokens,omitempty"`
	BeamSize     *int      `json:"beam_size,omitempty"`
}

func (r TranscribeRequest) params() speech.TranscribeParams {
	p := speech.DefaultTranscribeParams()
	p.Translate = r.Translate
	p.NoTimestamps = r.NoTimestamps
	p.Diarize = r.Diarize
	setIf(&p.MaxTokens, r.MaxTokens)
	setIf(&p.BeamSize, r.BeamSize)
	return p
}

type TranscribeResponse struct {
	Text string `json:"text"`
}

// streamEvent is one SSE data payload or WebSocket frame.
type streamEvent struct {
	Type   string            `json:"type"`
	Text   string            `json:"text,omitempty"`
	Result *GenerateResponse `json:"result,omitempty"`
	Error  *ErrorBody        `json:"error,omitempty"`
}
