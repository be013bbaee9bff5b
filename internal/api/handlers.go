package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hegemon/internal/session"
	"github.com/samcharles93/hegemon/internal/version"
)

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status() StatusResponse {
	info, nCtx, nVocab := s.svc.ModelInfo()
	return StatusResponse{
		Version:            version.String(),
		BackendInitialized: s.svc.BackendInitialized(),
		ModelLoaded:        s.svc.IsLlamaModelLoaded(),
		SpeechLoaded:       s.svc.IsWhisperModelLoaded(),
		Model:              info,
		ContextSize:        nCtx,
		VocabSize:          nVocab,
	}
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleLoad(c *echo.Context) error {
	req, err := decodeJSON[LoadRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	if req.ModelPath == "" {
		return writeBadRequest(c, "model_path is required")
	}
	cfg := req.config(s.resolveModel(req.ModelPath))
	if !s.svc.InitializeLlamaModel(cfg) {
		return writeError(c, s.svc.LoadError())
	}
	s.log.Info("model loaded via api", "path", cfg.ModelPath, "request_id", requestID(c.Request()))
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleUnload(c *echo.Context) error {
	s.svc.UnloadLlamaModel()
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	res := s.svc.Generate(req.Prompt, req.params(s.defaults))
	if res.Err != nil {
		return writeError(c, res.Err)
	}
	return c.JSON(http.StatusOK, newGenerateResponse(requestID(c.Request()), res))
}

func (s *Server) handleStream(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	res := s.svc.Stream(req.Prompt, req.params(s.defaults), func(piece string) bool {
		return ctx.Err() == nil && sw.EmitToken(piece)
	})
	if res.Err != nil {
		// Nothing streamed yet: a state error is still a plain response.
		if !sw.wrote() && errors.Is(res.Err, session.ErrNotLoaded) {
			return writeError(c, res.Err)
		}
		_, body := classify(res.Err)
		body.RequestID = requestID(c.Request())
		return sw.Failed(body)
	}
	return sw.Done(newGenerateResponse(requestID(c.Request()), res))
}

func (s *Server) handleTokenize(c *echo.Context) error {
	req, err := decodeJSON[TokenizeRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	if !s.svc.IsLlamaModelLoaded() {
		return writeError(c, session.ErrNotLoaded)
	}
	toks := s.svc.Tokenization(req.Text)
	if toks == nil {
		toks = []int32{}
	}
	return c.JSON(http.StatusOK, TokenizeResponse{Tokens: toks})
}

func (s *Server) handleDetokenize(c *echo.Context) error {
	req, err := decodeJSON[DetokenizeRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	if !s.svc.IsLlamaModelLoaded() {
		return writeError(c, session.ErrNotLoaded)
	}
	return c.JSON(http.StatusOK, DetokenizeResponse{Text: s.svc.Detokenization(req.Tokens)})
}

func (s *Server) handleTranscribe(c *echo.Context) error {
	req, err := decodeJSON[TranscribeRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	text, err := s.svc.Transcribe(req.PCM, req.params())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, TranscribeResponse{Text: text})
}
