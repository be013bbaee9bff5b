package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hegemon/internal/session"
	"github.com/samcharles93/hegemon/internal/speech"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }
func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// ErrorBody is the payload of every error response: {"error": ErrorBody}.
type ErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps an error to its HTTP status and envelope.
func classify(err error) (int, ErrorBody) {
	body := ErrorBody{Message: err.Error()}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		body.Type = "invalid_request_error"
		return http.StatusBadRequest, body
	case errors.Is(err, session.ErrEmptyPrompt):
		body.Type, body.Code = "invalid_request_error", "empty_prompt"
		return http.StatusBadRequest, body
	case errors.Is(err, session.ErrContextExceeded):
		body.Type, body.Code = "invalid_request_error", "context_exceeded"
		return http.StatusBadRequest, body
	case errors.Is(err, session.ErrInvalidConfig):
		body.Type, body.Code = "invalid_request_error", "invalid_config"
		return http.StatusBadRequest, body
	case errors.Is(err, speech.ErrEmptyAudio):
		body.Type, body.Code = "invalid_request_error", "empty_audio"
		return http.StatusBadRequest, body
	case errors.Is(err, session.ErrNotLoaded):
		body.Type, body.Code = "state_error", "model_not_loaded"
		return http.StatusConflict, body
	case errors.Is(err, speech.ErrNotLoaded):
		body.Type, body.Code = "state_error", "speech_model_not_loaded"
		return http.StatusConflict, body
	}
	body.Type = "server_error"
	return http.StatusInternalServerError, body
}

func writeError(c *echo.Context, err error) error {
	status, body := classify(err)
	body.RequestID = requestID(c.Request())
	return c.JSON(status, map[string]any{"error": body})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, newInvalidRequest(msg))
}
