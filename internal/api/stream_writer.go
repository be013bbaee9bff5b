package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter emits generation events as server-sent events:
//
//	event: token
//	data: {"type":"token","text":"..."}
type SSEStreamWriter struct {
	w       http.ResponseWriter
	flusher func()
	begun   bool
	err     error
}

// NewSSEStreamWriter checks that c can stream. Event-stream headers are set
// with the first event, so the handler can still answer with plain JSON
// until then.
func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{w: res, flusher: flusher.Flush}, nil
}

// EmitToken reports false once the client has gone away.
func (s *SSEStreamWriter) EmitToken(text string) bool {
	return s.send(streamEvent{Type: "token", Text: text}) == nil
}

func (s *SSEStreamWriter) Done(resp GenerateResponse) error {
	return s.send(streamEvent{Type: "done", Result: &resp})
}

func (s *SSEStreamWriter) Failed(body ErrorBody) error {
	return s.send(streamEvent{Type: "error", Error: &body})
}

// wrote reports whether any event reached the client.
func (s *SSEStreamWriter) wrote() bool { return s.begun }

// send is sticky: after the first write error every call fails.
func (s *SSEStreamWriter) send(ev streamEvent) error {
	if s.err != nil {
		return s.err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.err = err
		return err
	}
	if !s.begun {
		h := s.w.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.begun = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
		s.err = err
		return err
	}
	s.flusher()
	return nil
}
