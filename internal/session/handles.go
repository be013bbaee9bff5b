package session

import (
	"github.com/samcharles93/hegemon/internal/engine"
)

// modelHandle exclusively owns a loaded model. Close is idempotent.
type modelHandle struct {
	m engine.Model
}

func (h *modelHandle) Close() error {
	if h == nil || h.m == nil {
		return nil
	}
	m := h.m
	h.m = nil
	return m.Close()
}

// take moves ownership out of h, leaving it empty.
func (h *modelHandle) take() *modelHandle {
	if h == nil {
		return nil
	}
	out := &modelHandle{m: h.m}
	h.m = nil
	return out
}

// contextHandle exclusively owns a decode context. Close is idempotent.
type contextHandle struct {
	c      engine.Context
	params engine.ContextParams
}

func (h *contextHandle) Close() error {
	if h == nil || h.c == nil {
		return nil
	}
	c := h.c
	h.c = nil
	return c.Close()
}

func (h *contextHandle) take() *contextHandle {
	if h == nil {
		return nil
	}
	out := &contextHandle{c: h.c, params: h.params}
	h.c = nil
	return out
}

// fresh reports whether the context has decoded nothing yet.
func (h *contextHandle) fresh() bool {
	return h != nil && h.c != nil && h.c.PosMax() < 0
}
