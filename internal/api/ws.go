package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// handleWSGenerate reads one GenerateRequest per text message and answers
// with token frames followed by a done or error frame. The connection stays
// open for further requests.
func (s *Server) handleWSGenerate(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := requestID(r)
	log := s.log.With("request_id", id)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", "error", err)
			}
			return
		}

		var req GenerateRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			if writeFrame(conn, errorFrame(newInvalidRequest("decode message: "+err.Error()), id)) != nil {
				return
			}
			continue
		}

		var writeErr error
		res := s.svc.Stream(req.Prompt, req.params(s.defaults), func(piece string) bool {
			writeErr = writeFrame(conn, streamEvent{Type: "token", Text: piece})
			return writeErr == nil && r.Context().Err() == nil
		})
		if writeErr != nil {
			log.Debug("websocket client went away mid-stream", "error", writeErr)
			return
		}
		final := streamEvent{Type: "done"}
		if res.Err != nil {
			final = errorFrame(res.Err, id)
		} else {
			resp := newGenerateResponse(id, res)
			final.Result = &resp
		}
		if writeFrame(conn, final) != nil {
			return
		}
	}
}

func errorFrame(err error, id string) streamEvent {
	_, body := classify(err)
	body.RequestID = id
	return streamEvent{Type: "error", Error: &body}
}

func writeFrame(conn *websocket.Conn, ev streamEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
