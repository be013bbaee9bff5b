package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-Id"

// maxBodyBytes bounds request bodies; PCM payloads dominate.
const maxBodyBytes = 64 << 20

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest(fmt.Sprintf("decode body: %v", err))
	}
	return out, nil
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}

func requestID(r *http.Request) string {
	return r.Header.Get(HeaderRequestID)
}

// withRequestID stamps every request with an id, keeping one supplied by
// the client, and echoes it in the response header.
func withRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = newRequestID()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		h.ServeHTTP(w, r)
	})
}
