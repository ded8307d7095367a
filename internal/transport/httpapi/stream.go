package httpapi

import (
	"encoding/json"
	"net/http"

	"agrosentry/internal/transport"
)

// handleStream serves fleet snapshots as server-sent events until the
// client disconnects or the engine shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.engine.Subscribe()
	defer sub.Close()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(transport.FromSnapshot(snap))
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: snapshot\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
