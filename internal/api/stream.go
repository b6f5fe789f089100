package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams extension outcomes as Server-Sent Events. Retained
// events after Last-Event-ID (or ?since=) are replayed before live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	cursor := resumeCursor(r)
	for _, ev := range s.events.Since(cursor) {
		if writeSSE(w, ev) != nil {
			return
		}
		cursor = ev.ID
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			if ev.ID <= cursor {
				continue
			}
			if writeSSE(w, ev) != nil {
				return
			}
			cursor = ev.ID
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// resumeCursor reads the last event ID the client saw. EventSource sends the
// header on reconnect; the query parameter serves plain HTTP clients.
func resumeCursor(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// writeSSE frames one event. Payloads are single-line JSON.
func writeSSE(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
