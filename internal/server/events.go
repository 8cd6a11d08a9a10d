package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

// handleEvents streams governor stats as Server-Sent Events: one "stats"
// event on connect, then one per StatsInterval until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	observ.IncCounter("server_sse_clients_total", nil)
	seq := 0
	send := func() error {
		seq++
		return writeEvent(w, flusher, "stats", seq, s.snapshot())
	}
	if err := send(); err != nil {
		return
	}

	interval := s.StatsInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := send(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, id int, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, b); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
