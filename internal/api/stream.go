package api

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/retinalab/gazecap/internal/gaze"
)

// gazeStream fans live raw samples out to SSE subscribers. Slow subscribers
// drop samples rather than stalling the pipeline.
type gazeStream struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newGazeStream() *gazeStream {
	return &gazeStream{subs: make(map[string]chan []byte)}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (g *gazeStream) subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, 64)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[id] = ch
	return id, ch
}

func (g *gazeStream) unsubscribe(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.subs[id]; ok {
		close(ch)
		delete(g.subs, id)
	}
}

func (g *gazeStream) publish(raw gaze.RawSample) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.subs {
		select {
		case ch <- payload:
		default:
			// subscriber is behind; drop this sample for them
		}
	}
}

// tailGaze streams live raw samples as server-sent events, one JSON object
// per event.
func (s *Server) tailGaze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.stream.subscribe()
	defer s.stream.unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
			if err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}
