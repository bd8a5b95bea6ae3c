package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/raktlink/platform/internal/shared/auth"
)

const heartbeatInterval = 30 * time.Second

// SSEHandler streams a user's room over Server-Sent Events
type SSEHandler struct {
	hub *Hub
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(hub *Hub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// ServeHTTP subscribes the caller to their room and streams messages
// until the client disconnects
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch, cancel := h.hub.Subscribe(user.ID)
	defer cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
			flusher.Flush()
		}
	}
}
