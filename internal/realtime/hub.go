package realtime

import (
	"sync"

	"github.com/raktlink/platform/internal/shared/metrics"
	"github.com/raktlink/platform/internal/shared/types"
)

// Message is one notification pushed to a subscriber
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub routes messages to per-user rooms. Delivery is at-most-once: a
// message for a user with no subscriber, or with a full buffer, is
// dropped silently. A user may hold several subscriptions (multiple
// devices); each gets its own channel.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[types.ID]map[chan Message]struct{}
	buffer int
}

// NewHub creates a hub with the given per-subscriber channel buffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		rooms:  make(map[types.ID]map[chan Message]struct{}),
		buffer: buffer,
	}
}

// Subscribe joins the user's room. The returned cancel function leaves
// the room and closes the channel.
func (h *Hub) Subscribe(userID types.ID) (<-chan Message, func()) {
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[chan Message]struct{})
		h.rooms[userID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()

	h.recordSubscribers()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if room, ok := h.rooms[userID]; ok {
				delete(room, ch)
				if len(room) == 0 {
					delete(h.rooms, userID)
				}
			}
			h.mu.Unlock()
			close(ch)
			h.recordSubscribers()
		})
	}

	return ch, cancel
}

// Send delivers a message to the user's room. Returns true if at least
// one subscriber received it.
func (h *Hub) Send(userID types.ID, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for ch := range h.rooms[userID] {
		select {
		case ch <- msg:
			delivered = true
		default:
			// Slow consumer, drop rather than block
		}
	}
	return delivered
}

// Broadcast sends the message to each listed user's room
func (h *Hub) Broadcast(userIDs []types.ID, msg Message) {
	for _, id := range userIDs {
		h.Send(id, msg)
	}
}

// BroadcastAll sends the message to every connected subscriber
func (h *Hub) BroadcastAll(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, room := range h.rooms {
		for ch := range room {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of open subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, room := range h.rooms {
		count += len(room)
	}
	return count
}

func (h *Hub) recordSubscribers() {
	metrics.RecordSubscribers(h.SubscriberCount())
}
