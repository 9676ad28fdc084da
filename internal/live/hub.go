package live

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alecgard/teamspace/internal/metrics"
)

// Event is one live update pushed to subscribers.
type Event struct {
	ID        uint64          `json:"id"`
	Name      string          `json:"event"`
	ProjectID string          `json:"project_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	At        time.Time       `json:"at"`
}

type subscriber struct {
	ch        chan Event
	projectID string
}

// Hub fans events out to subscribers. Emit never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	seq     uint64
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// NewHub creates a Hub giving each subscriber a buffer of the given size.
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe registers a subscriber. A non-empty projectID limits delivery to
// that project's events. The returned func unsubscribes and must be called.
// The channel is closed when the subscription ends.
func (h *Hub) Subscribe(projectID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.buffer), projectID: projectID}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.AddLiveSubscribers(1)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			_, ok := h.subs[sub]
			if ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			h.mu.Unlock()
			if ok {
				h.metrics.AddLiveSubscribers(-1)
			}
		})
	}
}

// Emit publishes an event. Payloads carrying a "project_id" key are routed
// to that project's subscribers as well as to unfiltered ones.
func (h *Hub) Emit(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshaling live event", "event", name, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	ev := Event{
		ID:        h.seq,
		Name:      name,
		ProjectID: projectOf(payload),
		Data:      data,
		At:        time.Now().UTC(),
	}

	for sub := range h.subs {
		if sub.projectID != "" && sub.projectID != ev.ProjectID {
			continue
		}
		select {
		case sub.ch <- ev:
			h.metrics.IncLiveEvent("delivered")
		default:
			h.metrics.IncLiveEvent("dropped")
		}
	}
}

// Close ends every subscription. Later Emit calls are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
		h.metrics.AddLiveSubscribers(-1)
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func projectOf(payload any) string {
	switch p := payload.(type) {
	case map[string]any:
		if id, ok := p["project_id"].(string); ok {
			return id
		}
	case map[string]string:
		return p["project_id"]
	}
	return ""
}
