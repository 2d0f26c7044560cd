package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"rampledger/core/types"
)

// DefaultHistoryLimit bounds the backlog kept for late subscribers.
const DefaultHistoryLimit = 1024

const subscriberBuffer = 32

// Record is a sequenced, rendered event as delivered to subscribers.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type typedEvent interface {
	Event() *types.Event
}

// Hub fans committed events out to subscribers and keeps a bounded history so
// reconnecting clients can resume from a cursor. Slow subscribers lose events
// rather than block the publisher.
type Hub struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	history []Record
	subs    map[uint64]chan Record
	nextID  uint64
}

// NewHub creates a hub retaining up to limit records. Non-positive limits
// select DefaultHistoryLimit.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Hub{limit: limit, subs: make(map[uint64]chan Record)}
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	record := Record{Type: evt.EventType()}
	if typed, ok := evt.(typedEvent); ok {
		if rendered := typed.Event(); rendered != nil {
			record.Attributes = make(map[string]string, len(rendered.Attributes))
			for k, v := range rendered.Attributes {
				record.Attributes[k] = v
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	record.Sequence = h.seq
	h.history = append(h.history, record)
	if len(h.history) > h.limit {
		h.history = append([]Record(nil), h.history[len(h.history)-h.limit:]...)
	}
	for _, sub := range h.subs {
		select {
		case sub <- record:
		default:
		}
	}
}

// Subscribe registers a subscriber. The backlog holds retained records newer
// than cursor, a decimal sequence number; an empty or malformed cursor replays
// the whole history. The returned cancel function closes the channel and is
// also invoked when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Record, func(), []Record) {
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}
	updates := make(chan Record, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]Record, 0, len(h.history))
	for _, record := range h.history {
		if record.Sequence > since {
			backlog = append(backlog, record)
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
