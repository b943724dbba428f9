package syncer

import (
	"context"
	"sync"
	"time"

	"fieldsync/internal/queue"
)

// EventType classifies sync outcome events.
type EventType string

const (
	// EventSyncStarted marks the beginning of a sync pass.
	EventSyncStarted EventType = "sync-started"
	// EventItemSaved fires when a new capture lands in the queue.
	EventItemSaved EventType = "item-saved"
	// EventItemSynced fires when an item replays successfully and is removed.
	EventItemSynced EventType = "synced"
	// EventSyncFailed fires when an item exhausts its attempts and parks as failed.
	EventSyncFailed EventType = "sync-failed"
	// EventSyncCompleted marks the end of a sync pass with final counts.
	EventSyncCompleted EventType = "sync-completed"
)

// Event is a sync outcome published to the hub. Success is only observable
// here: a synced item no longer exists in storage.
type Event struct {
	Sequence  uint64     `json:"seq"`
	Timestamp time.Time  `json:"ts"`
	Type      EventType  `json:"type"`
	ItemID    string     `json:"item_id,omitempty"`
	Kind      queue.Kind `json:"kind,omitempty"`
	Error     string     `json:"error,omitempty"`
	Synced    int        `json:"synced,omitempty"`
	Failed    int        `json:"failed,omitempty"`
	Remaining int        `json:"remaining,omitempty"`
}

// EventSink receives every published event (the IPC push stream, etc.).
type EventSink interface {
	Append(Event)
}

// Hub stores recent sync events and wakes waiters when new events arrive.
// Delivery to sinks is best-effort fan-out; a slow listener sees a bounded
// history, never unbounded growth.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	sinks    []EventSink
}

// NewHub constructs a bounded in-memory event fan-out buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink wires an additional sink that receives every published event.
func (h *Hub) AddSink(sink EventSink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish appends a new event to the hub.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	sinks := append([]EventSink(nil), h.sinks...)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
}

// Fetch returns all events with sequence greater than since. When wait is
// true, Fetch blocks until at least one event is available or the context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				// Broadcast under the lock so a waiter between its ctx
				// check and cond.Wait cannot miss the wakeup.
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

// Tail returns the most recent limit events without blocking.
func (h *Hub) Tail(limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return nil, h.nextSeq
	}
	start := len(h.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]Event, uint64) {
	if len(h.buffer) == 0 {
		return nil, h.nextSeq
	}
	startIdx := 0
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			startIdx = i
			break
		}
		if i == len(h.buffer)-1 {
			return nil, h.nextSeq
		}
	}
	end := startIdx + limit
	if end > len(h.buffer) {
		end = len(h.buffer)
	}
	out := make([]Event, end-startIdx)
	copy(out, h.buffer[startIdx:end])
	return out, h.nextSeq
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
