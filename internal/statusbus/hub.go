package statusbus

import (
	"context"
	"sync"
	"time"

	"narrate/internal/store"
)

// Event is one published job status change.
type Event struct {
	Sequence  uint64          `json:"seq"`
	ProjectID int64           `json:"project_id"`
	Status    store.JobStatus `json:"status"`
	Timestamp time.Time       `json:"ts"`
}

// Hub keeps a bounded buffer of recent status events and wakes waiters when
// a new one arrives. Publishing never blocks on subscribers.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	latest   map[int64]Event
	nextSeq  uint64
}

// NewHub constructs a hub holding up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 64
	}
	h := &Hub{capacity: capacity, latest: make(map[int64]Event)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish records status for projectID and returns the stored event.
func (h *Hub) Publish(projectID int64, status store.JobStatus) Event {
	if h == nil {
		return Event{}
	}
	h.mu.Lock()
	h.nextSeq++
	evt := Event{
		Sequence:  h.nextSeq,
		ProjectID: projectID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.latest[projectID] = evt
	h.cond.Broadcast()
	h.mu.Unlock()
	return evt
}

// Cursor returns the sequence of the newest event; events published later
// have a greater sequence.
func (h *Hub) Cursor() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

// Latest returns the most recent event for projectID.
func (h *Hub) Latest(projectID int64) (Event, bool) {
	if h == nil {
		return Event{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	evt, ok := h.latest[projectID]
	return evt, ok
}

// Fetch returns buffered events with a sequence greater than since. A zero
// projectID matches every project. When wait is true Fetch blocks until a
// matching event arrives or ctx ends. The returned cursor is the sequence to
// pass as since on the next call.
func (h *Hub) Fetch(ctx context.Context, since uint64, projectID int64, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}

	stopWake := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWake:
			}
		}()
	}
	defer close(stopWake)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events := h.snapshotLocked(since, projectID)
		cursor := h.nextSeq
		if len(events) > 0 || !wait {
			return events, cursor, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, cursor, err
		}
		h.cond.Wait()
		if err := ctx.Err(); err != nil {
			return nil, h.nextSeq, err
		}
	}
}

func (h *Hub) snapshotLocked(since uint64, projectID int64) []Event {
	var out []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		if projectID != 0 && evt.ProjectID != projectID {
			continue
		}
		out = append(out, evt)
	}
	return out
}
