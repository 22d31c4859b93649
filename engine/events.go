// ABOUTME: Per-run event emitter: single writer, multiple subscribers, strictly ordered by sequence.
// ABOUTME: Slow consumers get drop-oldest on a bounded buffer; the emitter never blocks the scheduler.
package engine

import (
	"sync"
	"time"
)

// EventKind identifies the kind of run lifecycle event.
type EventKind string

const (
	EventRunStarted      EventKind = "run-started"
	EventRunSuspended    EventKind = "run-suspended"
	EventRunResumed      EventKind = "run-resumed"
	EventRunCompleted    EventKind = "run-completed"
	EventRunFailed       EventKind = "run-failed"
	EventRunCancelled    EventKind = "run-cancelled"
	EventNodeStarted     EventKind = "node-started"
	EventNodeCompleted   EventKind = "node-completed"
	EventNodeFailed      EventKind = "node-failed"
	EventNodeRetrying    EventKind = "node-retrying"
	EventNodeOutputDelta EventKind = "node-output-delta"
	EventLoopIteration   EventKind = "loop-iteration"
)

// Event is one entry in a run's append-only, causally ordered event stream.
type Event struct {
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
}

// defaultSubscriberBuffer is the per-subscriber channel capacity. Delivery to
// presentation is best-effort: when a consumer falls this far behind, the
// oldest buffered events are dropped rather than blocking the scheduler.
const defaultSubscriberBuffer = 256

// Emitter is the single-writer event stream for one run. Subscribers each
// receive an independent buffered channel.
type Emitter struct {
	runID string

	mu      sync.Mutex
	seq     uint64
	subs    map[int]chan Event
	nextID  int
	closed  bool
	history []Event
}

// NewEmitter creates an emitter for the given run id.
func NewEmitter(runID string) *Emitter {
	return &Emitter{
		runID: runID,
		subs:  make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed when the run reaches a terminal
// state or the subscription is cancelled. Events emitted before subscription
// are not replayed.
func (em *Emitter) Subscribe() (<-chan Event, func()) {
	em.mu.Lock()
	defer em.mu.Unlock()

	ch := make(chan Event, defaultSubscriberBuffer)
	if em.closed {
		close(ch)
		return ch, func() {}
	}

	id := em.nextID
	em.nextID++
	em.subs[id] = ch

	cancel := func() {
		em.mu.Lock()
		defer em.mu.Unlock()
		if sub, ok := em.subs[id]; ok {
			delete(em.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit appends an event to the stream and fans it out to all subscribers
// without ever blocking: a full subscriber buffer drops its oldest event.
func (em *Emitter) Emit(kind EventKind, nodeID string, payload map[string]any) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.closed {
		return
	}

	em.seq++
	evt := Event{
		RunID:     em.runID,
		NodeID:    nodeID,
		Kind:      kind,
		Payload:   payload,
		Seq:       em.seq,
		Timestamp: time.Now(),
	}
	em.history = append(em.history, evt)

	for _, ch := range em.subs {
		select {
		case ch <- evt:
		default:
			// drop-oldest, then deliver the new event
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// History returns a copy of every event emitted so far. The history lives
// only as long as the run is held in memory; nothing is persisted.
func (em *Emitter) History() []Event {
	em.mu.Lock()
	defer em.mu.Unlock()
	out := make([]Event, len(em.history))
	copy(out, em.history)
	return out
}

// Close seals the stream. No events are delivered after Close; subscriber
// channels are closed so consumers observe end-of-stream.
func (em *Emitter) Close() {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.closed {
		return
	}
	em.closed = true
	for id, ch := range em.subs {
		delete(em.subs, id)
		close(ch)
	}
}
