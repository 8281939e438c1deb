// Package progress delivers task state transitions to live subscribers
// and mirrors them onto a NATS subject for out-of-process observers.
//
// Delivery is best-effort by contract: a slow or disconnecting subscriber
// never blocks the verification loop. Anything a subscriber misses is
// recoverable by polling the task registry, which holds the durable
// state.
package progress

import (
	"sync"
	"time"

	"github.com/scriptcast/voiceproof/internal/core"
)

// subscriberBuffer is the per-subscriber event buffer. When it fills, new
// events for that subscriber are dropped rather than blocking the
// publisher.
const subscriberBuffer = 64

// Subscription is one attached observer of a single task.
type Subscription struct {
	hub    *Hub
	taskID string
	events chan core.ProgressEvent
	once   sync.Once
}

// Events returns the subscriber's event stream. The channel is closed
// when the subscription is closed.
func (s *Subscription) Events() <-chan core.ProgressEvent {
	return s.events
}

// Close detaches the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
		close(s.events)
	})
}

// Hub fans progress events out to per-task subscriber sets. The
// subscriber set has its own lock, independent of any task lock, so
// publishing never contends with task mutation.
type Hub struct {
	mirror *Mirror

	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
}

// NewHub creates a hub. mirror may be nil to disable NATS mirroring.
func NewHub(mirror *Mirror) *Hub {
	return &Hub{
		mirror:      mirror,
		subscribers: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe attaches a new subscriber for taskID. The snapshot the caller
// passes in is immediately reflected back as a `connected` event, so a
// late subscriber sees already-completed progress instead of a blank
// state. Re-subscribing to the same task is idempotent with respect to
// the task itself: it never duplicates work or re-runs anything.
func (h *Hub) Subscribe(taskID string, snapshot *core.AudioTask) *Subscription {
	sub := &Subscription{
		hub:    h,
		taskID: taskID,
		events: make(chan core.ProgressEvent, subscriberBuffer),
	}

	// Enqueue the snapshot before the subscription becomes visible to
	// publishers, so the connected event is always the first frame.
	sub.events <- ConnectedEvent(snapshot)

	h.mu.Lock()

	set, ok := h.subscribers[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subscribers[taskID] = set
	}

	set[sub] = struct{}{}

	h.mu.Unlock()

	return sub
}

// Publish delivers the event to all currently-attached subscribers of
// its task, dropping it for any subscriber whose buffer is full, and
// forwards it to the mirror when one is configured.
func (h *Hub) Publish(event core.ProgressEvent) {
	h.mu.RLock()

	for sub := range h.subscribers[event.TaskID] {
		select {
		case sub.events <- event:
		default:
			// Subscriber is not keeping up; it can recover via polling.
		}
	}

	h.mu.RUnlock()

	if h.mirror != nil {
		h.mirror.Forward(event)
	}
}

// SubscriberCount reports the number of attached subscribers for a task.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[taskID])
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[sub.taskID]
	if !ok {
		return
	}

	delete(set, sub)

	if len(set) == 0 {
		delete(h.subscribers, sub.taskID)
	}
}

// ConnectedEvent builds the initial event carrying the task's current
// snapshot state.
func ConnectedEvent(task *core.AudioTask) core.ProgressEvent {
	view := task.View()

	return core.ProgressEvent{
		Type:      core.EventConnected,
		TaskID:    task.ID,
		State:     task.State,
		Attempt:   len(task.Attempts),
		Result:    view.Result,
		Error:     view.Error,
		Timestamp: time.Now().UTC(),
	}
}

// PongEvent builds a keepalive heartbeat for a task stream.
func PongEvent(taskID string) core.ProgressEvent {
	return core.ProgressEvent{
		Type:      core.EventPong,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
}
