package orchestrator

import "sync"

// Event is a broadcast notification about orchestrator activity, consumed by
// the web layer and notifiers.
type Event struct {
	Type    string `json:"type"`
	Project string `json:"project"`
	Message string `json:"message"`
}

// Event types emitted by the orchestrator
const (
	EventCycleStarted  = "cycle_started"
	EventCycleFinished = "cycle_finished"
	EventCycleFailed   = "cycle_failed"
	EventProjectPaused = "project_paused"
	EventTasksStuck    = "tasks_stuck"
)

// eventHub fans events out to subscribers. Slow subscribers drop events
// rather than blocking the orchestrator.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan Event]struct{})}
}

func (h *eventHub) subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, 16)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *eventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *eventHub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
