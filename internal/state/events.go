package state

import "sync"

// EventKind names what part of the store changed.
type EventKind string

const (
	EventModels        EventKind = "models"
	EventModelState    EventKind = "model_state"
	EventConversations EventKind = "conversations"
	EventActive        EventKind = "active_conversation"
)

// Event is a change notification only. Subscribers read the store to get data.
type Event struct {
	Kind    EventKind `json:"kind"`
	ModelID string    `json:"model_id,omitempty"`
}

// emitter fans events out to subscriber channels. A slow subscriber misses
// events rather than blocking writers; since events carry no data, reading
// a fresh snapshot after any event catches up.
type emitter struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[int]chan Event)}
}

func (e *emitter) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
