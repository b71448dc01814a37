// Package state holds the in-memory view the dashboard renders: the model
// roster, one conversation state per model, the conversation list and the
// active conversation id.
//
// Every write replaces a whole entry under the store lock. Message slices
// held by a stored ModelConversationState are never modified after the
// write, so readers may keep a snapshot without copying.
package state

import (
	"slices"
	"sync"

	"lmdash/internal/model"
)

// Snapshot is a consistent read of the whole store.
type Snapshot struct {
	Models               []model.Model                           `json:"models"`
	States               map[string]model.ModelConversationState `json:"states"`
	Conversations        []model.ConversationSummary             `json:"conversations"`
	ActiveConversationID string                                  `json:"active_conversation_id"`
}

// Store is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	models        []model.Model
	states        map[string]model.ModelConversationState
	conversations []model.ConversationSummary
	activeID      string

	events *emitter
}

// New returns an empty store.
func New() *Store {
	return &Store{
		states: make(map[string]model.ModelConversationState),
		events: newEmitter(),
	}
}

// Subscribe returns a channel of change notifications and a function that
// ends the subscription.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]model.ModelConversationState, len(s.states))
	for id, st := range s.states {
		states[id] = st
	}
	return Snapshot{
		Models:               slices.Clone(s.models),
		States:               states,
		Conversations:        slices.Clone(s.conversations),
		ActiveConversationID: s.activeID,
	}
}

func (s *Store) Models() []model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.models)
}

// EnabledModels returns the roster entries that participate in dispatch.
func (s *Store) EnabledModels() []model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Model, 0, len(s.models))
	for _, m := range s.models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) Model(id string) (model.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Model{}, false
	}
	return s.models[i], true
}

func (s *Store) State(modelID string) (model.ModelConversationState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[modelID]
	return st, ok
}

func (s *Store) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) Conversations() []model.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conversations)
}

// SetRoster replaces the model list. States of models that are no longer
// listed are dropped; new models start from projections[id].
func (s *Store) SetRoster(models []model.Model, projections map[string][]model.ChatMessage) {
	s.mu.Lock()
	s.models = slices.Clone(models)
	next := make(map[string]model.ModelConversationState, len(models))
	for _, m := range models {
		if st, ok := s.states[m.ID]; ok {
			next[m.ID] = st
			continue
		}
		next[m.ID] = idleState(m.ID, projections[m.ID])
	}
	s.states = next
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventModels})
}

// UpdateModel applies fn to a copy of the model and stores the result.
func (s *Store) UpdateModel(id string, fn func(m *model.Model)) (model.Model, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return model.Model{}, false
	}
	m := s.models[i]
	fn(&m)
	models := slices.Clone(s.models)
	models[i] = m
	s.models = models
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventModels, ModelID: id})
	return m, true
}

// UpdateState applies fn to a private copy of the model's state and, when
// fn returns true, stores the copy. The write is skipped when conversationID
// is non-empty and no longer active, or when the model has left the roster.
func (s *Store) UpdateState(conversationID, modelID string, fn func(st *model.ModelConversationState) bool) (model.ModelConversationState, bool) {
	s.mu.Lock()
	cur, ok := s.states[modelID]
	if !ok || (conversationID != "" && conversationID != s.activeID) {
		s.mu.Unlock()
		return cur, false
	}
	next := cur
	next.Messages = slices.Clone(cur.Messages)
	if cur.LastFailedPrompt != nil {
		p := *cur.LastFailedPrompt
		next.LastFailedPrompt = &p
	}
	if !fn(&next) {
		s.mu.Unlock()
		return cur, false
	}
	s.states[modelID] = next
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventModelState, ModelID: modelID})
	return next, true
}

// Activate makes conversationID active and replaces every model's state with
// a fresh idle state built from projections. Tasks still running against the
// previous view lose their claim on the state.
func (s *Store) Activate(conversationID string, projections map[string][]model.ChatMessage) {
	s.mu.Lock()
	s.activeID = conversationID
	next := make(map[string]model.ModelConversationState, len(s.models))
	for _, m := range s.models {
		next[m.ID] = idleState(m.ID, projections[m.ID])
	}
	s.states = next
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventActive})
}

// SetConversations replaces the conversation list.
func (s *Store) SetConversations(list []model.ConversationSummary) {
	s.mu.Lock()
	s.conversations = slices.Clone(list)
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventConversations})
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.models, func(m model.Model) bool { return m.ID == id })
}

func idleState(modelID string, msgs []model.ChatMessage) model.ModelConversationState {
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return model.ModelConversationState{
		ModelID:  modelID,
		Messages: msgs,
		Phase:    model.PhaseIdle,
	}
}
