package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmdash/internal/model"
)

func strPtr(s string) *string { return &s }

func newRosterStore(t *testing.T, ids ...string) *Store {
	t.Helper()
	s := New()
	models := make([]model.Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, model.Model{ID: id, Name: id, Enabled: true, History: true, Online: true})
	}
	s.SetRoster(models, nil)
	s.Activate("conv-1", nil)
	return s
}

func TestStore_SetRoster(t *testing.T) {
	s := newRosterStore(t, "alpha", "beta")
	_, ok := s.UpdateState("", "alpha", func(st *model.ModelConversationState) bool {
		st.Error = "kept"
		return true
	})
	require.True(t, ok)

	s.SetRoster([]model.Model{{ID: "alpha"}, {ID: "gamma"}}, map[string][]model.ChatMessage{
		"gamma": {{ID: "m1", Role: model.RoleUser, Content: "hi"}},
	})

	alpha, ok := s.State("alpha")
	require.True(t, ok)
	assert.Equal(t, "kept", alpha.Error)

	gamma, ok := s.State("gamma")
	require.True(t, ok)
	assert.Len(t, gamma.Messages, 1)
	assert.Equal(t, model.PhaseIdle, gamma.Phase)

	_, ok = s.State("beta")
	assert.False(t, ok, "removed models lose their state")
}

func TestStore_UpdateState(t *testing.T) {
	t.Run("Copy on write leaves earlier reads untouched", func(t *testing.T) {
		s := newRosterStore(t, "alpha")
		s.UpdateState("conv-1", "alpha", func(st *model.ModelConversationState) bool {
			st.Messages = append(st.Messages, model.ChatMessage{ID: "u1", Role: model.RoleUser, Content: "hi"})
			return true
		})
		before, _ := s.State("alpha")

		s.UpdateState("conv-1", "alpha", func(st *model.ModelConversationState) bool {
			st.Messages[0].Content = "changed"
			st.Messages = append(st.Messages, model.ChatMessage{ID: "a1", Role: model.RoleAssistant, ModelID: strPtr("alpha")})
			return true
		})

		assert.Len(t, before.Messages, 1)
		assert.Equal(t, "hi", before.Messages[0].Content)
		after, _ := s.State("alpha")
		assert.Len(t, after.Messages, 2)
		assert.Equal(t, "changed", after.Messages[0].Content)
	})

	t.Run("Rejected update writes nothing", func(t *testing.T) {
		s := newRosterStore(t, "alpha")
		_, ok := s.UpdateState("", "alpha", func(st *model.ModelConversationState) bool {
			st.Error = "nope"
			return false
		})

		assert.False(t, ok)
		st, _ := s.State("alpha")
		assert.Empty(t, st.Error)
	})

	t.Run("Inactive conversation is ignored", func(t *testing.T) {
		s := newRosterStore(t, "alpha")
		s.Activate("conv-2", nil)

		called := false
		_, ok := s.UpdateState("conv-1", "alpha", func(st *model.ModelConversationState) bool {
			called = true
			return true
		})

		assert.False(t, ok)
		assert.False(t, called)
	})

	t.Run("Unknown model is ignored", func(t *testing.T) {
		s := newRosterStore(t, "alpha")
		_, ok := s.UpdateState("", "ghost", func(st *model.ModelConversationState) bool { return true })
		assert.False(t, ok)
	})
}

func TestStore_Activate(t *testing.T) {
	s := newRosterStore(t, "alpha", "beta")
	s.UpdateState("", "alpha", func(st *model.ModelConversationState) bool {
		st.InFlight = true
		st.TaskID = "task-1"
		return true
	})

	s.Activate("conv-2", map[string][]model.ChatMessage{
		"beta": {{ID: "u1", Role: model.RoleUser, Content: "hello", CreatedAt: time.Now()}},
	})

	assert.Equal(t, "conv-2", s.ActiveConversationID())
	alpha, _ := s.State("alpha")
	assert.False(t, alpha.InFlight)
	assert.Empty(t, alpha.TaskID)
	assert.NotNil(t, alpha.Messages)
	assert.Empty(t, alpha.Messages)
	beta, _ := s.State("beta")
	assert.Len(t, beta.Messages, 1)
}

func TestStore_UpdateModel(t *testing.T) {
	s := newRosterStore(t, "alpha", "beta")
	models := s.Models()

	m, ok := s.UpdateModel("beta", func(m *model.Model) { m.Enabled = false })

	require.True(t, ok)
	assert.False(t, m.Enabled)
	assert.True(t, models[1].Enabled, "earlier roster reads are not mutated")
	enabled := s.EnabledModels()
	require.Len(t, enabled, 1)
	assert.Equal(t, "alpha", enabled[0].ID)

	_, ok = s.UpdateModel("ghost", func(m *model.Model) {})
	assert.False(t, ok)
}

func TestStore_Subscribe(t *testing.T) {
	s := New()
	events, unsubscribe := s.Subscribe(8)

	s.SetRoster([]model.Model{{ID: "alpha"}}, nil)
	s.UpdateState("", "alpha", func(st *model.ModelConversationState) bool { return true })
	s.SetConversations([]model.ConversationSummary{{ID: "c1"}})

	assert.Equal(t, Event{Kind: EventModels}, <-events)
	assert.Equal(t, Event{Kind: EventModelState, ModelID: "alpha"}, <-events)
	assert.Equal(t, Event{Kind: EventConversations}, <-events)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := newRosterStore(t, "alpha", "beta")
	const n = 200

	var wg sync.WaitGroup
	for _, id := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				s.UpdateState("conv-1", id, func(st *model.ModelConversationState) bool {
					st.Messages = append(st.Messages, model.ChatMessage{Role: model.RoleAssistant, ModelID: strPtr(id)})
					return true
				})
				_ = s.Snapshot()
			}
		}(id)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap.States["alpha"].Messages, n)
	assert.Len(t, snap.States["beta"].Messages, n)
	for _, msg := range snap.States["alpha"].Messages {
		assert.True(t, msg.OwnedBy("alpha"))
	}
}
