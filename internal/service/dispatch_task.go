package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lmdash/internal/llm"
	"lmdash/internal/metrics"
	"lmdash/internal/model"
	"lmdash/internal/repository"
	"lmdash/internal/retry"
)

type taskKey struct {
	conversationID string
	modelID        string
}

// task is one model's share of a dispatch. It owns the model's state while
// the state's TaskID matches id.
type task struct {
	id             string
	conversationID string
	modelID        string
	replyID        string
	payload        model.PromptPayload
	manual         bool

	ctx    context.Context
	cancel context.CancelFunc

	// persistMu makes the ownership check and the final save one step, so
	// once stop returns the reply is either stored or never will be.
	persistMu sync.Mutex
	stopped   bool
	saved     bool
}

// stop cancels the task and reports whether its reply had already been
// settled by a save. It waits for a save in progress.
func (t *task) stop() bool {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	t.stopped = true
	t.cancel()
	return t.saved
}

// whileOwned runs save unless the task has been stopped. ok is false when
// save did not run.
func (t *task) whileOwned(save func() error) (ok bool, err error) {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if t.stopped || t.ctx.Err() != nil {
		return false, nil
	}
	err = save()
	// A failed save still settles the reply unless a retry after eviction
	// is pending.
	t.saved = !errors.Is(err, repository.ErrStorageFull)
	return true, err
}

// claim registers a new task for the model and takes over its state. A task
// already running for the same model in the same conversation is stopped
// and its partial reply dropped unless it was already stored.
func (s *DispatchService) claim(conversationID, modelID string, payload model.PromptPayload, manual bool, prepare func(st *model.ModelConversationState)) *task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		id:             uuid.NewString(),
		conversationID: conversationID,
		modelID:        modelID,
		replyID:        uuid.NewString(),
		payload:        payload,
		manual:         manual,
		ctx:            ctx,
		cancel:         cancel,
	}

	key := taskKey{conversationID: conversationID, modelID: modelID}
	s.tasksMu.Lock()
	prev := s.tasks[key]
	s.tasks[key] = t
	s.tasksMu.Unlock()
	dropPrev := false
	if prev != nil {
		dropPrev = !prev.stop()
		slog.Info("Superseding running request.", "model", modelID, "conversation_id", conversationID, "reply_kept", !dropPrev)
	}

	s.state.UpdateState(conversationID, modelID, func(st *model.ModelConversationState) bool {
		if dropPrev {
			st.Messages = removeMessage(st.Messages, prev.replyID)
		}
		if prepare != nil {
			prepare(st)
		}
		st.TaskID = t.id
		st.InFlight = true
		st.Phase = model.PhasePreparing
		st.Status = ""
		st.Error = ""
		st.RetryCount = 0
		st.CanRetry = false
		st.LastFailedPrompt = nil
		return true
	})
	return t
}

func (s *DispatchService) release(t *task) {
	key := taskKey{conversationID: t.conversationID, modelID: t.modelID}
	s.tasksMu.Lock()
	if s.tasks[key] == t {
		delete(s.tasks, key)
	}
	s.tasksMu.Unlock()
	t.cancel()
}

func (s *DispatchService) cancelTasks(match func(taskKey) bool) {
	s.tasksMu.Lock()
	var cancelled []*task
	for key, t := range s.tasks {
		if match(key) {
			cancelled = append(cancelled, t)
			delete(s.tasks, key)
		}
	}
	s.tasksMu.Unlock()
	for _, t := range cancelled {
		t.stop()
	}
}

// update applies fn to the model's state only while t still owns it.
func (s *DispatchService) update(t *task, fn func(st *model.ModelConversationState)) {
	s.state.UpdateState(t.conversationID, t.modelID, func(st *model.ModelConversationState) bool {
		if st.TaskID != t.id {
			return false
		}
		fn(st)
		return true
	})
}

func (s *DispatchService) setOnline(modelID string, online bool) {
	m, ok := s.state.Model(modelID)
	if !ok || m.Online == online {
		return
	}
	s.state.UpdateModel(modelID, func(m *model.Model) { m.Online = online })
	if !online {
		slog.Warn("Model marked offline.", "model", modelID)
	}
}

// run drives the task through its attempts until it succeeds, fails for
// good, or is cancelled.
func (s *DispatchService) run(t *task) {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()
	defer s.release(t)

	settings, err := s.config.RetrySettings(t.ctx)
	if err != nil {
		slog.Warn("Could not read retry settings, using defaults.", "model", t.modelID, "error", err)
		settings = DefaultSettings().Retry
	}

	outbound := toLLMMessages(t.payload.Messages)
	attempt := 0
	for {
		err := s.attempt(t, outbound)
		if err == nil {
			return
		}
		if t.ctx.Err() != nil {
			s.abandon(t)
			return
		}

		kind := llm.KindOf(err)
		if kind == llm.KindUnavailable {
			s.setOnline(t.modelID, false)
		}
		if !t.manual {
			if ok, delay := retry.Decide(settings, kind, attempt); ok {
				attempt++
				metrics.ModelRetries.WithLabelValues(t.modelID, string(kind)).Inc()
				slog.Warn("Model request failed, retrying.",
					"model", t.modelID, "attempt", attempt, "max", settings.MaxRetries, "delay", delay, "error", err)
				status := fmt.Sprintf("retrying (%d/%d)", attempt, settings.MaxRetries)
				s.update(t, func(st *model.ModelConversationState) {
					st.Messages = removeMessage(st.Messages, t.replyID)
					st.Phase = model.PhaseRetryWait
					st.Status = status
					st.RetryCount = attempt
				})
				if !sleepCtx(t.ctx, delay) {
					s.abandon(t)
					return
				}
				continue
			}
		}
		s.fail(t, err, attempt)
		return
	}
}

// attempt sends the payload once and streams the reply into the model's
// state. It stores the reply and marks the task succeeded when the stream
// ends cleanly.
func (s *DispatchService) attempt(t *task, outbound []llm.Message) error {
	s.update(t, func(st *model.ModelConversationState) {
		st.Phase = model.PhaseSending
		st.Status = "sending"
	})

	started := time.Now()
	stream, err := s.currentTransport().SendPrompt(t.ctx, t.modelID, outbound)
	if err != nil {
		return err
	}
	defer stream.Cancel()

	modelID := t.modelID
	var buf strings.Builder
	for fragment, err := range llm.Fragments(stream) {
		if err != nil {
			return err
		}
		buf.WriteString(fragment)
		partial := model.ChatMessage{
			ID:        t.replyID,
			Role:      model.RoleAssistant,
			Content:   buf.String(),
			CreatedAt: started.UTC(),
			ModelID:   &modelID,
		}
		s.update(t, func(st *model.ModelConversationState) {
			st.Phase = model.PhaseStreaming
			st.Status = "streaming"
			st.Messages = upsertMessage(st.Messages, partial)
		})
	}
	metrics.StreamDuration.WithLabelValues(t.modelID).Observe(time.Since(started).Seconds())

	if err := t.ctx.Err(); err != nil {
		return err
	}
	s.setOnline(t.modelID, true)
	return s.succeed(t, buf.String())
}

// succeed stores the reply and settles the model's state. A task stopped
// before its save stores nothing and returns context.Canceled.
func (s *DispatchService) succeed(t *task, content string) error {
	modelID := t.modelID
	reply := model.ChatMessage{
		ID:        t.replyID,
		Role:      model.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		ModelID:   &modelID,
	}
	if content != "" {
		owned, err := s.persistReply(t, reply)
		if !owned {
			return context.Canceled
		}
		if err != nil {
			metrics.PersistFailures.Inc()
			slog.Error("Failed to save model reply.", "model", t.modelID, "conversation_id", t.conversationID, "error", err)
		}
	}

	s.update(t, func(st *model.ModelConversationState) {
		if content != "" {
			st.Messages = upsertMessage(st.Messages, reply)
		}
		st.InFlight = false
		st.Phase = model.PhaseSucceeded
		st.Status = ""
		st.Error = ""
		st.CanRetry = false
		st.LastFailedPrompt = nil
	})
	metrics.ModelRequests.WithLabelValues(t.modelID, metrics.OutcomeSucceeded).Inc()
	slog.Info("Model reply complete.", "model", t.modelID, "conversation_id", t.conversationID, "chars", len(content))
	return nil
}

// persistReply appends the reply while the task still owns it. On a full
// store it evicts outside the task lock, since eviction stops other tasks,
// and tries once more.
func (s *DispatchService) persistReply(t *task, reply model.ChatMessage) (bool, error) {
	ctx := context.WithoutCancel(t.ctx)
	save := func() error { return s.repo.AppendMessage(ctx, t.conversationID, reply) }

	owned, err := t.whileOwned(save)
	if !owned || !errors.Is(err, repository.ErrStorageFull) {
		return owned, err
	}
	if !s.evictOldest(ctx, "storage full", t.conversationID, s.state.ActiveConversationID()) {
		return true, err
	}
	return t.whileOwned(save)
}

func (s *DispatchService) fail(t *task, err error, attempt int) {
	payload := t.payload
	s.update(t, func(st *model.ModelConversationState) {
		st.Messages = removeMessage(st.Messages, t.replyID)
		st.InFlight = false
		st.Phase = model.PhaseFailed
		st.Status = ""
		st.Error = err.Error()
		st.RetryCount = attempt
		st.CanRetry = true
		st.LastFailedPrompt = &payload
	})
	metrics.ModelRequests.WithLabelValues(t.modelID, metrics.OutcomeFailed).Inc()
	slog.Error("Model request failed.", "model", t.modelID, "conversation_id", t.conversationID, "retries", attempt, "error", err)
}

// abandon drops the partial reply of a cancelled task. If another task has
// already taken over the state this is a no-op.
func (s *DispatchService) abandon(t *task) {
	s.update(t, func(st *model.ModelConversationState) {
		st.Messages = removeMessage(st.Messages, t.replyID)
		st.InFlight = false
		st.Phase = model.PhaseIdle
		st.Status = ""
	})
	metrics.ModelRequests.WithLabelValues(t.modelID, metrics.OutcomeCancelled).Inc()
	slog.Info("Model request cancelled.", "model", t.modelID, "conversation_id", t.conversationID)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func toLLMMessages(msgs []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func upsertMessage(msgs []model.ChatMessage, msg model.ChatMessage) []model.ChatMessage {
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return msgs
		}
	}
	return append(msgs, msg)
}

func removeMessage(msgs []model.ChatMessage, id string) []model.ChatMessage {
	return slices.DeleteFunc(msgs, func(m model.ChatMessage) bool { return m.ID == id })
}
