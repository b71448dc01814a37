package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	app_errors "lmdash/internal/errors"
	"lmdash/internal/llm"
	"lmdash/internal/metrics"
	"lmdash/internal/model"
	"lmdash/internal/repository"
	"lmdash/internal/state"
)

var (
	ErrEmptyPrompt     = fmt.Errorf("%w: prompt is empty", app_errors.ErrValidation)
	ErrNoModelsEnabled = fmt.Errorf("%w: no models enabled", app_errors.ErrValidation)
	ErrNothingToRetry  = fmt.Errorf("%w: model has no failed prompt to retry", app_errors.ErrConflict)
)

// ConfigStore is the configuration the dispatch engine reads and writes.
type ConfigStore interface {
	RetrySettings(ctx context.Context) (model.RetrySettings, error)
	ModelPreferences(ctx context.Context) (map[string]model.ModelPreference, error)
	SaveModelPreference(ctx context.Context, modelID string, pref model.ModelPreference) error
}

// TransportFactory builds a transport for an inference endpoint base URL.
type TransportFactory func(baseURL string) (llm.Transport, error)

type DispatchOptions struct {
	// MaxConversations caps the number of stored conversations. Zero means
	// no cap.
	MaxConversations int
	// NewTransport is used by SetInferenceURL. When nil the endpoint cannot
	// be changed at runtime.
	NewTransport TransportFactory
}

// Dispatch is the handle returned for a submitted prompt or manual retry.
type Dispatch struct {
	ConversationID string            `json:"conversation_id"`
	Prompt         model.ChatMessage `json:"prompt"`
	ModelIDs       []string          `json:"model_ids"`

	done chan struct{}
}

// Done is closed once every model task has settled and the conversation
// list has been refreshed.
func (d *Dispatch) Done() <-chan struct{} { return d.done }

// Wait blocks until Done or until ctx ends.
func (d *Dispatch) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchService fans prompts out to every enabled model and reconciles the
// streamed replies into the state store and the conversation repository.
type DispatchService struct {
	repo             repository.Repository
	config           ConfigStore
	state            *state.Store
	maxConversations int
	newTransport     TransportFactory

	transportMu sync.RWMutex
	transport   llm.Transport

	// opMu serializes operations that change which conversation is active
	// or what it contains. Model tasks never take it.
	opMu sync.Mutex
	// prefMu keeps toggles and their persisted preference in the same order.
	prefMu sync.Mutex

	tasksMu sync.Mutex
	tasks   map[taskKey]*task

	background conc.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewDispatchService(repo repository.Repository, config ConfigStore, store *state.Store, transport llm.Transport, opts DispatchOptions) *DispatchService {
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchService{
		repo:             repo,
		config:           config,
		state:            store,
		maxConversations: opts.MaxConversations,
		newTransport:     opts.NewTransport,
		transport:        transport,
		tasks:            make(map[taskKey]*task),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Init loads the model roster and restores (or creates) the active
// conversation. An unreachable inference server is logged, not fatal.
func (s *DispatchService) Init(ctx context.Context) error {
	if err := s.RefreshModels(ctx); err != nil {
		slog.Warn("Could not load models from the inference server.", "error", err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	var conv *model.Conversation
	id, err := s.repo.GetActiveConversationID(ctx)
	if err != nil {
		return fmt.Errorf("could not read active conversation: %w", err)
	}
	if id != "" {
		conv, err = s.repo.GetConversation(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("could not load active conversation: %w", err)
		}
	}
	if conv == nil {
		if conv, err = s.mostRecentOrNew(ctx); err != nil {
			return err
		}
	}
	if err := s.activate(ctx, conv); err != nil {
		return err
	}
	s.refreshConversations(ctx)
	return nil
}

// Close cancels every running task and waits for them to settle.
func (s *DispatchService) Close() {
	s.cancel()
	s.background.Wait()
}

func (s *DispatchService) Snapshot() state.Snapshot { return s.state.Snapshot() }

func (s *DispatchService) Subscribe(buffer int) (<-chan state.Event, func()) {
	return s.state.Subscribe(buffer)
}

// SubmitPrompt appends the prompt to the active conversation (creating one
// if needed) and starts one task per enabled model. It returns as soon as
// the tasks are started.
func (s *DispatchService) SubmitPrompt(ctx context.Context, text string, attachments []model.Attachment) (*Dispatch, error) {
	content := composePrompt(text, attachments)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyPrompt
	}
	enabled := s.state.EnabledModels()
	if len(enabled) == 0 {
		return nil, ErrNoModelsEnabled
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// Step 1: Get or create the active conversation.
	conv, err := s.activeOrNew(ctx, model.TitleFromPrompt(text))
	if err != nil {
		return nil, err
	}

	// Step 2: Save the user's message once, before any model is contacted.
	prompt := model.ChatMessage{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendDurable(ctx, conv.ID, prompt); err != nil {
		return nil, fmt.Errorf("could not save prompt: %w", err)
	}

	// Step 3: Snapshot the history that history-enabled models will see.
	conv, err = s.repo.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("could not reload conversation: %w", err)
	}

	// Step 4: Claim every model's state and start its task.
	tasks := make([]*task, 0, len(enabled))
	for _, m := range enabled {
		payload := model.PromptPayload{Prompt: prompt, Messages: outboundFor(conv, m, prompt)}
		tasks = append(tasks, s.claim(conv.ID, m.ID, payload, false, func(st *model.ModelConversationState) {
			st.Messages = append(st.Messages, prompt)
		}))
	}
	metrics.Dispatches.Inc()
	slog.Info("Dispatching prompt.", "conversation_id", conv.ID, "models", len(tasks))

	s.refreshConversations(ctx)
	return s.launch(conv.ID, prompt, tasks), nil
}

// RetryModel re-sends the model's last failed prompt exactly once. It fails
// with ErrNothingToRetry when the model is busy or has nothing to retry.
func (s *DispatchService) RetryModel(ctx context.Context, modelID string) (*Dispatch, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, ok := s.state.Model(modelID); !ok {
		return nil, fmt.Errorf("%w: model %s", app_errors.ErrNotFound, modelID)
	}
	st, ok := s.state.State(modelID)
	if !ok || st.InFlight || st.LastFailedPrompt == nil {
		return nil, ErrNothingToRetry
	}

	convID := s.state.ActiveConversationID()
	payload := *st.LastFailedPrompt
	t := s.claim(convID, modelID, payload, true, nil)
	slog.Info("Manually retrying model.", "model", modelID, "conversation_id", convID)
	return s.launch(convID, payload.Prompt, []*task{t}), nil
}

// launch runs the tasks concurrently and joins them without failing fast.
func (s *DispatchService) launch(conversationID string, prompt model.ChatMessage, tasks []*task) *Dispatch {
	d := &Dispatch{ConversationID: conversationID, Prompt: prompt, done: make(chan struct{})}
	var wg conc.WaitGroup
	for _, t := range tasks {
		d.ModelIDs = append(d.ModelIDs, t.modelID)
		wg.Go(func() { s.run(t) })
	}
	s.background.Go(func() {
		defer close(d.done)
		if r := wg.WaitAndRecover(); r != nil {
			slog.Error("A model task panicked.", "conversation_id", conversationID, "error", r.AsError())
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.refreshConversations(ctx)
	})
	return d
}

// RefreshModels reloads the roster from the inference server and applies
// the stored per-model preferences.
func (s *DispatchService) RefreshModels(ctx context.Context) error {
	infos, err := s.currentTransport().ListModels(ctx)
	if err != nil {
		for _, m := range s.state.Models() {
			s.setOnline(m.ID, false)
		}
		return fmt.Errorf("could not list models: %w", err)
	}
	prefs, err := s.config.ModelPreferences(ctx)
	if err != nil {
		slog.Warn("Could not read model preferences, using defaults.", "error", err)
	}

	models := make([]model.Model, 0, len(infos))
	for _, info := range infos {
		pref, ok := prefs[info.ID]
		if !ok {
			pref = model.ModelPreference{Enabled: true, History: true}
		}
		models = append(models, model.Model{
			ID:      info.ID,
			Name:    info.Name,
			Online:  true,
			Enabled: pref.Enabled,
			History: pref.History,
		})
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	var projections map[string][]model.ChatMessage
	if id := s.state.ActiveConversationID(); id != "" {
		if conv, err := s.repo.GetConversation(ctx, id); err == nil {
			projections = projectAll(conv, models)
		}
	}
	s.state.SetRoster(models, projections)
	slog.Info("Model roster refreshed.", "count", len(models))
	return nil
}

// SetInferenceURL points the engine at another inference endpoint and
// reloads the roster from it.
func (s *DispatchService) SetInferenceURL(ctx context.Context, baseURL string) error {
	if s.newTransport == nil {
		return fmt.Errorf("%w: inference endpoint cannot be changed at runtime", app_errors.ErrConflict)
	}
	t, err := s.newTransport(baseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", app_errors.ErrValidation, err)
	}
	s.transportMu.Lock()
	s.transport = t
	s.transportMu.Unlock()
	slog.Info("Inference endpoint changed.", "url", baseURL)

	if err := s.RefreshModels(ctx); err != nil {
		slog.Warn("Could not load models from the new inference endpoint.", "url", baseURL, "error", err)
	}
	return nil
}

// ToggleModel flips whether the model takes part in dispatch.
func (s *DispatchService) ToggleModel(ctx context.Context, modelID string) (model.Model, error) {
	return s.togglePreference(ctx, modelID, func(m *model.Model) { m.Enabled = !m.Enabled })
}

// ToggleModelHistory flips whether the model receives prior turns.
func (s *DispatchService) ToggleModelHistory(ctx context.Context, modelID string) (model.Model, error) {
	return s.togglePreference(ctx, modelID, func(m *model.Model) { m.History = !m.History })
}

func (s *DispatchService) togglePreference(ctx context.Context, modelID string, flip func(m *model.Model)) (model.Model, error) {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()

	m, ok := s.state.UpdateModel(modelID, flip)
	if !ok {
		return model.Model{}, fmt.Errorf("%w: model %s", app_errors.ErrNotFound, modelID)
	}
	pref := model.ModelPreference{Enabled: m.Enabled, History: m.History}
	if err := s.config.SaveModelPreference(ctx, modelID, pref); err != nil {
		slog.Error("Failed to save model preference.", "model", modelID, "error", err)
	}
	return m, nil
}

// CreateConversation creates an empty conversation and makes it active.
func (s *DispatchService) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	conv, err := s.createConversation(ctx, "")
	if err != nil {
		return nil, err
	}
	if err := s.activate(ctx, conv); err != nil {
		return nil, err
	}
	s.refreshConversations(ctx)
	return conv, nil
}

// SelectConversation makes an existing conversation active.
func (s *DispatchService) SelectConversation(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return mapRepoError(err, "conversation", id)
	}
	return s.activate(ctx, conv)
}

// DeleteConversation removes a conversation. Deleting the active one
// activates the most recently updated remaining conversation, or a new
// empty one when none remain.
func (s *DispatchService) DeleteConversation(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.repo.DeleteConversation(ctx, id); err != nil {
		return mapRepoError(err, "conversation", id)
	}
	s.cancelTasks(func(k taskKey) bool { return k.conversationID == id })
	slog.Info("Conversation deleted.", "conversation_id", id)

	if id == s.state.ActiveConversationID() {
		next, err := s.mostRecentOrNew(ctx)
		if err != nil {
			return err
		}
		if err := s.activate(ctx, next); err != nil {
			return err
		}
	}
	s.refreshConversations(ctx)
	return nil
}

// ClearConversation hides everything currently in the active conversation
// from one model. Other models keep their view.
func (s *DispatchService) ClearConversation(ctx context.Context, modelID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, ok := s.state.Model(modelID); !ok {
		return fmt.Errorf("%w: model %s", app_errors.ErrNotFound, modelID)
	}
	convID := s.state.ActiveConversationID()
	if convID == "" {
		return nil
	}
	s.cancelTasks(func(k taskKey) bool { return k == taskKey{conversationID: convID, modelID: modelID} })

	if err := s.repo.SetClearedAt(ctx, convID, modelID, time.Now().UTC()); err != nil {
		return mapRepoError(err, "conversation", convID)
	}
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return mapRepoError(err, "conversation", convID)
	}
	projection := conv.Project(modelID)
	s.state.UpdateState(convID, modelID, func(st *model.ModelConversationState) bool {
		*st = model.ModelConversationState{ModelID: modelID, Messages: projection, Phase: model.PhaseIdle}
		return true
	})
	slog.Info("Cleared conversation for model.", "conversation_id", convID, "model", modelID)
	return nil
}

// ClearAllConversations deletes every conversation and leaves exactly one
// new empty conversation active.
func (s *DispatchService) ClearAllConversations(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.cancelTasks(func(taskKey) bool { return true })
	if err := s.repo.DeleteAllConversations(ctx); err != nil {
		return fmt.Errorf("could not delete conversations: %w", err)
	}
	conv, err := s.createConversation(ctx, "")
	if err != nil {
		return err
	}
	if err := s.activate(ctx, conv); err != nil {
		return err
	}
	s.refreshConversations(ctx)
	slog.Info("All conversations cleared.")
	return nil
}

func (s *DispatchService) currentTransport() llm.Transport {
	s.transportMu.RLock()
	defer s.transportMu.RUnlock()
	return s.transport
}

// activeOrNew returns the active conversation, creating and activating one
// titled title if there is none. Callers hold opMu.
func (s *DispatchService) activeOrNew(ctx context.Context, title string) (*model.Conversation, error) {
	if id := s.state.ActiveConversationID(); id != "" {
		conv, err := s.repo.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("could not load active conversation: %w", err)
		}
	}
	conv, err := s.createConversation(ctx, title)
	if err != nil {
		return nil, err
	}
	if err := s.activate(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// mostRecentOrNew returns the most recently updated conversation, or a new
// empty one when the store is empty. Callers hold opMu.
func (s *DispatchService) mostRecentOrNew(ctx context.Context) (*model.Conversation, error) {
	list, err := s.repo.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list conversations: %w", err)
	}
	for _, summary := range list {
		conv, err := s.repo.GetConversation(ctx, summary.ID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("could not load conversation: %w", err)
		}
	}
	return s.createConversation(ctx, "")
}

// createConversation stores a new conversation, evicting the oldest ones
// (never the active one) to stay under the cap.
func (s *DispatchService) createConversation(ctx context.Context, title string) (*model.Conversation, error) {
	active := s.state.ActiveConversationID()
	if s.maxConversations > 0 {
		list, err := s.repo.ListConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list conversations: %w", err)
		}
		for n := len(list); n >= s.maxConversations; n-- {
			if !s.evictOldest(ctx, "conversation cap reached", active) {
				break
			}
		}
	}

	conv, err := s.repo.CreateConversation(ctx, title)
	if errors.Is(err, repository.ErrStorageFull) && s.evictOldest(ctx, "storage full", active) {
		conv, err = s.repo.CreateConversation(ctx, title)
	}
	if err != nil {
		return nil, fmt.Errorf("could not create conversation: %w", err)
	}
	slog.Info("Conversation created.", "conversation_id", conv.ID, "title", conv.Title)
	return conv, nil
}

func (s *DispatchService) evictOldest(ctx context.Context, reason string, keep ...string) bool {
	evicted, err := s.repo.EvictOldest(ctx, keep...)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("Failed to evict conversation.", "reason", reason, "error", err)
		}
		return false
	}
	s.cancelTasks(func(k taskKey) bool { return k.conversationID == evicted })
	metrics.Evictions.Inc()
	slog.Warn("Evicted oldest conversation.", "conversation_id", evicted, "reason", reason)
	return true
}

// appendDurable appends msg, evicting the oldest other conversation and
// trying once more if the store is full.
func (s *DispatchService) appendDurable(ctx context.Context, conversationID string, msg model.ChatMessage) error {
	err := s.repo.AppendMessage(ctx, conversationID, msg)
	if !errors.Is(err, repository.ErrStorageFull) {
		return err
	}
	if !s.evictOldest(ctx, "storage full", conversationID, s.state.ActiveConversationID()) {
		return err
	}
	return s.repo.AppendMessage(ctx, conversationID, msg)
}

// activate makes conv the active conversation, re-derives every model's
// projection, and hands state ownership back to tasks still running for it.
// Callers hold opMu.
func (s *DispatchService) activate(ctx context.Context, conv *model.Conversation) error {
	if err := s.repo.SetActiveConversationID(ctx, conv.ID); err != nil {
		return fmt.Errorf("could not store active conversation: %w", err)
	}
	s.state.Activate(conv.ID, projectAll(conv, s.state.Models()))

	s.tasksMu.Lock()
	running := make([]*task, 0, len(s.tasks))
	for key, t := range s.tasks {
		if key.conversationID == conv.ID {
			running = append(running, t)
		}
	}
	s.tasksMu.Unlock()
	for _, t := range running {
		s.state.UpdateState(conv.ID, t.modelID, func(st *model.ModelConversationState) bool {
			st.TaskID = t.id
			st.InFlight = true
			st.Phase = model.PhaseSending
			return true
		})
	}
	return nil
}

func (s *DispatchService) refreshConversations(ctx context.Context) {
	list, err := s.repo.ListConversations(ctx)
	if err != nil {
		slog.Error("Failed to refresh conversation list.", "error", err)
		return
	}
	s.state.SetConversations(list)
}

func mapRepoError(err error, what, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", app_errors.ErrNotFound, what, id)
	}
	return err
}

// composePrompt folds attachment text into the user message as fenced blocks.
func composePrompt(text string, attachments []model.Attachment) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	for _, a := range attachments {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "File: %s\n```\n%s\n```", a.Name, a.Content)
	}
	return b.String()
}

// outboundFor builds the messages sent to m: the whole visible conversation
// when history is on, otherwise only the prompt.
func outboundFor(conv *model.Conversation, m model.Model, prompt model.ChatMessage) []model.ChatMessage {
	if !m.History {
		return []model.ChatMessage{prompt}
	}
	return conv.History(m.ID)
}

func projectAll(conv *model.Conversation, models []model.Model) map[string][]model.ChatMessage {
	out := make(map[string][]model.ChatMessage, len(models))
	for _, m := range models {
		out[m.ID] = conv.Project(m.ID)
	}
	return out
}
