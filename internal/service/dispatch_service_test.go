package service_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lmdash/internal/database"
	app_errors "lmdash/internal/errors"
	"lmdash/internal/llm"
	"lmdash/internal/model"
	"lmdash/internal/repository"
	mock_repo "lmdash/internal/repository/mocks"
	"lmdash/internal/service"
	"lmdash/internal/state"
)

// attemptScript describes how one SendPrompt call behaves.
type attemptScript struct {
	sendErr   error
	fragments []string
	streamErr error
	// block holds the stream before its first fragment until closed.
	block chan struct{}
}

type scriptedTransport struct {
	mu      sync.Mutex
	models  []llm.ModelInfo
	scripts map[string][]attemptScript
	calls   map[string][][]llm.Message
	onNext  func(modelID string, index int)
}

func newScriptedTransport(modelIDs ...string) *scriptedTransport {
	t := &scriptedTransport{
		scripts: make(map[string][]attemptScript),
		calls:   make(map[string][][]llm.Message),
	}
	for _, id := range modelIDs {
		t.models = append(t.models, llm.ModelInfo{ID: id, Name: id})
	}
	return t
}

// script sets the behavior of successive attempts. The last one repeats.
func (f *scriptedTransport) script(modelID string, attempts ...attemptScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[modelID] = attempts
}

func (f *scriptedTransport) callsFor(modelID string) [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.calls[modelID]...)
}

func (f *scriptedTransport) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ModelInfo(nil), f.models...), nil
}

func (f *scriptedTransport) SendPrompt(ctx context.Context, modelID string, messages []llm.Message) (llm.Stream, error) {
	f.mu.Lock()
	f.calls[modelID] = append(f.calls[modelID], messages)
	n := len(f.calls[modelID]) - 1
	a := attemptScript{fragments: []string{"reply from ", modelID}}
	if scripts := f.scripts[modelID]; len(scripts) > 0 {
		a = scripts[min(n, len(scripts)-1)]
	}
	onNext := f.onNext
	f.mu.Unlock()

	if a.sendErr != nil {
		return nil, a.sendErr
	}
	ctx, cancel := context.WithCancel(ctx)
	return &scriptedStream{ctx: ctx, cancel: cancel, modelID: modelID, script: a, onNext: onNext}, nil
}

type scriptedStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	modelID string
	script  attemptScript
	onNext  func(modelID string, index int)
	i       int
}

func (s *scriptedStream) Next() (string, error) {
	if s.onNext != nil {
		s.onNext(s.modelID, s.i)
	}
	if s.i == 0 && s.script.block != nil {
		select {
		case <-s.script.block:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.i < len(s.script.fragments) {
		s.i++
		return s.script.fragments[s.i-1], nil
	}
	if s.script.streamErr != nil {
		return "", s.script.streamErr
	}
	return "", io.EOF
}

func (s *scriptedStream) Cancel() { s.cancel() }

type fakeConfig struct {
	mu    sync.Mutex
	retry model.RetrySettings
	prefs map[string]model.ModelPreference
}

func (c *fakeConfig) RetrySettings(ctx context.Context) (model.RetrySettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry, nil
}

func (c *fakeConfig) ModelPreferences(ctx context.Context) (map[string]model.ModelPreference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.ModelPreference, len(c.prefs))
	for k, v := range c.prefs {
		out[k] = v
	}
	return out, nil
}

func (c *fakeConfig) SaveModelPreference(ctx context.Context, modelID string, pref model.ModelPreference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs[modelID] = pref
	return nil
}

func (c *fakeConfig) setRetry(r model.RetrySettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = r
}

// failingReplies stores everything except assistant messages.
type failingReplies struct {
	repository.Repository
}

func (r failingReplies) AppendMessage(ctx context.Context, conversationID string, msg model.ChatMessage) error {
	if msg.Role == model.RoleAssistant {
		return errors.New("disk I/O error")
	}
	return r.Repository.AppendMessage(ctx, conversationID, msg)
}

// gatedReplies holds the save of the reply with the given content until
// release is closed.
type gatedReplies struct {
	repository.Repository
	content string
	entered chan struct{}
	release chan struct{}
}

func (r *gatedReplies) AppendMessage(ctx context.Context, conversationID string, msg model.ChatMessage) error {
	if msg.Role == model.RoleAssistant && msg.Content == r.content {
		close(r.entered)
		<-r.release
	}
	return r.Repository.AppendMessage(ctx, conversationID, msg)
}

type fixture struct {
	svc       *service.DispatchService
	repo      repository.Repository
	store     *state.Store
	transport *scriptedTransport
	config    *fakeConfig
}

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "lmdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLiteRepository(db)
}

func newFixture(t *testing.T, repo repository.Repository, opts service.DispatchOptions, modelIDs ...string) *fixture {
	t.Helper()
	f := &fixture{
		repo:      repo,
		store:     state.New(),
		transport: newScriptedTransport(modelIDs...),
		config: &fakeConfig{
			retry: model.RetrySettings{Enabled: false, Strategy: model.StrategyImmediate},
			prefs: make(map[string]model.ModelPreference),
		},
	}
	f.svc = service.NewDispatchService(f.repo, f.config, f.store, f.transport, opts)
	t.Cleanup(f.svc.Close)
	require.NoError(t, f.svc.Init(context.Background()))
	return f
}

func (f *fixture) submit(t *testing.T, text string) *service.Dispatch {
	t.Helper()
	d, err := f.svc.SubmitPrompt(context.Background(), text, nil)
	require.NoError(t, err)
	waitFor(t, d)
	return d
}

func waitFor(t *testing.T, d *service.Dispatch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func (f *fixture) state(t *testing.T, modelID string) model.ModelConversationState {
	t.Helper()
	st, ok := f.store.State(modelID)
	require.True(t, ok, "no state for %s", modelID)
	return st
}

func contents(msgs []model.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func unavailable(modelID string) error {
	return &llm.Error{Kind: llm.KindUnavailable, Model: modelID, Message: "model not loaded"}
}

func TestDispatchService_Init(t *testing.T) {
	t.Run("Creates a conversation on first start", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha", "beta")

		snap := f.svc.Snapshot()
		require.NotEmpty(t, snap.ActiveConversationID)
		require.Len(t, snap.Conversations, 1)
		assert.Equal(t, model.DefaultTitle, snap.Conversations[0].Title)
		require.Len(t, snap.Models, 2)
		for _, m := range snap.Models {
			assert.True(t, m.Enabled)
			assert.True(t, m.History)
			assert.True(t, m.Online)
		}
	})

	t.Run("Restores the stored active conversation", func(t *testing.T) {
		repo := newRepo(t)
		f := newFixture(t, repo, service.DispatchOptions{}, "alpha")
		conv, err := f.svc.CreateConversation(context.Background())
		require.NoError(t, err)
		f.submit(t, "remember me")

		restarted := newFixture(t, repo, service.DispatchOptions{}, "alpha")
		assert.Equal(t, conv.ID, restarted.store.ActiveConversationID())
		assert.Equal(t, []string{"remember me", "reply from alpha"}, contents(restarted.state(t, "alpha").Messages))
	})

	t.Run("Applies stored model preferences", func(t *testing.T) {
		repo := newRepo(t)
		store := state.New()
		config := &fakeConfig{prefs: map[string]model.ModelPreference{"beta": {Enabled: false, History: false}}}
		svc := service.NewDispatchService(repo, config, store, newScriptedTransport("alpha", "beta"), service.DispatchOptions{})
		t.Cleanup(svc.Close)
		require.NoError(t, svc.Init(context.Background()))

		beta, ok := store.Model("beta")
		require.True(t, ok)
		assert.False(t, beta.Enabled)
		assert.False(t, beta.History)
		require.Len(t, store.EnabledModels(), 1)
	})
}

func TestDispatchService_SubmitPrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("One failing model does not affect the others", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha", "beta")
		f.transport.script("alpha", attemptScript{fragments: []string{"Hello", " there"}})
		f.transport.script("beta", attemptScript{sendErr: unavailable("beta")})

		d := f.submit(t, "hi")
		assert.ElementsMatch(t, []string{"alpha", "beta"}, d.ModelIDs)

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseSucceeded, alpha.Phase)
		assert.False(t, alpha.InFlight)
		assert.Equal(t, []string{"hi", "Hello there"}, contents(alpha.Messages))

		beta := f.state(t, "beta")
		assert.Equal(t, model.PhaseFailed, beta.Phase)
		assert.False(t, beta.InFlight)
		assert.True(t, beta.CanRetry)
		assert.Contains(t, beta.Error, "model not loaded")
		require.NotNil(t, beta.LastFailedPrompt)
		assert.Equal(t, "hi", beta.LastFailedPrompt.Prompt.Content)
		assert.Equal(t, []string{"hi"}, contents(beta.Messages))

		betaModel, _ := f.store.Model("beta")
		assert.False(t, betaModel.Online)

		conv, err := f.repo.GetConversation(ctx, d.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, []string{"hi", "Hello there"}, contents(conv.Messages))
		assert.Equal(t, "hi", conv.Title)
		assert.Equal(t, []string{"alpha"}, conv.ModelIDs)
	})

	t.Run("Partial replies grow by whole fragments", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.transport.script("alpha", attemptScript{fragments: []string{"Hel", "lo", " world"}})

		var mu sync.Mutex
		var seen []string
		f.transport.onNext = func(modelID string, index int) {
			if index == 0 {
				return
			}
			st, _ := f.store.State(modelID)
			mu.Lock()
			seen = append(seen, st.Messages[len(st.Messages)-1].Content)
			mu.Unlock()
		}

		f.submit(t, "greet")
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, seen)
	})

	t.Run("Fails fast without enabled models", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		_, err := f.svc.ToggleModel(ctx, "alpha")
		require.NoError(t, err)

		_, err = f.svc.SubmitPrompt(ctx, "anyone?", nil)
		assert.ErrorIs(t, err, service.ErrNoModelsEnabled)
		assert.ErrorIs(t, err, app_errors.ErrValidation)
		assert.Empty(t, f.transport.callsFor("alpha"))

		conv, err := f.repo.GetConversation(ctx, f.store.ActiveConversationID())
		require.NoError(t, err)
		assert.Empty(t, conv.Messages)
	})

	t.Run("Rejects an empty prompt", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		_, err := f.svc.SubmitPrompt(ctx, "   ", nil)
		assert.ErrorIs(t, err, service.ErrEmptyPrompt)
	})

	t.Run("Attachments are folded into the prompt", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		d, err := f.svc.SubmitPrompt(ctx, "summarize", []model.Attachment{{Name: "notes.txt", Content: "line one"}})
		require.NoError(t, err)
		waitFor(t, d)

		assert.Equal(t, "summarize\n\nFile: notes.txt\n```\nline one\n```", d.Prompt.Content)
		calls := f.transport.callsFor("alpha")
		require.Len(t, calls, 1)
		assert.Equal(t, d.Prompt.Content, calls[0][len(calls[0])-1].Content)
	})

	t.Run("History flag scopes the outbound messages", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha", "beta")
		_, err := f.svc.ToggleModelHistory(ctx, "alpha")
		require.NoError(t, err)

		f.submit(t, "one")
		f.submit(t, "two")

		alphaCalls := f.transport.callsFor("alpha")
		require.Len(t, alphaCalls, 2)
		require.Len(t, alphaCalls[1], 1)
		assert.Equal(t, "two", alphaCalls[1][0].Content)

		betaCalls := f.transport.callsFor("beta")
		require.Len(t, betaCalls, 2)
		require.Len(t, betaCalls[1], 4)
		assert.Equal(t, "one", betaCalls[1][0].Content)
		assert.Equal(t, "two", betaCalls[1][3].Content)
		assert.Equal(t, "user", betaCalls[1][3].Role)

		// Each model still renders only its own replies.
		assert.Equal(t, []string{"one", "reply from alpha", "two", "reply from alpha"}, contents(f.state(t, "alpha").Messages))
	})

	t.Run("Resubmitting cancels the previous request", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.transport.script("alpha",
			attemptScript{fragments: []string{"first"}, block: make(chan struct{})},
			attemptScript{fragments: []string{"second"}},
		)

		first, err := f.svc.SubmitPrompt(ctx, "p1", nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(f.transport.callsFor("alpha")) == 1 }, 2*time.Second, 5*time.Millisecond)

		second := f.submit(t, "p2")
		waitFor(t, first)

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseSucceeded, alpha.Phase)
		assert.Equal(t, []string{"p1", "p2", "second"}, contents(alpha.Messages))

		conv, err := f.repo.GetConversation(ctx, second.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2", "second"}, contents(conv.Messages))
	})

	t.Run("A reply saved before resubmission stays visible", func(t *testing.T) {
		repo := &gatedReplies{Repository: newRepo(t), content: "first", entered: make(chan struct{}), release: make(chan struct{})}
		f := newFixture(t, repo, service.DispatchOptions{}, "alpha")
		f.transport.script("alpha", attemptScript{fragments: []string{"first"}}, attemptScript{fragments: []string{"second"}})

		first, err := f.svc.SubmitPrompt(ctx, "p1", nil)
		require.NoError(t, err)
		<-repo.entered

		type result struct {
			d   *service.Dispatch
			err error
		}
		resubmitted := make(chan result, 1)
		go func() {
			d, err := f.svc.SubmitPrompt(ctx, "p2", nil)
			resubmitted <- result{d, err}
		}()
		time.Sleep(20 * time.Millisecond)
		close(repo.release)

		res := <-resubmitted
		require.NoError(t, res.err)
		waitFor(t, first)
		waitFor(t, res.d)

		want := []string{"p1", "p2", "first", "second"}
		conv, err := repo.GetConversation(ctx, res.d.ConversationID)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, contents(conv.Messages))
		assert.ElementsMatch(t, want, contents(f.state(t, "alpha").Messages))
	})

	t.Run("Reply survives a failed save", func(t *testing.T) {
		repo := newRepo(t)
		f := newFixture(t, failingReplies{Repository: repo}, service.DispatchOptions{}, "alpha")

		d := f.submit(t, "hi")

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseSucceeded, alpha.Phase)
		assert.Equal(t, []string{"hi", "reply from alpha"}, contents(alpha.Messages))

		conv, err := repo.GetConversation(ctx, d.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, []string{"hi"}, contents(conv.Messages))
	})
}

func TestDispatchService_AutomaticRetry(t *testing.T) {
	retryAll := model.RetrySettings{Enabled: true, MaxRetries: 2, Strategy: model.StrategyImmediate, RetryOnlyModelErrors: true}

	t.Run("Recovers after transient unavailability", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.config.setRetry(retryAll)
		f.transport.script("alpha",
			attemptScript{sendErr: unavailable("alpha")},
			attemptScript{fragments: []string{"par"}, streamErr: unavailable("alpha")},
			attemptScript{fragments: []string{"done"}},
		)

		f.submit(t, "go")

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseSucceeded, alpha.Phase)
		assert.Equal(t, 2, alpha.RetryCount)
		assert.Equal(t, []string{"go", "done"}, contents(alpha.Messages))
		assert.Len(t, f.transport.callsFor("alpha"), 3)

		m, _ := f.store.Model("alpha")
		assert.True(t, m.Online)
	})

	t.Run("Alpha answers while beta recovers from two outages", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha", "beta")
		f.config.setRetry(model.RetrySettings{Enabled: true, MaxRetries: 3, RetryDelayMS: 10, Strategy: model.StrategyFixed, RetryOnlyModelErrors: true})
		f.transport.script("beta",
			attemptScript{sendErr: unavailable("beta")},
			attemptScript{sendErr: unavailable("beta")},
			attemptScript{fragments: []string{"ok"}},
		)

		d := f.submit(t, "hi")

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseSucceeded, alpha.Phase)
		assert.Zero(t, alpha.RetryCount)
		assert.Equal(t, []string{"hi", "reply from alpha"}, contents(alpha.Messages))
		assert.Len(t, f.transport.callsFor("alpha"), 1)

		beta := f.state(t, "beta")
		assert.Equal(t, model.PhaseSucceeded, beta.Phase)
		assert.False(t, beta.InFlight)
		assert.Equal(t, 2, beta.RetryCount)
		assert.Empty(t, beta.Error)
		assert.Equal(t, []string{"hi", "ok"}, contents(beta.Messages))
		assert.Len(t, f.transport.callsFor("beta"), 3)

		conv, err := f.repo.GetConversation(ctx, d.ConversationID)
		require.NoError(t, err)
		require.Len(t, conv.Messages, 3)
		assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
		assert.Equal(t, "hi", conv.Messages[0].Content)
		assert.Nil(t, conv.Messages[0].ModelID)

		replies := make(map[string]string)
		for _, m := range conv.Messages[1:] {
			assert.Equal(t, model.RoleAssistant, m.Role)
			require.NotNil(t, m.ModelID)
			replies[*m.ModelID] = m.Content
		}
		assert.Equal(t, map[string]string{"alpha": "reply from alpha", "beta": "ok"}, replies)
	})

	t.Run("Gives up after the retry limit", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.config.setRetry(retryAll)
		f.transport.script("alpha", attemptScript{sendErr: unavailable("alpha")})

		f.submit(t, "go")

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseFailed, alpha.Phase)
		assert.Equal(t, 2, alpha.RetryCount)
		assert.True(t, alpha.CanRetry)
		assert.Len(t, f.transport.callsFor("alpha"), 3)
	})

	t.Run("Malformed responses are not retried", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.config.setRetry(retryAll)
		f.transport.script("alpha", attemptScript{streamErr: &llm.Error{Kind: llm.KindMalformed, Message: "bad chunk"}})

		f.submit(t, "go")

		assert.Equal(t, model.PhaseFailed, f.state(t, "alpha").Phase)
		assert.Len(t, f.transport.callsFor("alpha"), 1)
	})

	t.Run("Network errors follow the model-errors-only switch", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.config.setRetry(retryAll)
		f.transport.script("alpha", attemptScript{sendErr: errors.New("connection reset")})

		f.submit(t, "go")
		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseFailed, alpha.Phase)
		assert.Zero(t, alpha.RetryCount)
		assert.True(t, alpha.CanRetry)
		require.NotNil(t, alpha.LastFailedPrompt)
		assert.Equal(t, "go", alpha.LastFailedPrompt.Prompt.Content)
		assert.Len(t, f.transport.callsFor("alpha"), 1)

		anyErr := retryAll
		anyErr.RetryOnlyModelErrors = false
		anyErr.Strategy = model.StrategyFixed
		anyErr.RetryDelayMS = 100
		f.config.setRetry(anyErr)
		d, err := f.svc.SubmitPrompt(context.Background(), "again", nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			st, _ := f.store.State("alpha")
			return st.Phase == model.PhaseRetryWait && st.Status == "retrying (1/2)" && st.RetryCount == 1
		}, 2*time.Second, time.Millisecond)
		waitFor(t, d)

		alpha = f.state(t, "alpha")
		assert.Equal(t, model.PhaseFailed, alpha.Phase)
		assert.Equal(t, 2, alpha.RetryCount)
		assert.True(t, alpha.CanRetry)
		assert.Empty(t, alpha.Status)
		assert.Len(t, f.transport.callsFor("alpha"), 4)
	})
}

func TestDispatchService_RetryModel(t *testing.T) {
	ctx := context.Background()

	t.Run("Replays the failed prompt once", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha", "beta")
		f.config.setRetry(model.RetrySettings{Enabled: true, MaxRetries: 3, Strategy: model.StrategyImmediate})
		f.transport.script("beta", attemptScript{sendErr: unavailable("beta")}, attemptScript{sendErr: unavailable("beta")},
			attemptScript{sendErr: unavailable("beta")}, attemptScript{sendErr: unavailable("beta")},
			attemptScript{fragments: []string{"finally"}})

		d := f.submit(t, "hi")
		require.Equal(t, model.PhaseFailed, f.state(t, "beta").Phase)
		require.Len(t, f.transport.callsFor("beta"), 4)

		retried, err := f.svc.RetryModel(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, []string{"beta"}, retried.ModelIDs)
		waitFor(t, retried)

		beta := f.state(t, "beta")
		assert.Equal(t, model.PhaseSucceeded, beta.Phase)
		assert.Equal(t, []string{"hi", "finally"}, contents(beta.Messages))
		assert.Len(t, f.transport.callsFor("beta"), 5)
		assert.Len(t, f.transport.callsFor("alpha"), 1)

		conv, err := f.repo.GetConversation(ctx, d.ConversationID)
		require.NoError(t, err)
		assert.Len(t, conv.Messages, 3)
	})

	t.Run("Manual retry does not retry automatically", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.transport.script("alpha", attemptScript{sendErr: unavailable("alpha")})
		f.submit(t, "hi")

		f.config.setRetry(model.RetrySettings{Enabled: true, MaxRetries: 3, Strategy: model.StrategyImmediate})
		retried, err := f.svc.RetryModel(ctx, "alpha")
		require.NoError(t, err)
		waitFor(t, retried)

		alpha := f.state(t, "alpha")
		assert.Equal(t, model.PhaseFailed, alpha.Phase)
		assert.True(t, alpha.CanRetry)
		assert.Len(t, f.transport.callsFor("alpha"), 2)
	})

	t.Run("Nothing to retry", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.submit(t, "hi")

		_, err := f.svc.RetryModel(ctx, "alpha")
		assert.ErrorIs(t, err, service.ErrNothingToRetry)
		assert.ErrorIs(t, err, app_errors.ErrConflict)

		_, err = f.svc.RetryModel(ctx, "ghost")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})
}

func TestDispatchService_Toggles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")

	m, err := f.svc.ToggleModel(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, m.Enabled)
	assert.Equal(t, model.ModelPreference{Enabled: false, History: true}, f.config.prefs["alpha"])

	m, err = f.svc.ToggleModelHistory(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, m.History)
	assert.Equal(t, model.ModelPreference{Enabled: false, History: false}, f.config.prefs["alpha"])

	_, err = f.svc.ToggleModel(ctx, "ghost")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)
}

func TestDispatchService_Conversations(t *testing.T) {
	ctx := context.Background()

	t.Run("Clear hides history from one model only", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha", "beta")
		f.submit(t, "one")

		require.NoError(t, f.svc.ClearConversation(ctx, "alpha"))
		assert.Empty(t, f.state(t, "alpha").Messages)
		assert.Equal(t, model.PhaseIdle, f.state(t, "alpha").Phase)
		assert.Equal(t, []string{"one", "reply from beta"}, contents(f.state(t, "beta").Messages))

		time.Sleep(2 * time.Millisecond)
		f.submit(t, "two")

		alphaCalls := f.transport.callsFor("alpha")
		require.Len(t, alphaCalls, 2)
		require.Len(t, alphaCalls[1], 1)
		assert.Equal(t, "two", alphaCalls[1][0].Content)
		assert.Len(t, f.transport.callsFor("beta")[1], 4)
		assert.Equal(t, []string{"two", "reply from alpha"}, contents(f.state(t, "alpha").Messages))

		assert.ErrorIs(t, f.svc.ClearConversation(ctx, "ghost"), app_errors.ErrNotFound)
	})

	t.Run("Switching conversations re-derives every model", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		first := f.store.ActiveConversationID()
		f.submit(t, "in first")

		_, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)
		assert.Empty(t, f.state(t, "alpha").Messages)

		require.NoError(t, f.svc.SelectConversation(ctx, first))
		assert.Equal(t, []string{"in first", "reply from alpha"}, contents(f.state(t, "alpha").Messages))

		assert.ErrorIs(t, f.svc.SelectConversation(ctx, "missing"), app_errors.ErrNotFound)
	})

	t.Run("Deleting the active conversation activates another", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		first := f.store.ActiveConversationID()
		second, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)

		require.NoError(t, f.svc.DeleteConversation(ctx, second.ID))
		assert.Equal(t, first, f.store.ActiveConversationID())

		require.NoError(t, f.svc.DeleteConversation(ctx, first))
		active := f.store.ActiveConversationID()
		assert.NotEmpty(t, active)
		assert.NotEqual(t, first, active)
		require.Len(t, f.store.Conversations(), 1)

		assert.ErrorIs(t, f.svc.DeleteConversation(ctx, "missing"), app_errors.ErrNotFound)
	})

	t.Run("Deleting the active conversation activates the most recently updated", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		oldest := f.store.ActiveConversationID()
		time.Sleep(2 * time.Millisecond)
		middle, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		newest, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)

		// Bump the oldest past the middle one.
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, f.svc.SelectConversation(ctx, oldest))
		f.submit(t, "bump")
		require.NoError(t, f.svc.SelectConversation(ctx, newest.ID))

		require.NoError(t, f.svc.DeleteConversation(ctx, newest.ID))
		assert.Equal(t, oldest, f.store.ActiveConversationID())
		assert.Equal(t, []string{"bump", "reply from alpha"}, contents(f.state(t, "alpha").Messages))

		ids := make([]string, 0, 2)
		for _, c := range f.store.Conversations() {
			ids = append(ids, c.ID)
		}
		assert.Equal(t, []string{oldest, middle.ID}, ids)
	})

	t.Run("Clear all leaves one empty conversation", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{}, "alpha")
		f.submit(t, "one")
		_, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)

		require.NoError(t, f.svc.ClearAllConversations(ctx))
		list := f.store.Conversations()
		require.Len(t, list, 1)
		assert.Equal(t, list[0].ID, f.store.ActiveConversationID())
		assert.Zero(t, list[0].MessageCount)
		assert.Empty(t, f.state(t, "alpha").Messages)
	})

	t.Run("Clear all reports storage failures", func(t *testing.T) {
		repo := mock_repo.NewMockRepository(t)
		repo.On("DeleteAllConversations", mock.Anything).Return(errors.New("database is locked")).Once()
		svc := service.NewDispatchService(repo, &fakeConfig{}, state.New(), newScriptedTransport(), service.DispatchOptions{})
		t.Cleanup(svc.Close)

		err := svc.ClearAllConversations(ctx)
		assert.ErrorContains(t, err, "database is locked")
	})

	t.Run("Creating past the cap evicts the oldest", func(t *testing.T) {
		f := newFixture(t, newRepo(t), service.DispatchOptions{MaxConversations: 2}, "alpha")
		first := f.store.ActiveConversationID()
		second, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)
		third, err := f.svc.CreateConversation(ctx)
		require.NoError(t, err)

		list := f.store.Conversations()
		require.Len(t, list, 2)
		ids := []string{list[0].ID, list[1].ID}
		assert.ElementsMatch(t, []string{second.ID, third.ID}, ids)
		assert.NotContains(t, ids, first)
	})
}

func TestDispatchService_SetInferenceURL(t *testing.T) {
	ctx := context.Background()
	next := newScriptedTransport("gamma")
	var gotURL string
	f := newFixture(t, newRepo(t), service.DispatchOptions{
		NewTransport: func(baseURL string) (llm.Transport, error) {
			gotURL = baseURL
			return next, nil
		},
	}, "alpha")

	require.NoError(t, f.svc.SetInferenceURL(ctx, "http://other:1234"))
	assert.Equal(t, "http://other:1234", gotURL)

	models := f.store.Models()
	require.Len(t, models, 1)
	assert.Equal(t, "gamma", models[0].ID)
	_, ok := f.store.State("alpha")
	assert.False(t, ok)

	f.submit(t, "hello gamma")
	assert.Len(t, next.callsFor("gamma"), 1)
}
