package interfaces

import (
	"context"

	"lmdash/internal/model"
	"lmdash/internal/service"
	"lmdash/internal/state"
)

// This file defines the interfaces the API layer depends on. Handlers are
// written against these, not the concrete services, so they can be tested
// with mocks.

// Engine is the dispatch engine: prompt fan-out, model roster and the
// conversation lifecycle.
type Engine interface {
	Snapshot() state.Snapshot
	Subscribe(buffer int) (<-chan state.Event, func())

	SubmitPrompt(ctx context.Context, text string, attachments []model.Attachment) (*service.Dispatch, error)
	RetryModel(ctx context.Context, modelID string) (*service.Dispatch, error)

	RefreshModels(ctx context.Context) error
	SetInferenceURL(ctx context.Context, baseURL string) error
	ToggleModel(ctx context.Context, modelID string) (model.Model, error)
	ToggleModelHistory(ctx context.Context, modelID string) (model.Model, error)

	CreateConversation(ctx context.Context) (*model.Conversation, error)
	SelectConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
	ClearConversation(ctx context.Context, modelID string) error
	ClearAllConversations(ctx context.Context) error
}

// SettingsService defines the contract for managing application settings.
type SettingsService interface {
	InitAndGet(ctx context.Context, defaults service.Settings) (*service.Settings, error)
	Get(ctx context.Context) (*service.Settings, error)
	Save(ctx context.Context, settings *service.Settings) error
}
