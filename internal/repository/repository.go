package repository

import (
	"context"
	"time"

	"lmdash/internal/model"
)

// Repository defines the durable conversation store.
// Implementations must be safe for concurrent use; AppendMessage in
// particular is called by several model tasks at once for the same
// conversation and must never lose or reorder an append.
type Repository interface {
	// CreateConversation stores a new empty conversation. An empty title
	// falls back to model.DefaultTitle.
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	// GetConversation returns the conversation with its messages in append
	// order, or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg model.ChatMessage) error
	// ListConversations returns summaries, most recently updated first.
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
	DeleteAllConversations(ctx context.Context) error
	// SetClearedAt records a per-model watermark on the conversation.
	SetClearedAt(ctx context.Context, conversationID, modelID string, at time.Time) error
	// EvictOldest deletes the least recently updated conversation whose id
	// is not in keep and returns its id. It returns ErrNotFound when there
	// is nothing to evict.
	EvictOldest(ctx context.Context, keep ...string) (string, error)

	SetActiveConversationID(ctx context.Context, id string) error
	// GetActiveConversationID returns "" when none is recorded.
	GetActiveConversationID(ctx context.Context) (string, error)
}
