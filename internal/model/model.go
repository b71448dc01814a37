package model

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Model is a single inference target reported by the inference server.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Online  bool   `json:"online"`
	Enabled bool   `json:"enabled"`
	History bool   `json:"history"` // Send prior conversation turns with each request.
}

// ChatMessage stores a single turn of a conversation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ModelID   *string   `json:"model_id,omitempty"` // Set only for assistant messages.
}

// OwnedBy reports whether the message is an assistant message produced by modelID.
func (m ChatMessage) OwnedBy(modelID string) bool {
	return m.Role == RoleAssistant && m.ModelID != nil && *m.ModelID == modelID
}

// Conversation is a durable thread shared by every participating model.
type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []ChatMessage `json:"messages"`
	ModelIDs  []string      `json:"model_ids"`
	// ClearedAt holds per-model watermarks; messages at or before the
	// watermark are hidden from that model.
	ClearedAt map[string]time.Time `json:"cleared_at,omitempty"`
}

// ConversationSummary is the sidebar view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	ModelIDs     []string  `json:"model_ids"`
}

// Summary returns the sidebar view of c.
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		ModelIDs:     c.ModelIDs,
	}
}

// Attachment is a file the user attached to a prompt. Only its text is used.
type Attachment struct {
	Name    string `json:"name" validate:"required,max=255"`
	Content string `json:"content"`
}
