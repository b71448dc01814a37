package model

import "strings"

const (
	// TitleMaxRunes caps titles derived from the first prompt.
	TitleMaxRunes = 50
	// DefaultTitle is used for conversations created without a prompt.
	DefaultTitle = "New Conversation"
)

// TitleFromPrompt derives a conversation title from the first user message.
func TitleFromPrompt(prompt string) string {
	prompt = strings.Join(strings.Fields(prompt), " ")
	if prompt == "" {
		return DefaultTitle
	}
	runes := []rune(prompt)
	if len(runes) <= TitleMaxRunes {
		return prompt
	}
	return string(runes[:TitleMaxRunes]) + "..."
}

// visible reports whether msg is newer than the model's clear watermark.
func (c *Conversation) visible(msg ChatMessage, modelID string) bool {
	wm, ok := c.ClearedAt[modelID]
	return !ok || msg.CreatedAt.After(wm)
}

// Project returns the messages modelID renders: user turns plus its own
// assistant turns, in conversation order.
func (c *Conversation) Project(modelID string) []ChatMessage {
	out := make([]ChatMessage, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if !c.visible(msg, modelID) {
			continue
		}
		if msg.Role == RoleUser || msg.OwnedBy(modelID) {
			out = append(out, msg)
		}
	}
	return out
}

// History returns the outbound context for a history-enabled model: every
// visible turn regardless of which model produced it.
func (c *Conversation) History(modelID string) []ChatMessage {
	out := make([]ChatMessage, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if c.visible(msg, modelID) {
			out = append(out, msg)
		}
	}
	return out
}
