package model

import "time"

// TaskPhase is the lifecycle stage of a single model's send task.
type TaskPhase string

const (
	PhaseIdle      TaskPhase = "idle"
	PhasePreparing TaskPhase = "preparing"
	PhaseSending   TaskPhase = "sending"
	PhaseStreaming TaskPhase = "streaming"
	PhaseRetryWait TaskPhase = "retry_wait"
	PhaseSucceeded TaskPhase = "succeeded"
	PhaseFailed    TaskPhase = "failed"
)

// PromptPayload is everything needed to replay a model request.
type PromptPayload struct {
	Prompt   ChatMessage   `json:"prompt"`
	Messages []ChatMessage `json:"messages"` // Outbound messages, already scoped by the history flag.
}

// ModelConversationState is the per-model projection of the active
// conversation plus live dispatch status. It is never persisted.
type ModelConversationState struct {
	ModelID          string         `json:"model_id"`
	Messages         []ChatMessage  `json:"messages"`
	InFlight         bool           `json:"in_flight"`
	Phase            TaskPhase      `json:"phase"`
	Status           string         `json:"status,omitempty"`
	Error            string         `json:"error,omitempty"`
	RetryCount       int            `json:"retry_count"`
	CanRetry         bool           `json:"can_retry"`
	LastFailedPrompt *PromptPayload `json:"last_failed_prompt,omitempty"`

	// TaskID identifies the send task that currently owns this state. Writes
	// from any other task are ignored.
	TaskID string `json:"-"`
}

// RetryStrategy selects how the delay between automatic retries grows.
type RetryStrategy string

const (
	StrategyImmediate   RetryStrategy = "immediate"
	StrategyFixed       RetryStrategy = "fixed"
	StrategyExponential RetryStrategy = "exponential"
)

// Valid reports whether s is a known strategy.
func (s RetryStrategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyFixed, StrategyExponential:
		return true
	}
	return false
}

// MaxRetryDelayMS is the largest accepted base retry delay (one hour).
const MaxRetryDelayMS = 60 * 60 * 1000

// RetrySettings configures automatic retries of failed model requests.
type RetrySettings struct {
	Enabled              bool          `json:"enabled"`
	MaxRetries           int           `json:"max_retries" validate:"gte=0,lte=20"`
	RetryDelayMS         int64         `json:"retry_delay_ms" validate:"gte=0,lte=3600000"`
	Strategy             RetryStrategy `json:"strategy" validate:"required,oneof=immediate fixed exponential"`
	RetryOnlyModelErrors bool          `json:"retry_only_model_errors"`
}

// RetryDelay returns the configured base delay.
func (s RetrySettings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// ModelPreference is the persisted subset of a Model.
type ModelPreference struct {
	Enabled bool `json:"enabled"`
	History bool `json:"history"`
}
