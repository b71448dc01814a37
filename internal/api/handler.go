package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lmdash/internal/interfaces"
	"lmdash/internal/service"
)

// keepAliveInterval is how often an idle event stream is pinged.
const keepAliveInterval = 15 * time.Second

// DashboardHandler serves the dashboard state, the prompt fan-out, the
// conversation list and the settings.
type DashboardHandler struct {
	engine   interfaces.Engine
	settings interfaces.SettingsService
}

func NewDashboardHandler(engine interfaces.Engine, settings interfaces.SettingsService) *DashboardHandler {
	return &DashboardHandler{engine: engine, settings: settings}
}

// GetState godoc
// @Summary      Get dashboard state
// @Description  Returns the model roster, every model's view of the active conversation, and the conversation list.
// @Tags         Dashboard
// @Produce      json
// @Success      200  {object}  state.Snapshot
// @Router       /v1/state [get]
func (h *DashboardHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.Snapshot())
}

// StreamEvents godoc
// @Summary      Stream dashboard state
// @Description  Sends a `snapshot` event with the full state on connect and after every change.
// @Tags         Dashboard
// @Produce      text/event-stream
// @Success      200  {object}  state.Snapshot
// @Router       /v1/events [get]
func (h *DashboardHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := h.engine.Subscribe(64)
	defer unsubscribe()

	if err := writeStreamEvent(w, "snapshot", h.engine.Snapshot()); err != nil {
		slog.Warn("Could not write initial snapshot, client likely disconnected.", "error", err)
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Event stream client disconnected.")
			return
		case <-ticker.C:
			if err := writeStreamComment(w, "ping"); err != nil {
				return
			}
		case _, ok := <-events:
			if !ok {
				return
			}
			// Collapse a burst of events into one snapshot.
			drain(events)
			if err := writeStreamEvent(w, "snapshot", h.engine.Snapshot()); err != nil {
				slog.Warn("Could not write to event stream, client likely disconnected.", "error", err)
				return
			}
		}
	}
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// SubmitPrompt godoc
// @Summary      Send a prompt to every enabled model
// @Description  Appends the prompt to the active conversation and starts one request per enabled model. Replies arrive through the state and event endpoints.
// @Tags         Dashboard
// @Accept       json
// @Produce      json
// @Param        request  body      SubmitPromptRequest  true  "Prompt"
// @Success      202      {object}  service.Dispatch
// @Failure      400      {object}  ErrorResponse
// @Router       /v1/prompts [post]
func (h *DashboardHandler) SubmitPrompt(w http.ResponseWriter, r *http.Request) {
	var req SubmitPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	dispatch, err := h.engine.SubmitPrompt(r.Context(), req.Prompt, req.attachments())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, dispatch)
}

// ListConversations godoc
// @Summary      List conversations
// @Description  Most recently updated first.
// @Tags         Conversations
// @Produce      json
// @Success      200  {array}  model.ConversationSummary
// @Router       /v1/conversations [get]
func (h *DashboardHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.Snapshot().Conversations)
}

// CreateConversation godoc
// @Summary      Start a new conversation
// @Description  Creates an empty conversation and makes it active.
// @Tags         Conversations
// @Produce      json
// @Success      201  {object}  model.Conversation
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/conversations [post]
func (h *DashboardHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.engine.CreateConversation(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, conv)
}

// SelectConversation godoc
// @Summary      Switch the active conversation
// @Tags         Conversations
// @Produce      json
// @Param        conversationID  path      string  true  "Conversation ID"
// @Success      200             {object}  StatusResponse
// @Failure      404             {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID}/active [put]
func (h *DashboardHandler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SelectConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// DeleteConversation godoc
// @Summary      Delete a conversation
// @Tags         Conversations
// @Param        conversationID  path  string  true  "Conversation ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID} [delete]
func (h *DashboardHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAllConversations godoc
// @Summary      Delete every conversation
// @Description  Leaves a single new empty conversation active.
// @Tags         Conversations
// @Success      204
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/conversations [delete]
func (h *DashboardHandler) ClearAllConversations(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearAllConversations(r.Context()); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings godoc
// @Summary      Get settings
// @Tags         Settings
// @Produce      json
// @Success      200  {object}  service.Settings
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/settings [get]
func (h *DashboardHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// UpdateSettings godoc
// @Summary      Update settings
// @Description  Saves the inference endpoint and retry settings. Changing the endpoint reloads the model roster.
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        settings  body      service.Settings  true  "Settings"
// @Success      200       {object}  service.Settings
// @Failure      400       {object}  ErrorResponse
// @Router       /v1/settings [put]
func (h *DashboardHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req service.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	current, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	if err := h.settings.Save(r.Context(), &req); err != nil {
		respondWithError(w, err)
		return
	}
	if current.InferenceURL != req.InferenceURL {
		if err := h.engine.SetInferenceURL(r.Context(), req.InferenceURL); err != nil {
			respondWithError(w, err)
			return
		}
	}
	slog.Info("Settings updated.", "inference_url", req.InferenceURL, "retry_enabled", req.Retry.Enabled)
	respondWithJSON(w, http.StatusOK, req)
}
