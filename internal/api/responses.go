package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	app_errors "lmdash/internal/errors"
	"lmdash/internal/model"
)

// This file contains shared DTOs (Data Transfer Objects) for API requests
// and responses, and helpers for sending consistent HTTP responses.

// ErrorResponse defines the standard JSON structure for error messages.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by operations that have no resource to return.
type StatusResponse struct {
	Status string `json:"status"`
}

// AttachmentRequest is a text file attached to a prompt.
type AttachmentRequest struct {
	Name    string `json:"name" validate:"required,max=255" example:"notes.md"`
	Content string `json:"content" validate:"max=1048576"`
}

// SubmitPromptRequest is the DTO for the prompt fan-out endpoint.
type SubmitPromptRequest struct {
	Prompt      string              `json:"prompt" validate:"required_without=Attachments,max=100000" example:"Explain goroutines in one paragraph."`
	Attachments []AttachmentRequest `json:"attachments,omitempty" validate:"max=10,dive"`
}

func (r SubmitPromptRequest) attachments() []model.Attachment {
	out := make([]model.Attachment, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		out = append(out, model.Attachment{Name: a.Name, Content: a.Content})
	}
	return out
}

// respondWithError maps business-layer errors to HTTP status codes and
// writes a standard JSON error body.
func respondWithError(w http.ResponseWriter, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, app_errors.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "The requested resource was not found."
	case errors.Is(err, app_errors.ErrValidation):
		statusCode = http.StatusBadRequest
		// Validation messages are already meant for the user.
		message = err.Error()
	case errors.Is(err, app_errors.ErrConflict):
		statusCode = http.StatusConflict
		message = err.Error()
	default:
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal server error occurred."
	}

	slog.Warn("Responding with error", "status_code", statusCode, "client_message", message, "internal_error", err)

	respondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondWithJSON marshals payload and writes it with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

// writeStreamEvent writes one named Server-Sent Event. A write error means
// the client has gone away.
func writeStreamEvent(w http.ResponseWriter, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal stream data to JSON", "event", event, "error", err)
		// The connection is still fine; only this payload is dropped.
		return nil
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("failed to write data to stream: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// writeStreamComment writes an SSE comment line, used as a keep-alive.
func writeStreamComment(w http.ResponseWriter, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("failed to write comment to stream: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
