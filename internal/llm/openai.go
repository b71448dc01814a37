package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// openAITransport speaks the OpenAI-compatible API exposed by LM Studio,
// llama.cpp server and Ollama's /v1 routes.
type openAITransport struct {
	client *http.Client
	url    string
}

// NewOpenAITransport creates a transport for an OpenAI-compatible endpoint.
func NewOpenAITransport(baseURL string, connectTimeout time.Duration) Transport {
	return &openAITransport{
		client: newHTTPClient(connectTimeout),
		url:    strings.TrimRight(baseURL, "/"),
	}
}

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

func (t *openAITransport) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, networkError("", "list models request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("", resp.StatusCode, readErrorBody(resp))
	}

	var payload struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, malformedError("", "could not decode model list", err)
	}

	models := make([]ModelInfo, 0, len(payload.Data))
	for _, m := range payload.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, ModelInfo{ID: m.ID, Name: m.ID})
	}
	return models, nil
}

func (t *openAITransport) SendPrompt(ctx context.Context, modelID string, messages []Message) (Stream, error) {
	body, err := json.Marshal(chatCompletionRequest{Model: modelID, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.url+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, networkError(modelID, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := readErrorBody(resp)
		_ = resp.Body.Close()
		cancel()
		return nil, statusError(modelID, resp.StatusCode, errBody)
	}

	return newLineStream(reqCtx, cancel, modelID, resp.Body, sseDecoder(modelID)), nil
}

// sseDecoder parses "data: {...}" lines and stops at "data: [DONE]".
// Comment lines and event names are skipped; error payloads carry an
// "error" key either way.
func sseDecoder(modelID string) decodeFunc {
	return func(line []byte) (string, bool, error) {
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			return "", false, nil
		}
		data = bytes.TrimSpace(data)
		if string(data) == "[DONE]" {
			return "", true, nil
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", false, malformedError(modelID, "could not decode stream chunk", err)
		}
		if msg := errorText(chunk.Error); msg != "" {
			return "", false, streamError(modelID, msg)
		}

		var b strings.Builder
		for _, c := range chunk.Choices {
			b.WriteString(c.Delta.Content)
		}
		return b.String(), false, nil
	}
}
