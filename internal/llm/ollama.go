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

type ollamaTransport struct {
	client *http.Client
	url    string
}

// NewOllamaTransport creates a transport for Ollama's native API.
func NewOllamaTransport(baseURL string, connectTimeout time.Duration) Transport {
	return &ollamaTransport{
		client: newHTTPClient(connectTimeout),
		url:    strings.TrimRight(baseURL, "/"),
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaStreamChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool            `json:"done"`
	Error json.RawMessage `json:"error,omitempty"`
}

func (p *ollamaTransport) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, networkError("", "list models request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("", resp.StatusCode, readErrorBody(resp))
	}

	var payload struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, malformedError("", "could not decode model list", err)
	}

	models := make([]ModelInfo, 0, len(payload.Models))
	for _, m := range payload.Models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		if id == "" {
			continue
		}
		models = append(models, ModelInfo{ID: id, Name: m.Name})
	}
	return models, nil
}

func (p *ollamaTransport) SendPrompt(ctx context.Context, modelID string, messages []Message) (Stream, error) {
	body, err := json.Marshal(ollamaChatRequest{Model: modelID, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
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

	return newLineStream(reqCtx, cancel, modelID, resp.Body, ndjsonDecoder(modelID)), nil
}

// ndjsonDecoder parses one JSON object per line; "done": true is the sentinel.
func ndjsonDecoder(modelID string) decodeFunc {
	return func(line []byte) (string, bool, error) {
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", false, malformedError(modelID, "failed to decode stream chunk", err)
		}
		if msg := errorText(chunk.Error); msg != "" {
			return "", false, streamError(modelID, msg)
		}
		return chunk.Message.Content, chunk.Done, nil
	}
}
