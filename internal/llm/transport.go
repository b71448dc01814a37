package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one outbound chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo describes a model reported by the inference server.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transport talks to the inference endpoint.
type Transport interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// SendPrompt opens a streaming completion for modelID. The returned Stream
	// owns the connection and must be cancelled or drained.
	SendPrompt(ctx context.Context, modelID string, messages []Message) (Stream, error)
}

// Stream is a lazy, finite sequence of text fragments.
type Stream interface {
	// Next returns the next non-empty fragment, io.EOF after the completion
	// sentinel, or an *Error if the server reported a failure mid-stream.
	Next() (string, error)
	// Cancel aborts the request. It is safe to call more than once.
	Cancel()
}

// Fragments adapts a Stream to a range-over-func iterator. Iteration ends
// quietly at io.EOF; any other error is yielded once as the final element.
func Fragments(s Stream) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			frag, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// New builds the transport for the given API flavour ("openai" or "ollama").
func New(api, baseURL string, connectTimeout time.Duration) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(api)) {
	case "", "openai":
		return NewOpenAITransport(baseURL, connectTimeout), nil
	case "ollama":
		return NewOllamaTransport(baseURL, connectTimeout), nil
	default:
		return nil, fmt.Errorf("unknown inference api %q", api)
	}
}

// newHTTPClient returns a client without an overall timeout, since streams
// may legitimately run for minutes. Only connecting and waiting for response
// headers are bounded.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: connectTimeout,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// decodeFunc turns one body line into a fragment. done marks the completion sentinel.
type decodeFunc func(line []byte) (fragment string, done bool, err error)

// lineStream reads a line-delimited body (SSE or NDJSON).
type lineStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	scanner *bufio.Scanner
	decode  decodeFunc
	model   string

	once      sync.Once
	finished  atomic.Bool
	cancelled atomic.Bool
}

func newLineStream(ctx context.Context, cancel context.CancelFunc, modelID string, body io.ReadCloser, decode decodeFunc) *lineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineStream{
		ctx:     ctx,
		cancel:  cancel,
		body:    body,
		scanner: scanner,
		decode:  decode,
		model:   modelID,
	}
}

func (s *lineStream) Next() (string, error) {
	if s.cancelled.Load() {
		return "", context.Canceled
	}
	if s.finished.Load() {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frag, done, err := s.decode(line)
		if err != nil {
			s.finish()
			return "", err
		}
		if done {
			s.finish()
			if frag == "" {
				return "", io.EOF
			}
			return frag, nil
		}
		if frag == "" {
			continue
		}
		return frag, nil
	}

	scanErr := s.scanner.Err()
	ctxErr := s.ctx.Err()
	s.finish()
	if s.cancelled.Load() {
		return "", context.Canceled
	}
	if ctxErr != nil {
		return "", ctxErr
	}
	if scanErr != nil {
		return "", networkError(s.model, "failed to read stream", scanErr)
	}
	return "", networkError(s.model, "stream ended before completion", io.ErrUnexpectedEOF)
}

func (s *lineStream) Cancel() {
	s.cancelled.Store(true)
	s.finish()
}

func (s *lineStream) finish() {
	s.once.Do(func() {
		s.finished.Store(true)
		s.cancel()
		_ = s.body.Close()
	})
}

// extractErrorMessage pulls a message out of {"error":"..."} or
// {"error":{"message":"..."}} bodies.
func extractErrorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}
	return errorText(envelope.Error)
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(body)
}
