package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a transport failure for the retry policy.
type ErrorKind string

const (
	// KindUnavailable means the inference server reports the requested model
	// is not loaded or not reachable.
	KindUnavailable ErrorKind = "unavailable"
	// KindNetwork covers connectivity, timeouts and HTTP failures unrelated to
	// model availability.
	KindNetwork ErrorKind = "network"
	// KindMalformed means a response body did not have the expected shape.
	KindMalformed ErrorKind = "malformed"
)

// Error is returned by every Transport and Stream method that fails.
type Error struct {
	Kind    ErrorKind
	Model   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Model != "" {
		b.WriteString(" (")
		b.WriteString(e.Model)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err. Errors that did not come from the
// transport are treated as network failures.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindNetwork
}

// availabilityPatterns are substrings inference servers use when a model is
// not loaded. This is a heuristic: a server that changes its wording will be
// misclassified as a network failure.
var availabilityPatterns = []string{
	"model not found",
	"model_not_found",
	"no such model",
	"unknown model",
	"not loaded",
	"no models loaded",
	"failed to load model",
	"model is unloaded",
	"model unavailable",
	"try pulling it first",
}

// isAvailabilityMessage reports whether msg reads like a model-availability error.
func isAvailabilityMessage(msg string) bool {
	normalized := strings.ToLower(msg)
	for _, p := range availabilityPatterns {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return strings.Contains(normalized, "model") && strings.Contains(normalized, "not found")
}

// classifyStatus maps a non-200 response to an error kind.
func classifyStatus(status int, body string) ErrorKind {
	if isAvailabilityMessage(body) {
		return KindUnavailable
	}
	if status == 404 {
		return KindUnavailable
	}
	return KindNetwork
}

// classifyMessage maps an error reported inside a stream to an error kind.
func classifyMessage(msg string) ErrorKind {
	if isAvailabilityMessage(msg) {
		return KindUnavailable
	}
	return KindNetwork
}

func networkError(modelID, msg string, err error) *Error {
	return &Error{Kind: KindNetwork, Model: modelID, Message: msg, Err: err}
}

func malformedError(modelID, msg string, err error) *Error {
	return &Error{Kind: KindMalformed, Model: modelID, Message: msg, Err: err}
}

func statusError(modelID string, status int, body string) *Error {
	msg := extractErrorMessage([]byte(body))
	if msg == "" {
		msg = strings.TrimSpace(body)
	}
	return &Error{
		Kind:    classifyStatus(status, body),
		Model:   modelID,
		Message: fmt.Sprintf("api returned status %d: %s", status, msg),
	}
}

func streamError(modelID, msg string) *Error {
	return &Error{Kind: classifyMessage(msg), Model: modelID, Message: msg}
}
