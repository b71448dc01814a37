// Package errors holds the sentinels that services wrap with %w so the API
// can pick a status code with errors.Is. Service-level errors such as
// service.ErrNoModelsEnabled or service.ErrNothingToRetry wrap one of these.
package errors

import "errors"

var (
	// ErrNotFound covers unknown models and conversations. Maps to 404.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation covers bad prompts and settings. Maps to 400 and the
	// message is shown to the user.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means the request does not fit the current dashboard
	// state, e.g. retrying a model that has nothing to retry. Maps to 409.
	ErrConflict = errors.New("resource conflict")

	// ErrInternal maps to 500 without exposing the underlying cause.
	ErrInternal = errors.New("internal server error")
)
