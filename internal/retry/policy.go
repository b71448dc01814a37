// Package retry decides whether and when a failed model request is retried.
package retry

import (
	"math"
	"time"

	"lmdash/internal/llm"
	"lmdash/internal/model"
)

// maxShift keeps base << attempt inside int64.
const maxShift = 62

// DelayFor returns how long to wait before the next attempt. attempt is the
// zero-based number of retries already performed. There is no jitter and no
// cap; a product past the Duration range saturates instead of wrapping.
func DelayFor(strategy model.RetryStrategy, base time.Duration, attempt int) time.Duration {
	switch strategy {
	case model.StrategyImmediate:
		return 0
	case model.StrategyFixed:
		return base
	case model.StrategyExponential:
		if attempt < 0 {
			attempt = 0
		}
		if attempt > maxShift {
			attempt = maxShift
		}
		if base > time.Duration(math.MaxInt64>>attempt) {
			return time.Duration(math.MaxInt64)
		}
		return base * time.Duration(int64(1)<<attempt)
	default:
		return base
	}
}

// ShouldRetry reports whether a failure of the given kind is retried
// automatically after attempt retries have already been made.
func ShouldRetry(settings model.RetrySettings, kind llm.ErrorKind, attempt int) bool {
	if !settings.Enabled || attempt >= settings.MaxRetries {
		return false
	}
	switch kind {
	case llm.KindUnavailable:
		return true
	case llm.KindMalformed:
		return false
	default:
		return !settings.RetryOnlyModelErrors
	}
}

// Decide combines ShouldRetry and DelayFor.
func Decide(settings model.RetrySettings, kind llm.ErrorKind, attempt int) (bool, time.Duration) {
	if !ShouldRetry(settings, kind, attempt) {
		return false, 0
	}
	return true, DelayFor(settings.Strategy, settings.RetryDelay(), attempt)
}
