package hiscores

import (
	"errors"
	"fmt"
	"time"
)

// Классы ошибок запроса к hiscores. Все они временные с точки зрения цикла синхронизации.
var (
	ErrNotFound           = errors.New("player not found on hiscores")
	ErrRateLimited        = errors.New("hiscores rate limit exceeded")
	ErrServiceUnavailable = errors.New("hiscores service unavailable")
	ErrMalformed          = errors.New("malformed hiscores response")
)

// RateLimitError carries the upstream retry hint. RetryAfter is zero when none was given.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter extracts the retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) && rlErr.RetryAfter > 0 {
		return rlErr.RetryAfter, true
	}
	return 0, false
}

// Reason returns a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}
