package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports a request that still failed after the retry
// budget was spent. RetryAfter carries the delay a caller should
// respect before trying again; callers classify it via errors.As and
// the status code.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
