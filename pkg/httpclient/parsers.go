package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfterHeaders reads the standard Retry-After header plus the
// x-ratelimit-reset variants emitted by OpenAI-compatible gateways.
func ParseRetryAfterHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := headers.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	for _, key := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if v := headers.Get(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > info.RetryAfter {
				info.RetryAfter = d
			}
		}
	}

	return info
}
