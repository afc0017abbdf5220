package apperr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := Wrap(CodeRateLimit, "provider throttled", fmt.Errorf("HTTP 429"))
	assert.Equal(t, CodeRateLimit, CodeOf(err))

	wrapped := fmt.Errorf("agent iteration 2: %w", err)
	assert.Equal(t, CodeRateLimit, CodeOf(wrapped))

	assert.Equal(t, CodeInternalError, CodeOf(fmt.Errorf("plain error")))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeLLMAuthError, false},
		{CodeRateLimit, false},
		{CodeBadRequest, false},
		{CodeConnectionError, true},
		{CodeTimeout, true},
		{CodeLLMAPIError, true},
		{CodeInternalError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(New(tt.code, "x")))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := WithDetail(CodeEmptyResponse, "LLM returned no choices", "after 3 attempts")
	assert.Contains(t, err.Error(), "empty_response")
	assert.Contains(t, err.Error(), "after 3 attempts")

	cause := fmt.Errorf("dial tcp: refused")
	wrapped := Wrap(CodeConnectionError, "embedding endpoint unreachable", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause.Error(), wrapped.Detail)
}
