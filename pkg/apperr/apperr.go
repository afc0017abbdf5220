// Package apperr defines the error taxonomy shared by every component.
// Components return *Error values; the HTTP edge renders them into the
// response envelope exactly once.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	// Input validation
	CodeValidationError       Code = "validation_error"
	CodeMissingCurrentMessage Code = "missing_current_message"
	CodeInvalidAction         Code = "invalid_action"
	CodeMissingCollectionName Code = "missing_collection_name"
	CodeMissingVDBURL         Code = "missing_vdb_url"
	CodeEmptyEmbedAPIKey      Code = "empty_embed_api_key"
	CodeMissingEmbedAPIKey    Code = "missing_embed_api_key"
	CodeMissingMessages       Code = "missing_messages"
	CodeCollectionNotFound    Code = "collection_not_found"

	// Auth
	CodeLLMAuthError      Code = "llm_auth_error"
	CodeMissingJSessionID Code = "missing_jsessionid"
	CodeMissingReferer    Code = "missing_referer"

	// Upstream providers
	CodeRateLimit          Code = "rate_limit"
	CodeBadRequest         Code = "bad_request"
	CodeConnectionError    Code = "connection_error"
	CodeTimeout            Code = "timeout"
	CodeLLMAPIError        Code = "llm_api_error"
	CodeEmptyResponse      Code = "empty_response"
	CodeMissingAnswerField Code = "missing_answer_field"
	CodeProviderError      Code = "provider_error"

	// Vector store
	CodeQdrantConnectionError Code = "qdrant_connection_error"
	CodeQdrantTimeout         Code = "qdrant_timeout"
	CodeQdrantError           Code = "qdrant_error"

	// Embeddings
	CodeEmbeddingError Code = "embedding_error"

	// Agent
	CodeAgentCreationError  Code = "agent_creation_error"
	CodeAgentExecutionError Code = "agent_execution_error"
	CodeAgentFailed         Code = "agent_failed"
	CodeAgentIncomplete     Code = "agent_incomplete"

	// Retrieval / indexing
	CodeRAGProcessingError Code = "rag_processing_error"

	// Platform adapter
	CodePlatformError Code = "platform_error"

	// Fallback
	CodeInternalError Code = "internal_error"
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type Error struct {
	Code    Code
	Message string
	Detail  string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *Error {
	e := &Error{Code: code, Message: message, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

func WithDetail(code Code, message, detail string) *Error {
	return &Error{Code: code, Message: message, Detail: detail}
}

// CodeOf extracts the taxonomy code from any error chain.
// Unclassified errors map to internal_error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// Retryable reports whether the agent retry loop may re-attempt a call that
// failed with this error. Auth, rate-limit and malformed-request failures
// surface immediately.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeLLMAuthError, CodeRateLimit, CodeBadRequest,
		CodeMissingJSessionID, CodeMissingReferer,
		CodeValidationError, CodeMissingAnswerField:
		return false
	default:
		return true
	}
}
