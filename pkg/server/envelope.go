package server

import (
	"encoding/json"
	"net/http"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/logger"
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorEnvelope is the uniform failure body. Every endpoint answers
// HTTP 200; clients branch on the presence of the error field.
type ErrorEnvelope struct {
	Error  string       `json:"error"`
	Detail string       `json:"detail,omitempty"`
	Code   string       `json:"code"`
	Errors []FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.GetLogger().Error("failed to encode response", "error", err)
	}
}

// writeError maps an error onto the envelope. Unclassified errors
// become internal_error with the message as detail.
func writeError(w http.ResponseWriter, err error) {
	envelope := ErrorEnvelope{
		Error: "internal server error",
		Code:  string(apperr.CodeInternalError),
	}
	if appErr, ok := apperr.As(err); ok {
		envelope.Error = appErr.Message
		envelope.Detail = appErr.Detail
		envelope.Code = string(appErr.Code)
	} else if err != nil {
		envelope.Detail = err.Error()
	}
	writeJSON(w, envelope)
}

func writeFieldErrors(w http.ResponseWriter, message string, fields []FieldError) {
	writeJSON(w, ErrorEnvelope{
		Error:  message,
		Code:   string(apperr.CodeValidationError),
		Errors: fields,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeFieldErrors(w, "невалидное тело запроса", []FieldError{
			{Field: "body", Message: err.Error(), Type: "json_invalid"},
		})
		return false
	}
	return true
}
