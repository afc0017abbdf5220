package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/config"
	"github.com/smartrag/smartrag/pkg/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	return New(cfg, service.New(cfg))
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doRequest(t, srv.Routes(), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestGenerateInvalidBody(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/v1/generate", "{not json", nil)

	// failures still answer 200; the body carries the envelope
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(apperr.CodeValidationError), body["code"])
	assert.NotEmpty(t, body["errors"])
}

func TestGenerateMissingCurrentMessage(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/v1/generate", `{"current_message": ""}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(apperr.CodeMissingCurrentMessage), body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestRAGManageRequiresSession(t *testing.T) {
	srv := newTestServer(t)

	_, body := doRequest(t, srv.Routes(), http.MethodPost, "/v1/rag/manage",
		`{"action": "add", "irv_id": "doc-1", "vdb_url": "http://qdrant:6333"}`, nil)
	assert.Equal(t, string(apperr.CodeMissingReferer), body["code"])

	_, body = doRequest(t, srv.Routes(), http.MethodPost, "/v1/rag/manage",
		`{"action": "add", "irv_id": "doc-1", "vdb_url": "http://qdrant:6333"}`,
		map[string]string{"Referer": "https://dms.example.com/app"})
	assert.Equal(t, string(apperr.CodeMissingJSessionID), body["code"])
}

func TestRAGManageInvalidAction(t *testing.T) {
	srv := newTestServer(t)

	_, body := doRequest(t, srv.Routes(), http.MethodPost, "/v1/rag/manage",
		`{"action": "rebuild", "irv_id": "doc-1", "vdb_url": "http://qdrant:6333"}`,
		map[string]string{
			"Referer": "https://dms.example.com/app",
			"Cookie":  "JSESSIONID=abc123",
		})
	assert.Equal(t, string(apperr.CodeInvalidAction), body["code"])
}

func TestRAGHealthMissingURL(t *testing.T) {
	srv := newTestServer(t)
	_, body := doRequest(t, srv.Routes(), http.MethodPost, "/v1/rag/health", `{}`, nil)

	assert.Equal(t, string(apperr.CodeMissingVDBURL), body["code"])
}

func TestDeleteCollectionMissingName(t *testing.T) {
	srv := newTestServer(t)
	// chi does not match an empty URL param, so probe the validation
	// path through a name of only whitespace
	_, body := doRequest(t, srv.Routes(), http.MethodDelete, "/v1/rag/collections/%20", "", nil)

	assert.Equal(t, string(apperr.CodeMissingCollectionName), body["code"])
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodGet, "/v1/cache/info", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["cache_size"])

	rec, body = doRequest(t, srv.Routes(), http.MethodDelete, "/v1/cache/clear", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["cleared"])
}

func TestRecovererKeepsEnvelope(t *testing.T) {
	srv := newTestServer(t)
	panicking := srv.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec, body := doRequest(t, panicking, http.MethodGet, "/anything", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(apperr.CodeInternalError), body["code"])
	assert.Contains(t, body["error"], "boom")
}

func TestMetricsEndpointRegistered(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
