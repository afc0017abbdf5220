package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// platformStub emulates the object/file/folder surface the transcript
// store touches.
type platformStub struct {
	mux *http.ServeMux
	srv *httptest.Server

	uploads map[string][]byte
}

func newPlatformStub(t *testing.T) *platformStub {
	t.Helper()
	stub := &platformStub{
		mux:     http.NewServeMux(),
		uploads: map[string][]byte{},
	}
	stub.srv = httptest.NewServer(stub.mux)
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *platformStub) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(s.srv.URL, "session")
	require.NoError(t, err)
	return c
}

func TestLoad_TranscriptEnvelope(t *testing.T) {
	stub := newPlatformStub(t)
	stub.mux.HandleFunc("/siu-star/services/api/irv/chat-1/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"irvfId": "f1", "name": TranscriptFileName},
		})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irvf/f1/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[{"role":"user","content":"привет"},{"role":"assistant","content":"здравствуйте"}]}`))
	})

	store := NewTranscriptStore(stub.client(t))
	messages, exists := store.Load(context.Background(), "chat-1")
	require.True(t, exists)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "здравствуйте", messages[1].Content)
}

func TestLoad_MissingFileReportsNotExists(t *testing.T) {
	stub := newPlatformStub(t)
	stub.mux.HandleFunc("/siu-star/services/api/irv/chat-1/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"irvfId": "f1", "name": "другое.docx"},
		})
	})

	store := NewTranscriptStore(stub.client(t))
	messages, exists := store.Load(context.Background(), "chat-1")
	assert.False(t, exists)
	assert.Nil(t, messages)

	messages, exists = store.Load(context.Background(), "")
	assert.False(t, exists)
	assert.Nil(t, messages)
}

func TestSave_NewDialogCreatesFolderAndObject(t *testing.T) {
	stub := newPlatformStub(t)
	var createdFolder, createdObject map[string]string

	stub.mux.HandleFunc("/siu-star/services/api/irv/doc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name": "Регламент",
			"ir":   map[string]interface{}{"id": "io-1", "parentId": "parent-1", "nauId": "nau-1"},
		})
	})
	stub.mux.HandleFunc("/siu-star/services/api/folder/parent-1/children", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "x", "name": "Прочее"}})
	})
	stub.mux.HandleFunc("/siu-star/services/api/folder", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdFolder)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "dialogs-1"})
	})
	stub.mux.HandleFunc("/siu-star/services/api/ir", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdObject)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "irv-new"})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irv/irv-new/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"irvfId": "f-new", "name": TranscriptFileName}})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irvf/f-new/content", func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		stub.uploads["f-new"] = body
		w.WriteHeader(http.StatusOK)
	})

	store := NewTranscriptStore(stub.client(t))
	store.now = func() time.Time { return time.Date(2026, 8, 25, 12, 30, 45, 0, time.UTC) }

	result, err := store.Save(context.Background(), SaveRequest{
		DocumentID:  "doc-1",
		ChatTitle:   "Вопрос про отпуск",
		ChatSummary: "Обсуждение графика отпусков",
		Messages: []ChatMessage{
			{Role: "user", Content: "привет"},
			{Role: "assistant", Content: "здравствуйте"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "irv-new", result.ID)

	assert.Equal(t, DialogsFolderName, createdFolder["name"])
	assert.Equal(t, "parent-1", createdFolder["parentId"])

	assert.Equal(t, "Вопрос про отпуск#20260825123045", createdObject["name"])
	assert.Equal(t, "dialogs-1", createdObject["parentFolderId"])
	assert.Equal(t, "nau-1", createdObject["nauId"])
	assert.Equal(t, TranscriptFileName, createdObject["fileName"])
	assert.Empty(t, createdObject["ioId"])

	var uploaded struct {
		Messages []ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(stub.uploads["f-new"], &uploaded))
	require.Len(t, uploaded.Messages, 2)
}

func TestSave_NewDialogTitleFallsBackToFirstMessage(t *testing.T) {
	stub := newPlatformStub(t)
	var createdObject map[string]string

	stub.mux.HandleFunc("/siu-star/services/api/irv/doc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ir": map[string]interface{}{"id": "io-1", "parentId": "parent-1", "nauId": "nau-1"},
		})
	})
	stub.mux.HandleFunc("/siu-star/services/api/folder/parent-1/children", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "dialogs-1", "name": DialogsFolderName}})
	})
	stub.mux.HandleFunc("/siu-star/services/api/ir", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdObject)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "irv-new"})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irv/irv-new/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"irvfId": "f-new", "name": TranscriptFileName}})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irvf/f-new/content", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	longQuestion := strings.Repeat("о", 120)
	store := NewTranscriptStore(stub.client(t))
	_, err := store.Save(context.Background(), SaveRequest{
		DocumentID: "doc-1",
		Messages:   []ChatMessage{{Role: "user", Content: longQuestion}},
	})
	require.NoError(t, err)

	name := createdObject["name"]
	base := name[:strings.LastIndexByte(name, '#')]
	assert.Equal(t, 80, len([]rune(base)), "title is capped at 80 runes")
}

func TestSave_UpdateKeepsBaseNameAndObjectID(t *testing.T) {
	stub := newPlatformStub(t)
	var createdObject map[string]string

	stub.mux.HandleFunc("/siu-star/services/api/irv/chat-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name": "Вопрос про отпуск#20250101000000",
			"ir":   map[string]interface{}{"id": "io-7", "parentId": "dialogs-1", "nauId": "nau-1"},
		})
	})
	stub.mux.HandleFunc("/siu-star/services/api/ir", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdObject)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "irv-v2"})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irv/irv-v2/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"irvfId": "f-v2", "name": TranscriptFileName}})
	})
	stub.mux.HandleFunc("/siu-star/services/api/irvf/f-v2/content", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	store := NewTranscriptStore(stub.client(t))
	store.now = func() time.Time { return time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC) }

	result, err := store.Save(context.Background(), SaveRequest{
		ChatHistoryID: "chat-1",
		Messages:      []ChatMessage{{Role: "user", Content: "ещё вопрос"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "irv-v2", result.ID)
	assert.Equal(t, "Вопрос про отпуск#20260825090000", createdObject["name"])
	assert.Equal(t, "io-7", createdObject["ioId"])
}
