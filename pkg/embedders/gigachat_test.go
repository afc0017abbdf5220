package embedders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gigachatStub struct {
	tokenCalls  int32
	embedCalls  int32
	failAuth    int32 // embedding requests to answer with 401 before succeeding
	failServer  int32 // embedding requests to answer with 500 before succeeding
	tokenSerial int32
}

func (s *gigachatStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.tokenCalls, 1)
		if r.Header.Get("RqUID") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		serial := atomic.AddInt32(&s.tokenSerial, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("token-%d", serial),
			"expires_at":   time.Now().Add(30 * time.Minute).UnixMilli(),
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.embedCalls, 1)
		if atomic.AddInt32(&s.failAuth, -1) >= 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if atomic.AddInt32(&s.failServer, -1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{
				"embedding": []float32{0.1, 0.2, 0.3},
				"index":     0,
			}},
		})
	})
	return mux
}

func newStubEmbedder(t *testing.T, stub *gigachatStub, opts ...GigaChatOption) *GigaChatEmbedder {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	base := []GigaChatOption{
		WithTokenURL(srv.URL + "/oauth"),
		WithAPIURL(srv.URL),
		WithRetries(3, time.Millisecond),
	}
	e, err := NewGigaChatEmbedder("YXBpLWtleQ==", append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func TestNewGigaChatEmbedder_RequiresKey(t *testing.T) {
	_, err := NewGigaChatEmbedder("  ")
	assert.Error(t, err)
}

func TestEmbed_BatchesAndReturnsAllVectors(t *testing.T) {
	stub := &gigachatStub{}
	e := newStubEmbedder(t, stub, WithBatchSize(2))

	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for _, v := range vectors {
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	}

	// Single-input provider: one request per text, one token fetch overall.
	assert.Equal(t, int32(len(texts)), atomic.LoadInt32(&stub.embedCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.tokenCalls))
}

func TestEmbed_RefreshesTokenOnceOn401(t *testing.T) {
	stub := &gigachatStub{failAuth: 1}
	e := newStubEmbedder(t, stub)

	// Seed the cached token.
	_, err := e.getToken(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&stub.tokenCalls))

	vector, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vector, 3)

	// One 401, one refresh, one successful retry.
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.embedCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.tokenCalls))
}

func TestEmbed_SecondAuthFailureSurfaces(t *testing.T) {
	stub := &gigachatStub{failAuth: 2}
	e := newStubEmbedder(t, stub)

	_, err := e.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)

	// The refresh is attempted exactly once per failing call.
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.embedCalls))
}

func TestEmbed_RetriesServerErrorsWithBackoff(t *testing.T) {
	stub := &gigachatStub{failServer: 2}
	e := newStubEmbedder(t, stub)

	vector, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vector, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&stub.embedCalls))
}

func TestEmbed_EmptyInput(t *testing.T) {
	stub := &gigachatStub{}
	e := newStubEmbedder(t, stub)

	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.embedCalls))
}
