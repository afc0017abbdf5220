package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrag/smartrag/pkg/vectordb"
)

type fakeEmbedder struct {
	queryVector []float32
	embedCalls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.queryVector, nil
}

func (f *fakeEmbedder) Dimension() int    { return 2 }
func (f *fakeEmbedder) ModelName() string { return "test" }

type fakeStore struct {
	dense       []vectordb.ScoredPoint
	text        []vectordb.ScoredPoint
	textErr     error
	scrollItems []vectordb.Point

	searchFilter vectordb.Filter
	scrollCalled bool
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, filter vectordb.Filter, limit int) ([]vectordb.ScoredPoint, error) {
	f.searchFilter = filter
	return f.dense, nil
}

func (f *fakeStore) QueryText(ctx context.Context, text string, filter vectordb.Filter, limit int) ([]vectordb.ScoredPoint, error) {
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.text, nil
}

func (f *fakeStore) ScrollAll(ctx context.Context, filter vectordb.Filter, pageSize int, withPayload bool, maxPoints int) ([]vectordb.Point, error) {
	f.scrollCalled = true
	return f.scrollItems, nil
}

func scored(id, text string, score float64) vectordb.ScoredPoint {
	return vectordb.ScoredPoint{ID: id, Score: score, Payload: map[string]interface{}{"text": text}}
}

func TestRetrieve_MergesDenseAndLexical(t *testing.T) {
	store := &fakeStore{
		dense: []vectordb.ScoredPoint{scored("a", "чанк А", 0.9), scored("b", "чанк Б", 0.8)},
		text:  []vectordb.ScoredPoint{scored("b", "чанк Б", 0.5), scored("c", "чанк В", 0.4)},
	}
	retriever := NewHybridRetriever(&fakeEmbedder{queryVector: []float32{1, 0}}, store)

	chunks, err := retriever.Retrieve(context.Background(), "запрос", 10, nil)
	require.NoError(t, err)

	require.Len(t, chunks, 3, "union by id keeps one copy of b")
	assert.Equal(t, "a", chunks[0].ID)
	assert.Equal(t, "b", chunks[1].ID)
	assert.Equal(t, 0.8, chunks[1].Score, "first sighting wins, dense branch first")
	assert.Equal(t, "c", chunks[2].ID)
}

func TestRetrieve_DocumentFilter(t *testing.T) {
	store := &fakeStore{dense: []vectordb.ScoredPoint{scored("a", "текст", 0.9)}}
	retriever := NewHybridRetriever(&fakeEmbedder{queryVector: []float32{1, 0}}, store)

	_, err := retriever.Retrieve(context.Background(), "запрос", 5, []string{"irv-7"})
	require.NoError(t, err)
	assert.Equal(t, vectordb.Filter{"document_id": "irv-7"}, store.searchFilter)

	_, err = retriever.Retrieve(context.Background(), "запрос", 5, []string{"irv-7", "irv-8"})
	require.NoError(t, err)
	assert.Equal(t, vectordb.Filter{"document_id": []string{"irv-7", "irv-8"}}, store.searchFilter)
}

func TestRetrieve_LexicalFallbackScansAndScores(t *testing.T) {
	store := &fakeStore{
		textErr: vectordb.ErrTextQueryUnsupported,
		scrollItems: []vectordb.Point{
			{ID: "long", Payload: map[string]interface{}{"text": "отпуск упоминается один раз в очень длинном тексте правил внутреннего распорядка"}},
			{ID: "dense-match", Payload: map[string]interface{}{"text": "отпуск отпуск"}},
			{ID: "none", Payload: map[string]interface{}{"text": "про другое"}},
		},
	}
	retriever := NewHybridRetriever(&fakeEmbedder{queryVector: []float32{1, 0}}, store)

	chunks, err := retriever.Retrieve(context.Background(), "Отпуск", 10, nil)
	require.NoError(t, err)
	require.True(t, store.scrollCalled)

	require.Len(t, chunks, 2)
	assert.Equal(t, "dense-match", chunks[0].ID, "higher occurrence density ranks first")
	assert.Equal(t, "long", chunks[1].ID)
}

func TestRetrieve_TruncatesToTopK(t *testing.T) {
	store := &fakeStore{
		dense: []vectordb.ScoredPoint{
			scored("a", "1", 0.9), scored("b", "2", 0.8), scored("c", "3", 0.7),
		},
	}
	retriever := NewHybridRetriever(&fakeEmbedder{queryVector: []float32{1, 0}}, store)

	chunks, err := retriever.Retrieve(context.Background(), "запрос", 2, nil)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

type fixedReranker struct {
	out []RetrievedChunk
	err error
}

func (f *fixedReranker) Rerank(ctx context.Context, query string, chunks []RetrievedChunk, topK int) ([]RetrievedChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestRetrieve_RerankerFailureKeepsDiscoveryOrder(t *testing.T) {
	store := &fakeStore{
		dense: []vectordb.ScoredPoint{scored("a", "1", 0.9), scored("b", "2", 0.8)},
	}
	retriever := NewHybridRetriever(&fakeEmbedder{queryVector: []float32{1, 0}}, store,
		WithReranker(&fixedReranker{err: assert.AnError}))

	chunks, err := retriever.Retrieve(context.Background(), "запрос", 5, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].ID)
}

func TestContext(t *testing.T) {
	chunks := []RetrievedChunk{{Text: "один"}, {Text: ""}, {Text: "два"}}
	assert.Equal(t, "один\n\nдва", Context(chunks, "\n\n"))
}
