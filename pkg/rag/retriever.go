// Package rag holds the retrieval pipeline: hybrid dense+lexical
// search over the vector store, optional LLM-based reranking, and the
// idempotent document indexer.
package rag

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/smartrag/smartrag/pkg/embedders"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/observability"
	"github.com/smartrag/smartrag/pkg/vectordb"
)

const (
	DefaultTopK       = 5
	DefaultVectorTopK = 20
	DefaultTextTopK   = 20

	// lexicalScanFactor bounds the fallback full scan relative to the
	// dense candidate budget.
	lexicalScanFactor = 10
	lexicalScanPage   = 256
)

// RetrievedChunk is one retrieval candidate with its provenance.
type RetrievedChunk struct {
	ID          string                 `json:"id"`
	Text        string                 `json:"text"`
	Score       float64                `json:"score"`
	RerankScore float64                `json:"rerank_score,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// VectorStore is the slice of the vector store the retriever consumes.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, filter vectordb.Filter, limit int) ([]vectordb.ScoredPoint, error)
	QueryText(ctx context.Context, text string, filter vectordb.Filter, limit int) ([]vectordb.ScoredPoint, error)
	ScrollAll(ctx context.Context, filter vectordb.Filter, pageSize int, withPayload bool, maxPoints int) ([]vectordb.Point, error)
}

// Reranker reorders candidates by relevance to the query. A failure is
// not fatal: the retriever falls back to discovery order.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []RetrievedChunk, topK int) ([]RetrievedChunk, error)
}

// HybridRetriever runs the dense and lexical branches in parallel and
// merges candidates by point id, dense hits first.
type HybridRetriever struct {
	embedder   embedders.EmbedderProvider
	store      VectorStore
	reranker   Reranker
	topK       int
	vectorTopK int
	textTopK   int
	noLexical  bool
}

type RetrieverOption func(*HybridRetriever)

func WithReranker(r Reranker) RetrieverOption {
	return func(h *HybridRetriever) { h.reranker = r }
}

// WithLexicalSearch toggles the lexical branch; dense-only retrieval
// remains available for backends where text scans are too expensive.
func WithLexicalSearch(enabled bool) RetrieverOption {
	return func(h *HybridRetriever) { h.noLexical = !enabled }
}

func WithTopK(n int) RetrieverOption {
	return func(h *HybridRetriever) {
		if n > 0 {
			h.topK = n
		}
	}
}

func WithCandidateBudget(vectorTopK, textTopK int) RetrieverOption {
	return func(h *HybridRetriever) {
		if vectorTopK > 0 {
			h.vectorTopK = vectorTopK
		}
		if textTopK > 0 {
			h.textTopK = textTopK
		}
	}
}

func NewHybridRetriever(embedder embedders.EmbedderProvider, store VectorStore, opts ...RetrieverOption) *HybridRetriever {
	h := &HybridRetriever{
		embedder:   embedder,
		store:      store,
		topK:       DefaultTopK,
		vectorTopK: DefaultVectorTopK,
		textTopK:   DefaultTextTopK,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Retrieve returns the topK most relevant chunks for the query,
// optionally restricted to the given documents.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topK int, documentIDs []string) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = h.topK
	}
	var filter vectordb.Filter
	switch len(documentIDs) {
	case 0:
	case 1:
		filter = vectordb.Filter{"document_id": documentIDs[0]}
	default:
		filter = vectordb.Filter{"document_id": documentIDs}
	}

	tracer := observability.GetTracer("rag")
	ctx, span := tracer.Start(ctx, observability.SpanRetrieval)
	if len(documentIDs) > 0 {
		span.SetAttributes(attribute.String(observability.AttrDocumentID, strings.Join(documentIDs, ",")))
	}
	defer span.End()
	start := time.Now()

	var dense, lexical []vectordb.ScoredPoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = h.denseSearch(gctx, query, filter)
		return err
	})
	if !h.noLexical {
		g.Go(func() error {
			var err error
			lexical, err = h.lexicalSearch(gctx, query, filter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordRetrieval(ctx, time.Since(start), 0, err)
		return nil, err
	}

	merged := mergeCandidates(dense, lexical)
	logger.GetLogger().Debug("hybrid retrieval merged",
		"dense", len(dense), "lexical", len(lexical), "merged", len(merged))

	results := merged
	if h.reranker != nil && len(merged) > 0 {
		reranked, err := h.reranker.Rerank(ctx, query, merged, topK)
		if err != nil {
			logger.GetLogger().Warn("rerank failed, keeping discovery order", "error", err)
		} else {
			results = reranked
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}

	span.SetAttributes(attribute.Int("rag.candidates", len(merged)))
	observability.GetGlobalMetrics().RecordRetrieval(ctx, time.Since(start), len(merged), nil)
	return results, nil
}

func (h *HybridRetriever) denseSearch(ctx context.Context, query string, filter vectordb.Filter) ([]vectordb.ScoredPoint, error) {
	vector, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return h.store.Search(ctx, vector, filter, h.vectorTopK)
}

// lexicalSearch tries the backend text query first. Backends without a
// text index fall back to a bounded scan with substring scoring.
func (h *HybridRetriever) lexicalSearch(ctx context.Context, query string, filter vectordb.Filter) ([]vectordb.ScoredPoint, error) {
	hits, err := h.store.QueryText(ctx, query, filter, h.textTopK)
	if err == nil {
		return hits, nil
	}
	if err != vectordb.ErrTextQueryUnsupported {
		return nil, err
	}

	points, err := h.store.ScrollAll(ctx, filter, lexicalScanPage, true, h.vectorTopK*lexicalScanFactor)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	var matches []vectordb.ScoredPoint
	for _, point := range points {
		text, _ := point.Payload["text"].(string)
		if text == "" {
			continue
		}
		occurrences := strings.Count(strings.ToLower(text), needle)
		if occurrences == 0 {
			continue
		}
		matches = append(matches, vectordb.ScoredPoint{
			ID:      point.ID,
			Score:   float64(occurrences) / float64(len(text)),
			Payload: point.Payload,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > h.textTopK {
		matches = matches[:h.textTopK]
	}
	return matches, nil
}

// mergeCandidates unions both branches by point id. The first sighting
// wins, and dense hits come first.
func mergeCandidates(dense, lexical []vectordb.ScoredPoint) []RetrievedChunk {
	seen := make(map[string]bool, len(dense)+len(lexical))
	var merged []RetrievedChunk
	for _, hit := range append(append([]vectordb.ScoredPoint{}, dense...), lexical...) {
		if seen[hit.ID] {
			continue
		}
		seen[hit.ID] = true
		merged = append(merged, toChunk(hit))
	}
	return merged
}

func toChunk(hit vectordb.ScoredPoint) RetrievedChunk {
	text, _ := hit.Payload["text"].(string)
	metadata := make(map[string]interface{}, len(hit.Payload))
	for k, v := range hit.Payload {
		if k != "text" {
			metadata[k] = v
		}
	}
	return RetrievedChunk{
		ID:       hit.ID,
		Text:     text,
		Score:    hit.Score,
		Metadata: metadata,
	}
}

// Context joins the chunk texts for prompt assembly.
func Context(chunks []RetrievedChunk, separator string) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Text != "" {
			parts = append(parts, chunk.Text)
		}
	}
	return strings.Join(parts, separator)
}
