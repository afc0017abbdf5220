package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/chunker"
	"github.com/smartrag/smartrag/pkg/embedders"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/observability"
	"github.com/smartrag/smartrag/pkg/platform"
	"github.com/smartrag/smartrag/pkg/vectordb"
)

const (
	FileStatusSuccess  = "success"
	FileStatusError    = "error"
	FileStatusNoChunks = "no_chunks"

	removeScanPage = 512
)

// DocumentSource is the slice of the platform client the indexer needs.
type DocumentSource interface {
	GetObjectVersion(ctx context.Context, id string) (*platform.ObjectVersion, error)
	GetObjectFiles(ctx context.Context, id string) ([]platform.FileDescriptor, error)
	GetFileContent(ctx context.Context, file platform.FileDescriptor) ([]byte, error)
}

// IndexStore is the vector store surface used for indexing.
type IndexStore interface {
	EnsureCollection(ctx context.Context, recreate bool) error
	Upsert(ctx context.Context, points []vectordb.Point) error
	DeleteByIDs(ctx context.Context, ids []string) error
	ScrollAll(ctx context.Context, filter vectordb.Filter, pageSize int, withPayload bool, maxPoints int) ([]vectordb.Point, error)
}

// FileResult is the per-file indexing outcome.
type FileResult struct {
	FileName       string `json:"file_name"`
	FileID         string `json:"file_id"`
	ChunksCount    int    `json:"chunks_count"`
	TOCChunksCount int    `json:"toc_chunks_count"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// AddResult summarizes one indexing run.
type AddResult struct {
	FilesProcessed   int          `json:"files_processed"`
	ChunksSaved      int          `json:"chunks_saved"`
	TOCChunksSaved   int          `json:"toc_chunks_saved"`
	TableChunksSaved int          `json:"table_chunks_saved"`
	Files            []FileResult `json:"files"`
}

// RemoveResult reports how many points a removal dropped.
type RemoveResult struct {
	ChunksDeleted int `json:"chunks_deleted"`
}

// Indexer replaces the indexed representation of a document: fetch
// attached files from the platform, chunk, embed the text chunks and
// swap the stored points under the document id.
type Indexer struct {
	source   DocumentSource
	chunker  chunker.Chunker
	embedder embedders.EmbedderProvider
	store    IndexStore
}

func NewIndexer(source DocumentSource, ch chunker.Chunker, embedder embedders.EmbedderProvider, store IndexStore) *Indexer {
	return &Indexer{source: source, chunker: ch, embedder: embedder, store: store}
}

// pendingChunk couples a text chunk with its originating file.
type pendingChunk struct {
	chunk chunker.Chunk
	file  platform.FileDescriptor
}

// Add indexes every supported attachment of the document. Prior points
// for the same document id are removed first, so re-adding is
// idempotent. Per-file failures are collected and reported together
// while successful files stay indexed.
func (x *Indexer) Add(ctx context.Context, documentID string) (*AddResult, error) {
	tracer := observability.GetTracer("rag")
	ctx, span := tracer.Start(ctx, observability.SpanIndexing)
	span.SetAttributes(attribute.String(observability.AttrDocumentID, documentID))
	defer span.End()
	start := time.Now()

	result, err := x.add(ctx, documentID)
	chunks := 0
	if result != nil {
		chunks = result.ChunksSaved
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.GetGlobalMetrics().RecordIndexing(ctx, time.Since(start), chunks, err)
	return result, err
}

func (x *Indexer) add(ctx context.Context, documentID string) (*AddResult, error) {
	log := logger.GetLogger()

	version, err := x.source.GetObjectVersion(ctx, documentID)
	if err != nil {
		return nil, err
	}
	files, err := x.source.GetObjectFiles(ctx, documentID)
	if err != nil {
		return nil, err
	}

	supported := x.supportedFiles(files)
	log.Info("indexing document",
		"document_id", documentID, "files_total", len(files), "files_supported", len(supported))

	scratchDir, err := os.MkdirTemp("", "rag_processing_")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRAGProcessingError, "failed to create scratch directory", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
			log.Warn("failed to clean scratch directory", "dir", scratchDir, "error", rmErr)
		}
	}()

	result := &AddResult{Files: make([]FileResult, 0, len(supported))}
	var pending []pendingChunk
	var failures []string

	for _, file := range supported {
		detail, chunks, tableChunks := x.processFile(ctx, scratchDir, documentID, file)
		result.Files = append(result.Files, detail)
		if detail.Status == FileStatusError {
			failures = append(failures, fmt.Sprintf("%s: %s", detail.FileName, detail.Error))
			continue
		}
		result.FilesProcessed++
		result.TOCChunksSaved += detail.TOCChunksCount
		result.TableChunksSaved += tableChunks
		pending = append(pending, chunks...)
	}

	if err := x.store.EnsureCollection(ctx, false); err != nil {
		return result, err
	}

	// Prior points for this document go first so a re-add never leaves
	// ghosts from an older version. A failed cleanup is logged, not
	// fatal: the fresh upsert still lands.
	if err := x.deleteByDocumentID(ctx, documentID); err != nil {
		log.Warn("failed to delete prior points", "document_id", documentID, "error", err)
	}

	if len(pending) > 0 {
		points, err := x.embedChunks(ctx, documentID, version, pending)
		if err != nil {
			return result, err
		}
		if err := x.store.Upsert(ctx, points); err != nil {
			return result, err
		}
		result.ChunksSaved = len(points)
	}

	if len(failures) > 0 {
		return result, apperr.WithDetail(apperr.CodeRAGProcessingError,
			"часть файлов не удалось проиндексировать", strings.Join(failures, "; "))
	}
	return result, nil
}

// processFile downloads one attachment into the scratch directory and
// chunks it. Table-of-contents and table chunks are counted but only
// text chunks go on to embedding.
func (x *Indexer) processFile(ctx context.Context, scratchDir, documentID string, file platform.FileDescriptor) (FileResult, []pendingChunk, int) {
	detail := FileResult{FileName: file.Name, FileID: file.ID}

	content, err := x.source.GetFileContent(ctx, file)
	if err != nil {
		detail.Status = FileStatusError
		detail.Error = err.Error()
		return detail, nil, 0
	}

	path := filepath.Join(scratchDir, filepath.Base(file.Name))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		detail.Status = FileStatusError
		detail.Error = err.Error()
		return detail, nil, 0
	}

	chunked, err := x.chunker.ProcessDocument(ctx, path, documentID)
	if err != nil {
		detail.Status = FileStatusError
		detail.Error = err.Error()
		return detail, nil, 0
	}

	detail.ChunksCount = len(chunked.TextChunks)
	detail.TOCChunksCount = len(chunked.TOCChunks)
	if len(chunked.TextChunks) == 0 && len(chunked.TOCChunks) == 0 && len(chunked.TableChunks) == 0 {
		detail.Status = FileStatusNoChunks
		return detail, nil, 0
	}
	detail.Status = FileStatusSuccess

	pending := make([]pendingChunk, 0, len(chunked.TextChunks))
	for _, c := range chunked.TextChunks {
		pending = append(pending, pendingChunk{chunk: c, file: file})
	}
	return detail, pending, len(chunked.TableChunks)
}

// embedChunks turns text chunks into upsert-ready points with fresh
// point ids.
func (x *Indexer) embedChunks(ctx context.Context, documentID string, version *platform.ObjectVersion, pending []pendingChunk) ([]vectordb.Point, error) {
	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.chunk.Text
	}
	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	points := make([]vectordb.Point, len(pending))
	for i, p := range pending {
		payload := map[string]interface{}{
			"text":        p.chunk.Text,
			"document_id": documentID,
			"file_id":     p.file.ID,
			"file_name":   p.file.Name,
			"chunk_index": p.chunk.Index,
			"chunk_type":  p.chunk.Type,
		}
		for k, v := range p.chunk.Metadata {
			payload[k] = v
		}
		if version != nil && version.Name != "" {
			payload["document_name"] = version.Name
		}
		points[i] = vectordb.Point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload,
		}
	}
	return points, nil
}

// Remove drops every point stored under the document id. A document
// with no points is not an error.
func (x *Indexer) Remove(ctx context.Context, documentID string) (*RemoveResult, error) {
	filter := vectordb.Filter{"document_id": documentID}
	points, err := x.store.ScrollAll(ctx, filter, removeScanPage, false, 0)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return &RemoveResult{ChunksDeleted: 0}, nil
	}

	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	if err := x.store.DeleteByIDs(ctx, ids); err != nil {
		return nil, err
	}
	logger.GetLogger().Info("document removed from index",
		"document_id", documentID, "chunks_deleted", len(ids))
	return &RemoveResult{ChunksDeleted: len(ids)}, nil
}

func (x *Indexer) deleteByDocumentID(ctx context.Context, documentID string) error {
	points, err := x.store.ScrollAll(ctx, vectordb.Filter{"document_id": documentID}, removeScanPage, false, 0)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return x.store.DeleteByIDs(ctx, ids)
}

func (x *Indexer) supportedFiles(files []platform.FileDescriptor) []platform.FileDescriptor {
	extensions := make(map[string]bool)
	for _, ext := range x.chunker.SupportedExtensions() {
		extensions[ext] = true
	}
	var supported []platform.FileDescriptor
	for _, file := range files {
		if extensions[strings.ToLower(filepath.Ext(file.Name))] {
			supported = append(supported, file)
		}
	}
	return supported
}
