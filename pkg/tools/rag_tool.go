package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartrag/smartrag/pkg/rag"
)

const (
	defaultRAGResults = 5
	maxRAGResults     = 10
)

// Retriever is the knowledge-base search seam the RAG tool drives.
// *rag.HybridRetriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, documentIDs []string) ([]rag.RetrievedChunk, error)
}

type ragArgs struct {
	Reasoning  string `json:"reasoning" jsonschema_description:"Why the knowledge base must be searched and what information is expected"`
	Query      string `json:"query" jsonschema_description:"Search query for the knowledge base, in the language of the indexed documents"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Maximum number of chunks to return (default 5)"`
	DocumentID string `json:"document_id,omitempty" jsonschema_description:"Restrict the search to a single indexed document"`
}

// RAGTool searches the indexed knowledge base and renders the matched
// chunks with their source documents.
type RAGTool struct {
	retriever Retriever
	scope     []string
}

type RAGToolOption func(*RAGTool)

// WithDocumentScope restricts every search to the given document ids
// unless the model names a document explicitly.
func WithDocumentScope(ids []string) RAGToolOption {
	return func(t *RAGTool) { t.scope = ids }
}

func NewRAGTool(retriever Retriever, opts ...RAGToolOption) *RAGTool {
	t := &RAGTool{retriever: retriever}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RAGTool) GetName() string { return ToolNameRAG }

func (t *RAGTool) GetDescription() string {
	return "Search the indexed knowledge base of documents. Returns the most relevant text fragments with their source documents."
}

func (t *RAGTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        ToolNameRAG,
		Description: t.GetDescription(),
		Schema:      SchemaFor(&ragArgs{}),
	}
}

func (t *RAGTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	var params ragArgs
	if err := DecodeArgs(args, &params); err != nil {
		return failure(ToolNameRAG, start, err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return failure(ToolNameRAG, start,
			fmt.Errorf("query parameter is required"))
	}

	topK := params.MaxResults
	if topK <= 0 || topK > maxRAGResults {
		topK = defaultRAGResults
	}

	documents := t.scope
	if params.DocumentID != "" {
		documents = []string{params.DocumentID}
	}

	chunks, err := t.retriever.Retrieve(ctx, params.Query, topK, documents)
	if err != nil {
		return failure(ToolNameRAG, start, err)
	}

	return ToolResult{
		Success:       true,
		Content:       renderChunks(params.Query, chunks),
		ToolName:      ToolNameRAG,
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"query":  params.Query,
			"chunks": len(chunks),
		},
	}, nil
}

func renderChunks(query string, chunks []rag.RetrievedChunk) string {
	if len(chunks) == 0 {
		return fmt.Sprintf("No relevant fragments found in the knowledge base for query: %s", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge base results for: %s\n\n", query)
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] (score %.3f)", i+1, chunk.Score)
		if name, ok := chunk.Metadata["document_name"].(string); ok && name != "" {
			fmt.Fprintf(&b, " %s", name)
		}
		if title, ok := chunk.Metadata["section_title"].(string); ok && title != "" {
			fmt.Fprintf(&b, " — %s", title)
		}
		fmt.Fprintf(&b, "\n%s\n\n", chunk.Text)
	}
	return b.String()
}
