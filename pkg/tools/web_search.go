package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartrag/smartrag/pkg/search"
)

const (
	defaultSearchResults = 10
	maxSearchResults     = 10
	defaultContentLimit  = 3500
)

// webSearchArgs is the argument schema exposed to the LLM.
type webSearchArgs struct {
	Reasoning  string `json:"reasoning" jsonschema_description:"Why this search is needed and what information is expected"`
	Query      string `json:"query" jsonschema_description:"Search query, in the same language as the user's request"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Maximum number of search results"`
}

// WebSearchTool queries the web search provider and renders the
// sources into prompt-ready text.
type WebSearchTool struct {
	provider     search.Provider
	maxResults   int
	contentLimit int
}

type WebSearchOption func(*WebSearchTool)

func WithSearchLimits(maxResults, contentLimit int) WebSearchOption {
	return func(t *WebSearchTool) {
		if maxResults > 0 {
			t.maxResults = maxResults
		}
		if contentLimit > 0 {
			t.contentLimit = contentLimit
		}
	}
}

func NewWebSearchTool(provider search.Provider, opts ...WebSearchOption) *WebSearchTool {
	t := &WebSearchTool{
		provider:     provider,
		maxResults:   defaultSearchResults,
		contentLimit: defaultContentLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *WebSearchTool) GetName() string { return ToolNameWebSearch }

func (t *WebSearchTool) GetDescription() string {
	return "Search the internet for up-to-date information. Returns titles, links, snippets and page content."
}

func (t *WebSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        ToolNameWebSearch,
		Description: t.GetDescription(),
		Schema:      SchemaFor(&webSearchArgs{}),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	var params webSearchArgs
	if err := DecodeArgs(args, &params); err != nil {
		return failure(ToolNameWebSearch, start, err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return failure(ToolNameWebSearch, start,
			fmt.Errorf("query parameter is required"))
	}

	maxResults := params.MaxResults
	if maxResults <= 0 || maxResults > maxSearchResults {
		maxResults = t.maxResults
	}

	sources, err := t.provider.Search(ctx, params.Query, maxResults, true)
	if err != nil {
		return failure(ToolNameWebSearch, start, err)
	}

	return ToolResult{
		Success:       true,
		Content:       t.renderSources(params.Query, sources),
		ToolName:      ToolNameWebSearch,
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"query":   params.Query,
			"sources": len(sources),
		},
	}, nil
}

func (t *WebSearchTool) renderSources(query string, sources []search.Source) string {
	if len(sources) == 0 {
		return fmt.Sprintf("No results found for query: %s", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n\n", query)
	for i, source := range sources {
		fmt.Fprintf(&b, "[%d] %s\n%s\n", i+1, source.Title, source.URL)
		if source.Snippet != "" {
			fmt.Fprintf(&b, "%s\n", source.Snippet)
		}
		if source.FullContent != "" {
			content := source.FullContent
			if len(content) > t.contentLimit {
				content = content[:t.contentLimit] + "..."
			}
			fmt.Fprintf(&b, "Content: %s\n", content)
		}
		b.WriteString("\n")
	}
	return b.String()
}
