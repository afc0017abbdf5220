// Package chunker splits source documents into bounded text chunks with
// hierarchical metadata, plus auxiliary table-of-contents and table
// chunks. Extraction is native: DOCX and PDF are parsed in-process,
// plain text and markdown are read directly.
package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/smartrag/smartrag/pkg/logger"
)

const (
	ChunkTypeText  = "text"
	ChunkTypeTOC   = "toc"
	ChunkTypeTable = "table"

	defaultMaxChunkChars = 1500
)

type Chunk struct {
	Text     string                 `json:"text"`
	Type     string                 `json:"chunk_type"`
	Index    int                    `json:"chunk_index"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Result struct {
	TextChunks  []Chunk
	TOCChunks   []Chunk
	TableChunks []Chunk
}

// Chunker is the contract the indexer consumes.
type Chunker interface {
	ProcessDocument(ctx context.Context, path, documentID string) (*Result, error)
	SupportedExtensions() []string
}

type DocumentChunker struct {
	maxChunkChars int
}

type Option func(*DocumentChunker)

func WithMaxChunkChars(n int) Option {
	return func(c *DocumentChunker) {
		if n > 0 {
			c.maxChunkChars = n
		}
	}
}

func New(opts ...Option) *DocumentChunker {
	c := &DocumentChunker{maxChunkChars: defaultMaxChunkChars}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DocumentChunker) SupportedExtensions() []string {
	return []string{".docx", ".txt", ".md", ".pdf"}
}

// Supported reports whether the file name carries an indexable extension.
func (c *DocumentChunker) Supported(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, supported := range c.SupportedExtensions() {
		if ext == supported {
			return true
		}
	}
	return false
}

func (c *DocumentChunker) ProcessDocument(ctx context.Context, path, documentID string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := c.extractText(ctx, path)
	if err != nil {
		return nil, err
	}

	result := c.chunk(content)
	logger.GetLogger().Debug("document chunked",
		"document_id", documentID,
		"text_chunks", len(result.TextChunks),
		"toc_chunks", len(result.TOCChunks),
		"table_chunks", len(result.TableChunks))
	return result, nil
}

func (c *DocumentChunker) extractText(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	case ".docx":
		return extractDocx(path)
	case ".pdf":
		return extractPDF(ctx, path)
	default:
		return "", fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
}

var (
	docxParagraphRe = regexp.MustCompile(`</w:p>`)
	docxTagRe       = regexp.MustCompile(`<[^>]+>`)
)

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	// GetContent returns WordprocessingML; paragraph closes become line
	// breaks before the remaining tags are stripped.
	content := doc.Editable().GetContent()
	content = docxParagraphRe.ReplaceAllString(content, "\n")
	content = docxTagRe.ReplaceAllString(content, "")
	return content, nil
}

func extractPDF(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat pdf: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

var (
	mdHeadingRe       = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.{0,120})$`)
	tableRowRe        = regexp.MustCompile(`^\s*\|.*\|\s*$`)
)

type section struct {
	number string
	title  string
	level  int
	parent string
}

// chunk walks the document line by line, tracking the heading hierarchy,
// splitting running text at the size cap and collecting tables separately.
func (c *DocumentChunker) chunk(content string) *Result {
	result := &Result{}

	current := section{level: 0}
	var sectionStack []section
	var textBuf strings.Builder
	var tableBuf strings.Builder

	flushText := func() {
		text := strings.TrimSpace(textBuf.String())
		textBuf.Reset()
		if text == "" {
			return
		}
		result.TextChunks = append(result.TextChunks, Chunk{
			Text:     text,
			Type:     ChunkTypeText,
			Index:    len(result.TextChunks),
			Metadata: sectionMetadata(current),
		})
	}

	flushTable := func() {
		table := strings.TrimSpace(tableBuf.String())
		tableBuf.Reset()
		if table == "" {
			return
		}
		result.TableChunks = append(result.TableChunks, Chunk{
			Text:     table,
			Type:     ChunkTypeTable,
			Index:    len(result.TableChunks),
			Metadata: sectionMetadata(current),
		})
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if tableRowRe.MatchString(line) {
			tableBuf.WriteString(trimmed)
			tableBuf.WriteString("\n")
			continue
		}
		flushTable()

		if next, ok := parseHeading(trimmed); ok {
			flushText()

			for len(sectionStack) > 0 && sectionStack[len(sectionStack)-1].level >= next.level {
				sectionStack = sectionStack[:len(sectionStack)-1]
			}
			if len(sectionStack) > 0 {
				next.parent = sectionStack[len(sectionStack)-1].title
			}
			sectionStack = append(sectionStack, next)
			current = next

			result.TOCChunks = append(result.TOCChunks, Chunk{
				Text:     strings.TrimSpace(next.number + " " + next.title),
				Type:     ChunkTypeTOC,
				Index:    len(result.TOCChunks),
				Metadata: sectionMetadata(next),
			})
			continue
		}

		if trimmed == "" {
			if textBuf.Len() >= c.maxChunkChars {
				flushText()
			} else if textBuf.Len() > 0 {
				textBuf.WriteString("\n")
			}
			continue
		}

		if textBuf.Len()+len(trimmed) > c.maxChunkChars*2 {
			flushText()
		}
		textBuf.WriteString(line)
		textBuf.WriteString("\n")
	}

	flushTable()
	flushText()

	return result
}

func parseHeading(line string) (section, bool) {
	if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
		return section{
			title: strings.TrimSpace(m[2]),
			level: len(m[1]),
		}, true
	}
	if m := numberedHeadingRe.FindStringSubmatch(line); m != nil {
		// Numbered headings are short title lines, not running prose.
		if len(m[2]) <= 80 && !strings.HasSuffix(m[2], ".") {
			return section{
				number: m[1],
				title:  strings.TrimSpace(m[2]),
				level:  strings.Count(m[1], ".") + 1,
			}, true
		}
	}
	return section{}, false
}

func sectionMetadata(s section) map[string]interface{} {
	meta := map[string]interface{}{
		"hierarchy_level": s.level,
	}
	if s.number != "" {
		meta["section_number"] = s.number
	}
	if s.title != "" {
		meta["section_title"] = s.title
	}
	if s.parent != "" {
		meta["parent_section"] = s.parent
	}
	return meta
}
