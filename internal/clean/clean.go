// Package clean implements the Clean stage described in spec.md §4.6:
// HTML stripping, NFC normalization, whitespace collapsing, and a
// minimum-length drop filter, operating per-document.
package clean

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/docingest/pipeline/internal/pipeline"
)

// Config holds the Clean stage's tunables.
type Config struct {
	MinChunkableChars int
}

// DefaultConfig returns spec.md's documented default.
func DefaultConfig() Config {
	return Config{MinChunkableChars: 20}
}

// Stage cleans RawDocuments into CleanedDocuments.
type Stage struct {
	cfg Config
}

// New constructs a Clean stage.
func New(cfg Config) *Stage {
	return &Stage{cfg: cfg}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Run cleans each document, preserving metadata and document_id, dropping
// (not failing) any document whose cleaned content falls below the
// configured minimum length.
func (s *Stage) Run(docs []pipeline.RawDocument) []pipeline.CleanedDocument {
	out := make([]pipeline.CleanedDocument, 0, len(docs))
	for _, d := range docs {
		content := d.Content
		if looksLikeHTML(d.Metadata["mime_type"], content) {
			content = stripHTML(content)
		}
		content = norm.NFC.String(content)
		content = strings.TrimSpace(whitespaceRun.ReplaceAllString(content, " "))

		if len([]rune(content)) < s.cfg.MinChunkableChars {
			continue
		}

		out = append(out, pipeline.CleanedDocument{
			DocumentID: d.DocumentID,
			Content:    content,
			Metadata:   d.Metadata,
			TenantID:   d.TenantID,
		})
	}
	return out
}

func looksLikeHTML(mimeType, content string) bool {
	if strings.Contains(mimeType, "html") {
		return true
	}
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">")
}

func stripHTML(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}
