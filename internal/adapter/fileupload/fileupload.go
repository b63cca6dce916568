// Package fileupload implements the file-upload Source Adapter, per
// spec.md §4.5.1.
package fileupload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
)

// TextExtractor is the external document-parser collaborator spec.md §1
// treats as out of scope: ExtractText(bytes, mime) -> (text, metadata).
type TextExtractor interface {
	ExtractText(data []byte, mimeType string) (text string, metadata map[string]string, err error)
}

// Config holds the file-upload adapter's tunables.
type Config struct {
	MaxSizeBytes       int64
	SupportedExtensions []string
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes:        50 * 1024 * 1024,
		SupportedExtensions: []string{".txt", ".md", ".pdf", ".docx", ".html", ".htm", ".csv", ".json"},
	}
}

// Adapter implements adapter.Adapter for source=file_upload.
type Adapter struct {
	tenantID  string
	cfg       Config
	extractor TextExtractor
}

// New constructs a file-upload adapter. tenantID is stamped onto every
// document it fetches.
func New(tenantID string, cfg Config, extractor TextExtractor) *Adapter {
	return &Adapter{tenantID: tenantID, cfg: cfg, extractor: extractor}
}

func (a *Adapter) Validate(params adapter.Params) error {
	p := params.FileUpload
	if p == nil || p.FilePath == "" {
		return pipeline.Validationf("file_path is required")
	}

	info, err := os.Stat(p.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.NotFoundf("file does not exist: %s", p.FilePath)
		}
		return pipeline.Validationf("cannot stat file: %v", err)
	}
	if info.IsDir() {
		return pipeline.Validationf("file_path is a directory: %s", p.FilePath)
	}
	if info.Size() > a.cfg.MaxSizeBytes {
		return pipeline.Validationf("file exceeds max size of %d bytes", a.cfg.MaxSizeBytes)
	}

	ext := strings.ToLower(filepath.Ext(p.FilePath))
	if !a.extensionSupported(ext) {
		return pipeline.Validationf("unsupported file extension: %s", ext)
	}

	return nil
}

func (a *Adapter) extensionSupported(ext string) bool {
	for _, e := range a.cfg.SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Params) ([]pipeline.RawDocument, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	p := params.FileUpload

	select {
	case <-ctx.Done():
		return nil, pipeline.Cancelledf("fetch cancelled before read")
	default:
	}

	data, err := os.ReadFile(p.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipeline.NotFoundf("file not found: %s", p.FilePath)
		}
		return nil, pipeline.Internalf(err, "failed to read file %s", p.FilePath)
	}

	mimeType := mimeFromExtension(filepath.Ext(p.FilePath))

	var text string
	var extractedMeta map[string]string
	if a.extractor != nil {
		text, extractedMeta, err = a.extractor.ExtractText(data, mimeType)
		if err != nil {
			return nil, pipeline.Internalf(err, "failed to extract text from %s", p.FilePath)
		}
	} else {
		// Plain-text fallback extractor when no external extractor is wired.
		text = string(data)
		extractedMeta = map[string]string{}
	}

	metadata := map[string]string{
		"source":      string(pipeline.SourceFileUpload),
		"source_path": p.FilePath,
		"fetched_at":  time.Now().UTC().Format(time.RFC3339),
		"mime_type":   mimeType,
	}
	for k, v := range extractedMeta {
		metadata[k] = v
	}

	doc := pipeline.RawDocument{
		Content:         text,
		ContentBytesLen: len(data),
		Metadata:        metadata,
		TenantID:        a.tenantID,
	}
	docs := []pipeline.RawDocument{doc}
	adapter.EnsureUniqueDocumentIDs(docs)
	return docs, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool { return true }

func (a *Adapter) SupportedFormats() []string {
	return a.cfg.SupportedExtensions
}

func mimeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".html", ".htm":
		return "text/html"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

var _ adapter.Adapter = (*Adapter)(nil)
