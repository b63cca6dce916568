package fileupload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestValidate_MissingFilePathRejected(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil)
	err := a.Validate(adapter.Params{})
	if pipeline.KindOf(err) != pipeline.KindValidation {
		t.Errorf("expected KindValidation, got %s", pipeline.KindOf(err))
	}
}

func TestValidate_NonexistentFileRejected(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil)
	err := a.Validate(adapter.Params{FileUpload: &adapter.FileUploadParams{FilePath: "/nonexistent/path.txt"}})
	if pipeline.KindOf(err) != pipeline.KindNotFound {
		t.Errorf("expected KindNotFound, got %s", pipeline.KindOf(err))
	}
}

func TestValidate_UnsupportedExtensionRejected(t *testing.T) {
	path := writeTempFile(t, "doc.exe", "binary")
	a := New("tenant-1", DefaultConfig(), nil)
	err := a.Validate(adapter.Params{FileUpload: &adapter.FileUploadParams{FilePath: path}})
	if pipeline.KindOf(err) != pipeline.KindValidation {
		t.Errorf("expected KindValidation for unsupported extension, got %s", pipeline.KindOf(err))
	}
}

func TestValidate_OversizeFileRejected(t *testing.T) {
	path := writeTempFile(t, "doc.txt", "too big")
	a := New("tenant-1", Config{MaxSizeBytes: 1, SupportedExtensions: []string{".txt"}}, nil)
	err := a.Validate(adapter.Params{FileUpload: &adapter.FileUploadParams{FilePath: path}})
	if pipeline.KindOf(err) != pipeline.KindValidation {
		t.Errorf("expected KindValidation for oversize file, got %s", pipeline.KindOf(err))
	}
}

func TestFetch_PlainTextFallbackWithoutExtractor(t *testing.T) {
	path := writeTempFile(t, "doc.txt", "hello world")
	a := New("tenant-1", DefaultConfig(), nil)

	docs, err := a.Fetch(context.Background(), adapter.Params{FileUpload: &adapter.FileUploadParams{FilePath: path}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Content != "hello world" {
		t.Errorf("expected raw content passed through, got %q", docs[0].Content)
	}
	if docs[0].TenantID != "tenant-1" {
		t.Errorf("expected tenant_id stamped, got %q", docs[0].TenantID)
	}
	if docs[0].DocumentID == "" {
		t.Error("expected a document ID to be assigned")
	}
}

type fakeExtractor struct {
	text string
	meta map[string]string
	err  error
}

func (f *fakeExtractor) ExtractText(data []byte, mimeType string) (string, map[string]string, error) {
	return f.text, f.meta, f.err
}

func TestFetch_UsesExternalExtractorWhenProvided(t *testing.T) {
	path := writeTempFile(t, "doc.pdf", "%PDF-ignored-bytes")
	extractor := &fakeExtractor{text: "extracted text", meta: map[string]string{"pages": "3"}}
	a := New("tenant-1", DefaultConfig(), extractor)

	docs, err := a.Fetch(context.Background(), adapter.Params{FileUpload: &adapter.FileUploadParams{FilePath: path}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs[0].Content != "extracted text" {
		t.Errorf("expected extractor output, got %q", docs[0].Content)
	}
	if docs[0].Metadata["pages"] != "3" {
		t.Errorf("expected extractor metadata merged in, got %v", docs[0].Metadata)
	}
}

func TestFetch_NonexistentFileReturnsNotFound(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil)
	_, err := a.Fetch(context.Background(), adapter.Params{FileUpload: &adapter.FileUploadParams{FilePath: "/nonexistent/path.txt"}})
	if pipeline.KindOf(err) != pipeline.KindNotFound {
		t.Errorf("expected Fetch to re-run Validate and fail with KindNotFound, got %s", pipeline.KindOf(err))
	}
}

func TestSupportedFormats_ReturnsConfiguredExtensions(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil)
	if len(a.SupportedFormats()) == 0 {
		t.Error("expected a non-empty supported format list")
	}
}
