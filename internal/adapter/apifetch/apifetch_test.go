package apifetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/ratelimit"
)

func TestValidate_MissingAPIURLRejected(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil, nil, nil)
	err := a.Validate(adapter.Params{})
	if pipeline.KindOf(err) != pipeline.KindValidation {
		t.Errorf("expected KindValidation, got %s", pipeline.KindOf(err))
	}
}

func TestValidate_UnsupportedResponseFormatRejected(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil, nil, nil)
	err := a.Validate(adapter.Params{APIFetch: &adapter.APIFetchParams{APIURL: "https://a.com", ResponseFormat: "yaml"}})
	if pipeline.KindOf(err) != pipeline.KindValidation {
		t.Errorf("expected KindValidation, got %s", pipeline.KindOf(err))
	}
}

func TestExtractJSONItems_NavigatesDataPath(t *testing.T) {
	body := []byte(`{"data":{"items":[{"a":1},{"a":2}]}}`)
	items, err := extractJSONItems(body, "data.items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestExtractJSONItems_MissingPathRejected(t *testing.T) {
	body := []byte(`{"data":{}}`)
	_, err := extractJSONItems(body, "data.items")
	if pipeline.KindOf(err) != pipeline.KindValidation {
		t.Errorf("expected KindValidation, got %s", pipeline.KindOf(err))
	}
}

func TestExtractXMLItems_CollectsMatchingTags(t *testing.T) {
	body := []byte(`<root><item><title>A</title></item><skip/><item><title>B</title></item></root>`)
	items, err := extractXMLItems(body, "item")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0]["title"] != "A" || items[1]["title"] != "B" {
		t.Errorf("expected titles extracted, got %v", items)
	}
}

func TestBuildDocument_UsesContentFieldWithRemainderAsMetadata(t *testing.T) {
	item := map[string]any{"body": "hello", "id": "42", "title": "Hi"}
	content, meta := buildDocument(item, "body", "title")
	if content != "hello" {
		t.Errorf("expected content field used, got %q", content)
	}
	if meta["title"] != "Hi" {
		t.Errorf("expected title field promoted to metadata, got %v", meta)
	}
	if meta["body"] != "" {
		t.Error("expected content field excluded from metadata")
	}
}

func TestBuildDocument_FallsBackToJSONWhenNoContentField(t *testing.T) {
	item := map[string]any{"a": "1"}
	content, _ := buildDocument(item, "", "")
	if content == "" {
		t.Error("expected a JSON fallback content string")
	}
}

func TestParseLinkHeaderNext_FindsRelNext(t *testing.T) {
	link := `<https://a.com/p2>; rel="next", <https://a.com/p1>; rel="prev"`
	if got := parseLinkHeaderNext(link); got != "https://a.com/p2" {
		t.Errorf("expected next link extracted, got %q", got)
	}
}

func TestParseLinkHeaderNext_NoNextReturnsEmpty(t *testing.T) {
	if got := parseLinkHeaderNext(`<https://a.com/p1>; rel="prev"`); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestNextPage_OffsetPaginationAdvances(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil, nil, nil)
	p := &adapter.APIFetchParams{APIURL: "https://a.com/items", Pagination: adapter.PaginationOffset, OffsetParam: "offset"}
	next, offset := a.nextPage(p, nil, nil, 0, 10)
	if offset != 10 {
		t.Errorf("expected offset advanced to 10, got %d", offset)
	}
	if next == "" {
		t.Error("expected a next-page URL")
	}
}

func TestNextPage_OffsetPaginationStopsWhenNoItems(t *testing.T) {
	a := New("tenant-1", DefaultConfig(), nil, nil, nil)
	p := &adapter.APIFetchParams{APIURL: "https://a.com/items", Pagination: adapter.PaginationOffset}
	next, _ := a.nextPage(p, nil, nil, 10, 0)
	if next != "" {
		t.Errorf("expected no next page when the current page is empty, got %q", next)
	}
}

func TestFetch_SinglePageJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"body":"hello"},{"body":"world"}]`))
	}))
	defer srv.Close()

	a := New("tenant-1", DefaultConfig(), &http.Client{}, ratelimit.New(0), nil)
	docs, err := a.Fetch(context.Background(), adapter.Params{APIFetch: &adapter.APIFetchParams{
		APIURL: srv.URL, ContentField: "body",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].TenantID != "tenant-1" {
		t.Errorf("expected tenant_id stamped, got %q", docs[0].TenantID)
	}
}

func TestFetch_ErrorStatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := New("tenant-1", DefaultConfig(), &http.Client{}, ratelimit.New(0), nil)
	_, err := a.Fetch(context.Background(), adapter.Params{APIFetch: &adapter.APIFetchParams{APIURL: srv.URL}})
	if pipeline.KindOf(err) != pipeline.KindForbidden {
		t.Errorf("expected KindForbidden, got %s", pipeline.KindOf(err))
	}
}

func TestFetch_NoItemsReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	a := New("tenant-1", DefaultConfig(), &http.Client{}, ratelimit.New(0), nil)
	_, err := a.Fetch(context.Background(), adapter.Params{APIFetch: &adapter.APIFetchParams{APIURL: srv.URL}})
	if pipeline.KindOf(err) != pipeline.KindNotFound {
		t.Errorf("expected KindNotFound, got %s", pipeline.KindOf(err))
	}
}
