// Package apifetch implements the api_fetch Source Adapter, per spec.md
// §4.5.4: an authenticated, paginated JSON/XML fetcher that walks a dotted
// data_path into the response and emits one RawDocument per item.
package apifetch

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/ratelimit"
	"github.com/docingest/pipeline/internal/retry"
)

// Config holds the api_fetch adapter's tunables.
type Config struct {
	Timeout   time.Duration
	VerifySSL bool
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, VerifySSL: true}
}

// Adapter implements adapter.Adapter for source=api_fetch.
type Adapter struct {
	tenantID string
	cfg      Config
	client   *http.Client
	limiter  *ratelimit.Limiter
	retryer  *retry.Executor
}

// New constructs an api_fetch adapter. When cfg.VerifySSL is false the
// caller is expected to have already configured client's TLS transport;
// this adapter does not itself disable certificate verification.
func New(tenantID string, cfg Config, client *http.Client, limiter *ratelimit.Limiter, retryer *retry.Executor) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Adapter{tenantID: tenantID, cfg: cfg, client: client, limiter: limiter, retryer: retryer}
}

func (a *Adapter) Validate(params adapter.Params) error {
	p := params.APIFetch
	if p == nil || p.APIURL == "" {
		return pipeline.Validationf("api_url is required")
	}
	if _, err := url.ParseRequestURI(p.APIURL); err != nil {
		return pipeline.Validationf("invalid api_url: %v", err)
	}
	switch p.ResponseFormat {
	case "", adapter.ResponseJSON, adapter.ResponseXML:
	default:
		return pipeline.Validationf("unsupported response_format: %s", p.ResponseFormat)
	}
	if p.MaxPages != 0 && p.MaxPages < 1 {
		return pipeline.Validationf("max_pages must be positive")
	}
	return nil
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Params) ([]pipeline.RawDocument, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	p := params.APIFetch

	format := p.ResponseFormat
	if format == "" {
		format = adapter.ResponseJSON
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	maxPages := p.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	var docs []pipeline.RawDocument
	nextURL := p.APIURL
	offset := 0

	for page := 1; page <= maxPages && nextURL != ""; page++ {
		status, headers, body, err := a.doRequest(ctx, method, nextURL, p)
		if err != nil {
			return nil, err
		}
		if status >= 400 {
			return nil, classifyHTTPStatus(status, nextURL)
		}

		items, err := extractItems(body, format, p.DataPath, p.XMLItemTag)
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			content, metadata := buildDocument(item, p.ContentField, p.TitleField)
			metadata["api_url"] = nextURL
			metadata["page_number"] = strconv.Itoa(page)
			metadata["source"] = string(pipeline.SourceAPIFetch)
			metadata["fetched_at"] = time.Now().UTC().Format(time.RFC3339)
			docs = append(docs, pipeline.RawDocument{
				Content:         content,
				ContentBytesLen: len(content),
				TenantID:        a.tenantID,
				Metadata:        metadata,
			})
		}

		nextURL, offset = a.nextPage(p, headers, body, offset, len(items))
	}

	if len(docs) == 0 {
		return nil, pipeline.NotFoundf("no items extracted from %s", p.APIURL)
	}

	adapter.EnsureUniqueDocumentIDs(docs)
	return docs, nil
}

func classifyHTTPStatus(status int, target string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return pipeline.RateLimitedf("rate limited fetching %s", target)
	case status == http.StatusNotFound:
		return pipeline.NotFoundf("404 fetching %s", target)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return pipeline.Forbiddenf("%d fetching %s", status, target)
	case status >= 500:
		return pipeline.Transientf(nil, "%d fetching %s", status, target)
	default:
		return pipeline.Validationf("%d fetching %s", status, target)
	}
}

func (a *Adapter) doRequest(ctx context.Context, method, target string, p *adapter.APIFetchParams) (int, http.Header, []byte, error) {
	var status int
	var headers http.Header
	var body []byte

	u, err := url.Parse(target)
	if err != nil {
		return 0, nil, nil, pipeline.Validationf("invalid URL: %v", err)
	}

	op := func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx, u.Host); err != nil {
			return pipeline.Cancelledf("rate limit wait cancelled: %v", err)
		}

		var bodyReader io.Reader
		if p.Body != "" {
			bodyReader = strings.NewReader(p.Body)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return pipeline.Internalf(err, "failed to build request for %s", target)
		}
		applyAuth(req, p)
		for k, v := range p.CustomHeaders {
			req.Header.Set(k, v)
		}
		if p.Body != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		q := req.URL.Query()
		for k, v := range p.QueryParams {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()

		resp, err := a.client.Do(req)
		if err != nil {
			return pipeline.Transientf(err, "request failed for %s", target)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return pipeline.Transientf(err, "failed to read response body for %s", target)
		}
		status = resp.StatusCode
		headers = resp.Header
		body = b
		return nil
	}

	var err error
	if a.retryer != nil {
		err = a.retryer.Do(ctx, op)
	} else {
		err = op(ctx)
	}
	return status, headers, body, err
}

func applyAuth(req *http.Request, p *adapter.APIFetchParams) {
	switch p.Auth {
	case adapter.AuthAPIKey:
		header := p.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, p.APIKey)
	case adapter.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+p.BearerToken)
	case adapter.AuthBasic:
		req.SetBasicAuth(p.BasicUser, p.BasicPass)
	}
}

// extractItems decodes body per format and navigates dataPath for JSON, or
// collects elements matching xmlItemTag for XML.
func extractItems(body []byte, format adapter.ResponseFormat, dataPath, xmlItemTag string) ([]map[string]any, error) {
	switch format {
	case adapter.ResponseXML:
		return extractXMLItems(body, xmlItemTag)
	default:
		return extractJSONItems(body, dataPath)
	}
}

func extractJSONItems(body []byte, dataPath string) ([]map[string]any, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, pipeline.Internalf(err, "failed to decode JSON response")
	}

	value := root
	if dataPath != "" {
		for _, part := range strings.Split(dataPath, ".") {
			m, ok := value.(map[string]any)
			if !ok {
				return nil, pipeline.Validationf("data_path %q does not resolve to an object at %q", dataPath, part)
			}
			value, ok = m[part]
			if !ok {
				return nil, pipeline.Validationf("data_path %q: key %q not found", dataPath, part)
			}
		}
	}

	arr, ok := value.([]any)
	if !ok {
		return nil, pipeline.Validationf("data_path %q does not resolve to an array", dataPath)
	}

	items := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		} else {
			items = append(items, map[string]any{"value": v})
		}
	}
	return items, nil
}

type xmlGenericNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr       `xml:",any,attr"`
	Content  string           `xml:",chardata"`
	Children []xmlGenericNode `xml:",any"`
}

func extractXMLItems(body []byte, itemTag string) ([]map[string]any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	var items []map[string]any
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pipeline.Internalf(err, "failed to decode XML response")
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != itemTag {
			continue
		}
		var node xmlGenericNode
		if err := decoder.DecodeElement(&node, &start); err != nil {
			return nil, pipeline.Internalf(err, "failed to decode XML item <%s>", itemTag)
		}
		items = append(items, xmlNodeToMap(node))
	}
	return items, nil
}

func xmlNodeToMap(node xmlGenericNode) map[string]any {
	m := map[string]any{}
	for _, child := range node.Children {
		m[child.XMLName.Local] = strings.TrimSpace(child.Content)
	}
	if len(m) == 0 && strings.TrimSpace(node.Content) != "" {
		m["value"] = strings.TrimSpace(node.Content)
	}
	return m
}

// buildDocument derives content and flat string metadata from one item, per
// spec.md §4.5.4 step 4.
func buildDocument(item map[string]any, contentField, titleField string) (string, map[string]string) {
	metadata := map[string]string{}
	var content string

	if contentField != "" {
		if v, ok := item[contentField]; ok {
			content = toString(v)
		}
	}
	if content == "" {
		b, _ := json.Marshal(item)
		content = string(b)
	}

	for k, v := range item {
		if k == contentField {
			continue
		}
		metadata[k] = toString(v)
	}
	if titleField != "" {
		if v, ok := item[titleField]; ok {
			metadata["title"] = toString(v)
		}
	}
	return content, metadata
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// nextPage derives the next page URL per the configured pagination
// strategy, per spec.md §4.5.4 step 5. Returns "" when no next page exists.
func (a *Adapter) nextPage(p *adapter.APIFetchParams, headers http.Header, body []byte, offset, itemsOnPage int) (string, int) {
	switch p.Pagination {
	case adapter.PaginationLinkHeader:
		link := headers.Get("Link")
		next := parseLinkHeaderNext(link)
		return next, offset

	case adapter.PaginationJSONPath:
		var root any
		if err := json.Unmarshal(body, &root); err != nil {
			return "", offset
		}
		value := root
		for _, part := range strings.Split(p.PaginationPath, ".") {
			m, ok := value.(map[string]any)
			if !ok {
				return "", offset
			}
			value, ok = m[part]
			if !ok {
				return "", offset
			}
		}
		s, ok := value.(string)
		if !ok || s == "" {
			return "", offset
		}
		return s, offset

	case adapter.PaginationOffset:
		if itemsOnPage == 0 {
			return "", offset
		}
		nextOffset := offset + itemsOnPage
		u, err := url.Parse(p.APIURL)
		if err != nil {
			return "", offset
		}
		q := u.Query()
		offsetParam := p.OffsetParam
		if offsetParam == "" {
			offsetParam = "offset"
		}
		q.Set(offsetParam, strconv.Itoa(nextOffset))
		if p.LimitParam != "" {
			if _, ok := q[p.LimitParam]; !ok {
				q.Set(p.LimitParam, strconv.Itoa(itemsOnPage))
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), nextOffset

	default:
		return "", offset
	}
}

func parseLinkHeaderNext(link string) string {
	if link == "" {
		return ""
	}
	parts := strings.Split(link, ",")
	for _, part := range parts {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		urlPart := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(urlPart, "<") || !strings.HasSuffix(urlPart, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return strings.Trim(urlPart, "<>")
			}
		}
	}
	return ""
}

func (a *Adapter) HealthCheck(ctx context.Context) bool { return true }

func (a *Adapter) SupportedFormats() []string {
	return []string{"json", "xml"}
}

var _ adapter.Adapter = (*Adapter)(nil)
