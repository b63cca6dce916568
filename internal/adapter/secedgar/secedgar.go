// Package secedgar implements the sec_edgar Source Adapter, per spec.md
// §4.5.2: ticker/CIK resolution against EDGAR's public ticker map, then a
// submissions-index fetch and primary-document retrieval, all spaced
// through the rate limiter keyed on "sec.gov".
package secedgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/ratelimit"
	"github.com/docingest/pipeline/internal/retry"
)

const (
	rateLimitKey       = "sec.gov"
	tickerMapURL        = "https://www.sec.gov/files/company_tickers.json"
	submissionsURLFmt   = "https://data.sec.gov/submissions/CIK%s.json"
)

var contactPattern = regexp.MustCompile(`@|https?://`)

// Config holds the sec_edgar adapter's tunables.
type Config struct {
	UserAgent      string
	MaxFilingBytes int64
	HTTPTimeout    time.Duration
}

// DefaultConfig returns conservative defaults. UserAgent must still be set
// by the operator; there is no safe default for SEC's contact requirement.
func DefaultConfig() Config {
	return Config{
		MaxFilingBytes: 20 * 1024 * 1024,
		HTTPTimeout:    30 * time.Second,
	}
}

// Adapter implements adapter.Adapter for source=sec_edgar.
type Adapter struct {
	tenantID string
	cfg      Config
	client   *http.Client
	limiter  *ratelimit.Limiter
	retryer  *retry.Executor

	tickerCache map[string]string // upper ticker -> 10-digit zero-padded CIK
}

// New constructs a sec_edgar adapter. limiter must already have its
// "sec.gov" key's minimum spacing set to the operator-configured delay.
func New(tenantID string, cfg Config, limiter *ratelimit.Limiter, retryer *retry.Executor) *Adapter {
	return &Adapter{
		tenantID: tenantID,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:  limiter,
		retryer:  retryer,
	}
}

func (a *Adapter) Validate(params adapter.Params) error {
	p := params.SECEdgar
	if p == nil {
		return pipeline.Validationf("sec_edgar params are required")
	}
	if (p.Ticker == "") == (p.CIK == "") {
		return pipeline.Validationf("exactly one of ticker or cik is required")
	}
	count := p.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > 10 {
		return pipeline.Validationf("count must be between 1 and 10")
	}
	if !contactPattern.MatchString(a.cfg.UserAgent) {
		return pipeline.Validationf("configured User-Agent must include contact info (an @ address or URL)")
	}
	return nil
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Params) ([]pipeline.RawDocument, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	p := params.SECEdgar
	count := p.Count
	if count == 0 {
		count = 1
	}

	cik := p.CIK
	if cik == "" {
		resolved, err := a.resolveTicker(ctx, p.Ticker)
		if err != nil {
			return nil, err
		}
		cik = resolved
	}
	cik = normalizeCIK(cik)

	submissions, err := a.fetchSubmissions(ctx, cik)
	if err != nil {
		return nil, err
	}

	filings := selectFilings(submissions, p.FormType, count)
	if len(filings) == 0 {
		return nil, pipeline.NotFoundf("no filings found for CIK %s matching form_type=%q", cik, p.FormType)
	}

	docs := make([]pipeline.RawDocument, 0, len(filings))
	for _, f := range filings {
		body, err := a.fetchDocument(ctx, f.URL)
		if err != nil {
			return nil, err
		}
		text := stripHTML(body)
		docs = append(docs, pipeline.RawDocument{
			Content:         text,
			ContentBytesLen: len(body),
			TenantID:        a.tenantID,
			Metadata: map[string]string{
				"source":           string(pipeline.SourceSECEdgar),
				"company_name":     submissions.Name,
				"cik":              cik,
				"form_type":        f.FormType,
				"filing_date":      f.FilingDate,
				"accession_number": f.AccessionNumber,
				"filing_url":       f.URL,
				"fetched_at":       time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	adapter.EnsureUniqueDocumentIDs(docs)
	return docs, nil
}

type filing struct {
	FormType        string
	FilingDate      string
	AccessionNumber string
	URL             string
}

type submissionsDoc struct {
	Name   string
	CIK    string
	Filing []filing
}

func selectFilings(s *submissionsDoc, formType string, count int) []filing {
	var out []filing
	for _, f := range s.Filing {
		if formType != "" && !strings.EqualFold(f.FormType, formType) {
			continue
		}
		out = append(out, f)
		if len(out) >= count {
			break
		}
	}
	return out
}

func (a *Adapter) resolveTicker(ctx context.Context, ticker string) (string, error) {
	if a.tickerCache == nil {
		m, err := a.loadTickerMap(ctx)
		if err != nil {
			return "", err
		}
		a.tickerCache = m
	}
	cik, ok := a.tickerCache[strings.ToUpper(ticker)]
	if !ok {
		return "", pipeline.NotFoundf("unknown ticker: %s", ticker)
	}
	return cik, nil
}

type tickerEntry struct {
	CIKStr int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

func (a *Adapter) loadTickerMap(ctx context.Context) (map[string]string, error) {
	body, err := a.doGet(ctx, tickerMapURL)
	if err != nil {
		return nil, err
	}
	var raw map[string]tickerEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, pipeline.Internalf(err, "failed to parse ticker map")
	}
	out := make(map[string]string, len(raw))
	for _, e := range raw {
		out[strings.ToUpper(e.Ticker)] = fmt.Sprintf("%010d", e.CIKStr)
	}
	return out, nil
}

func (a *Adapter) fetchSubmissions(ctx context.Context, cik string) (*submissionsDoc, error) {
	url := fmt.Sprintf(submissionsURLFmt, cik)
	body, err := a.doGet(ctx, url)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Name   string `json:"name"`
		CIK    string `json:"cik"`
		Filings struct {
			Recent struct {
				Form            []string `json:"form"`
				FilingDate      []string `json:"filingDate"`
				AccessionNumber []string `json:"accessionNumber"`
				PrimaryDocument []string `json:"primaryDocument"`
			} `json:"recent"`
		} `json:"filings"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, pipeline.Internalf(err, "failed to parse submissions index for CIK %s", cik)
	}

	doc := &submissionsDoc{Name: raw.Name, CIK: raw.CIK}
	n := len(raw.Filings.Recent.Form)
	for i := 0; i < n; i++ {
		accession := strings.ReplaceAll(raw.Filings.Recent.AccessionNumber[i], "-", "")
		docURL := fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s",
			strings.TrimLeft(cik, "0"), accession, raw.Filings.Recent.PrimaryDocument[i])
		doc.Filing = append(doc.Filing, filing{
			FormType:        raw.Filings.Recent.Form[i],
			FilingDate:      raw.Filings.Recent.FilingDate[i],
			AccessionNumber: raw.Filings.Recent.AccessionNumber[i],
			URL:             docURL,
		})
	}
	return doc, nil
}

func (a *Adapter) fetchDocument(ctx context.Context, url string) ([]byte, error) {
	return a.doGet(ctx, url)
}

// doGet performs a single rate-limited, retried GET against sec.gov.
func (a *Adapter) doGet(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	op := func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx, rateLimitKey); err != nil {
			return pipeline.Cancelledf("rate limit wait cancelled: %v", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pipeline.Internalf(err, "failed to build request for %s", url)
		}
		req.Header.Set("User-Agent", a.cfg.UserAgent)

		resp, err := a.client.Do(req)
		if err != nil {
			return pipeline.Transientf(err, "request failed for %s", url)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipeline.RateLimitedf("rate limited by sec.gov fetching %s", url)
		}
		if resp.StatusCode == http.StatusNotFound {
			return pipeline.NotFoundf("404 fetching %s", url)
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			return pipeline.Forbiddenf("%d fetching %s", resp.StatusCode, url)
		}
		if resp.StatusCode >= 500 {
			return pipeline.Transientf(nil, "%d fetching %s", resp.StatusCode, url)
		}
		if resp.StatusCode >= 400 {
			return pipeline.Validationf("%d fetching %s", resp.StatusCode, url)
		}

		limited := io.LimitReader(resp.Body, a.cfg.MaxFilingBytes+1)
		b, err := io.ReadAll(limited)
		if err != nil {
			return pipeline.Transientf(err, "failed to read response body for %s", url)
		}
		if int64(len(b)) > a.cfg.MaxFilingBytes {
			return pipeline.SizeExceededf("response from %s exceeds max filing size of %d bytes", url, a.cfg.MaxFilingBytes)
		}
		body = b
		return nil
	}

	var err error
	if a.retryer != nil {
		err = a.retryer.Do(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func normalizeCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}

// stripHTML reduces an HTML filing document to plain text for downstream
// cleaning/chunking; the Clean stage still runs its own normalization.
func stripHTML(body []byte) string {
	node, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return string(body)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return sb.String()
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://www.sec.gov", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *Adapter) SupportedFormats() []string {
	return []string{"10-K", "10-Q", "8-K", "DEF 14A", "S-1"}
}

var _ adapter.Adapter = (*Adapter)(nil)
