// Package urlscrape implements the url_scrape Source Adapter, per spec.md
// §4.5.3: robots.txt-gated, sitemap-aware HTML fetching with goquery-based
// main-content extraction, grounded on the DOM-traversal style used by the
// crawler package this corpus's colly-based scraper builds on top of.
package urlscrape

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/ratelimit"
	"github.com/docingest/pipeline/internal/retry"
)

// Config holds the url_scrape adapter's tunables.
type Config struct {
	UserAgent     string
	RespectRobots bool
	MaxSizeBytes  int64
	Timeout       time.Duration
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:     "docingest-pipeline/1.0",
		RespectRobots: true,
		MaxSizeBytes:  10 * 1024 * 1024,
		Timeout:       30 * time.Second,
	}
}

// Adapter implements adapter.Adapter for source=url_scrape.
type Adapter struct {
	tenantID string
	cfg      Config
	client   *http.Client
	limiter  *ratelimit.Limiter
	retryer  *retry.Executor

	robotsCache map[string]*robotstxt.RobotsData
}

// New constructs a url_scrape adapter.
func New(tenantID string, cfg Config, limiter *ratelimit.Limiter, retryer *retry.Executor) *Adapter {
	return &Adapter{
		tenantID:    tenantID,
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     limiter,
		retryer:     retryer,
		robotsCache: make(map[string]*robotstxt.RobotsData),
	}
}

func (a *Adapter) Validate(params adapter.Params) error {
	p := params.URLScrape
	if p == nil {
		return pipeline.Validationf("url_scrape params are required")
	}
	if (p.URL == "") == (p.SitemapURL == "") {
		return pipeline.Validationf("exactly one of url or sitemap_url is required")
	}
	if p.MaxPages != 0 && (p.MaxPages < 1 || p.MaxPages > 100) {
		return pipeline.Validationf("max_pages must be between 1 and 100")
	}
	target := p.URL
	if target == "" {
		target = p.SitemapURL
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return pipeline.Validationf("invalid URL: %v", err)
	}
	return nil
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Params) ([]pipeline.RawDocument, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	p := params.URLScrape

	respectRobots := a.cfg.RespectRobots
	if p.RespectRobots != nil {
		respectRobots = *p.RespectRobots
	}

	var targets []string
	if p.SitemapURL != "" {
		maxPages := p.MaxPages
		if maxPages == 0 {
			maxPages = 10
		}
		urls, err := a.resolveSitemap(ctx, p.SitemapURL, maxPages)
		if err != nil {
			return nil, err
		}
		targets = urls
	} else {
		targets = []string{p.URL}
	}

	docs := make([]pipeline.RawDocument, 0, len(targets))
	for i, target := range targets {
		if respectRobots {
			allowed, err := a.robotsAllow(ctx, target)
			if err != nil {
				if pipeline.KindOf(err) == pipeline.KindCancelled {
					return nil, err
				}
				// Unfetchable robots.txt is treated as allow-all per spec.md §4.5.3.
				allowed = true
			}
			if !allowed {
				if len(targets) == 1 {
					return nil, pipeline.Forbiddenf("robots.txt disallows fetching %s", target)
				}
				continue
			}
		}

		body, contentType, err := a.fetchURL(ctx, target)
		if err != nil {
			if pipeline.KindOf(err) == pipeline.KindCancelled {
				return nil, err
			}
			if len(targets) == 1 {
				return nil, err
			}
			// Bulk mode: skip failures of individual pages rather than fail the job.
			continue
		}
		if !strings.Contains(contentType, "html") {
			if len(targets) == 1 {
				return nil, pipeline.Validationf("rejected non-HTML content type %q for %s", contentType, target)
			}
			continue
		}

		doc, err := extractDocument(body, target)
		if err != nil {
			if len(targets) == 1 {
				return nil, err
			}
			continue
		}
		doc.TenantID = a.tenantID
		doc.Metadata["source"] = string(pipeline.SourceURLScrape)
		doc.Metadata["url"] = target
		doc.Metadata["fetched_at"] = time.Now().UTC().Format(time.RFC3339)
		_ = i
		docs = append(docs, *doc)
	}

	if len(docs) == 0 {
		return nil, pipeline.NotFoundf("no documents extracted from %d candidate URLs", len(targets))
	}

	adapter.EnsureUniqueDocumentIDs(docs)
	return docs, nil
}

func (a *Adapter) robotsAllow(ctx context.Context, target string) (bool, error) {
	u, err := url.Parse(target)
	if err != nil {
		return true, err
	}
	host := u.Scheme + "://" + u.Host

	data, ok := a.robotsCache[host]
	if !ok {
		body, _, err := a.fetchURL(ctx, host+"/robots.txt")
		if err != nil {
			a.robotsCache[host] = nil
			return true, err
		}
		parsed, err := robotstxt.FromBytes(body)
		if err != nil {
			a.robotsCache[host] = nil
			return true, err
		}
		a.robotsCache[host] = parsed
		data = parsed
	}
	if data == nil {
		return true, nil
	}
	group := data.FindGroup(a.cfg.UserAgent)
	return group.Test(u.Path), nil
}

// resolveSitemap fetches a sitemap (or sitemap index, recursively) and
// returns up to maxPages URLs, a global cap across all children.
func (a *Adapter) resolveSitemap(ctx context.Context, sitemapURL string, maxPages int) ([]string, error) {
	var urls []string
	seen := map[string]bool{}
	var visit func(string) error
	visit = func(smURL string) error {
		if len(urls) >= maxPages || seen[smURL] {
			return nil
		}
		seen[smURL] = true

		body, _, err := a.fetchURL(ctx, smURL)
		if err != nil {
			return err
		}

		var index sitemapIndex
		if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
			for _, child := range index.Sitemaps {
				if len(urls) >= maxPages {
					break
				}
				if err := visit(child.Loc); err != nil {
					continue
				}
			}
			return nil
		}

		var urlset sitemapURLSet
		if err := xml.Unmarshal(body, &urlset); err != nil {
			return pipeline.Internalf(err, "failed to parse sitemap %s", smURL)
		}
		for _, u := range urlset.URLs {
			if len(urls) >= maxPages {
				break
			}
			urls = append(urls, u.Loc)
		}
		return nil
	}

	if err := visit(sitemapURL); err != nil {
		return nil, err
	}
	return urls, nil
}

// sitemapIndex and sitemapURLSet model the Sitemaps protocol loosely enough
// to tolerate missing <lastmod> or extra elements, per spec.md §6.
type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (a *Adapter) fetchURL(ctx context.Context, target string) ([]byte, string, error) {
	var body []byte
	var contentType string

	host := hostOf(target)
	op := func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx, host); err != nil {
			return pipeline.Cancelledf("rate limit wait cancelled: %v", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return pipeline.Internalf(err, "failed to build request for %s", target)
		}
		req.Header.Set("User-Agent", a.cfg.UserAgent)

		resp, err := a.client.Do(req)
		if err != nil {
			return pipeline.Transientf(err, "request failed for %s", target)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipeline.RateLimitedf("rate limited fetching %s", target)
		}
		if resp.StatusCode == http.StatusNotFound {
			return pipeline.NotFoundf("404 fetching %s", target)
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			return pipeline.Forbiddenf("%d fetching %s", resp.StatusCode, target)
		}
		if resp.StatusCode >= 500 {
			return pipeline.Transientf(nil, "%d fetching %s", resp.StatusCode, target)
		}
		if resp.StatusCode >= 400 {
			return pipeline.Validationf("%d fetching %s", resp.StatusCode, target)
		}

		limited := io.LimitReader(resp.Body, a.cfg.MaxSizeBytes+1)
		b, err := io.ReadAll(limited)
		if err != nil {
			return pipeline.Transientf(err, "failed to read response body for %s", target)
		}
		if int64(len(b)) > a.cfg.MaxSizeBytes {
			return pipeline.SizeExceededf("response from %s exceeds max size of %d bytes", target, a.cfg.MaxSizeBytes)
		}
		body = b
		contentType = resp.Header.Get("Content-Type")
		return nil
	}

	var err error
	if a.retryer != nil {
		err = a.retryer.Do(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

var boilerplateClasses = regexp.MustCompile(`\b(content|main-content|post-content|article-body)\b`)

// extractDocument parses HTML and extracts main content per the priority
// list in spec.md §4.5.3, plus title/meta/Open-Graph/Twitter metadata.
func extractDocument(body []byte, sourceURL string) (*pipeline.RawDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, pipeline.Internalf(err, "failed to parse HTML for %s", sourceURL)
	}

	content := mainContentSelection(doc)
	text := strings.TrimSpace(collapseWhitespace(content.Text()))

	metadata := extractMetadata(doc)

	return &pipeline.RawDocument{
		Content:         text,
		ContentBytesLen: len(body),
		Metadata:        metadata,
	}, nil
}

func mainContentSelection(doc *goquery.Document) *goquery.Selection {
	if article := doc.Find("article").First(); article.Length() > 0 {
		return article
	}
	if main := doc.Find("main, [role=main]").First(); main.Length() > 0 {
		return main
	}
	var byClass *goquery.Selection
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		if boilerplateClasses.MatchString(class) {
			sel := s
			byClass = sel
			return false
		}
		return true
	})
	if byClass != nil && byClass.Length() > 0 {
		return byClass
	}

	body := doc.Find("body")
	body.Find("nav, header, footer, aside, script, style").Remove()
	return body
}

func extractMetadata(doc *goquery.Document) map[string]string {
	metadata := map[string]string{}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}

	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		switch strings.ToLower(name) {
		case "description", "author", "keywords", "published":
			if content != "" {
				metadata[strings.ToLower(name)] = content
			}
		}
	})

	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if content != "" {
			metadata[prop] = content
		}
	})

	doc.Find(`meta[name^="twitter:"]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		if content != "" {
			metadata[name] = content
		}
	})

	return metadata
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://www.google.com", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}

func (a *Adapter) SupportedFormats() []string {
	return []string{"text/html"}
}

var _ adapter.Adapter = (*Adapter)(nil)
