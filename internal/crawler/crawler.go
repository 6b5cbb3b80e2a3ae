// Package crawler fetches pages for ingestion.
//
// Fetcher walks a site from a root URL, staying on the same host and
// honoring depth and page-count bounds. Each fetched page is reduced to
// readable text via go-readability; the favicon is resolved from the
// page's <link rel=icon> (falling back to /favicon.ico).
//
// Pages with no extractable text are still returned (with empty Text) so
// the ingestion pipeline can decide how to treat them.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/koopa0/crawlchat/internal/security"
)

// Page is one crawled page: raw extracted text plus source metadata.
type Page struct {
	URL     string
	Text    string
	Favicon string
}

const (
	defaultUserAgent  = "crawlchat/1.0"
	defaultMaxPages   = 20
	defaultMaxDepth   = 2
	requestTimeout    = 30 * time.Second
	maxResponseBytes  = 10 * 1024 * 1024
	htmlContentPrefix = "text/html"
)

// urlGuard is the outbound request validation the fetcher depends on.
type urlGuard interface {
	Validate(rawURL string) error
	SafeTransport() *http.Transport
}

// Fetcher crawls a site with colly.
type Fetcher struct {
	maxPages int
	maxDepth int
	guard    urlGuard
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. Non-positive bounds fall back to defaults.
// Crawl targets are validated against private networks and metadata
// endpoints before and during fetching.
func NewFetcher(maxPages, maxDepth int, logger *slog.Logger) *Fetcher {
	f := newFetcher(maxPages, maxDepth, logger)
	f.guard = security.NewURLGuard()
	return f
}

// NewFetcherForTesting creates a Fetcher without outbound request
// validation, so tests can crawl loopback servers. Tests only.
func NewFetcherForTesting(maxPages, maxDepth int, logger *slog.Logger) *Fetcher {
	return newFetcher(maxPages, maxDepth, logger)
}

func newFetcher(maxPages, maxDepth int, logger *slog.Logger) *Fetcher {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{maxPages: maxPages, maxDepth: maxDepth, logger: logger}
}

// Crawl fetches the root URL and same-host pages linked from it, breadth
// bounded by the fetcher's page and depth limits. The context cancels
// pending requests between pages.
func (f *Fetcher) Crawl(ctx context.Context, rootURL string) ([]Page, error) {
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parsing crawl url: %w", err)
	}
	if root.Scheme != "http" && root.Scheme != "https" {
		return nil, fmt.Errorf("unsupported crawl scheme %q", root.Scheme)
	}
	if f.guard != nil {
		if err := f.guard.Validate(rootURL); err != nil {
			return nil, fmt.Errorf("unsafe crawl url: %w", err)
		}
	}

	c := colly.NewCollector(
		colly.AllowedDomains(root.Hostname()),
		colly.MaxDepth(f.maxDepth),
		colly.UserAgent(defaultUserAgent),
		colly.MaxBodySize(maxResponseBytes),
	)
	c.SetRequestTimeout(requestTimeout)
	if f.guard != nil {
		c.WithTransport(f.guard.SafeTransport())
	}

	var (
		mu    sync.Mutex
		pages []Page
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		full := len(pages) >= f.maxPages
		mu.Unlock()
		if full {
			r.Abort()
		}
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		// Same-host traversal; colly enforces the domain and depth bounds.
		_ = e.Request.Visit(e.Attr("href"))
	})

	c.OnResponse(func(r *colly.Response) {
		contentType := strings.ToLower(r.Headers.Get("Content-Type"))
		if contentType != "" && !strings.HasPrefix(contentType, htmlContentPrefix) {
			return
		}

		page := f.extractPage(r.Request.URL, r.Body)

		mu.Lock()
		defer mu.Unlock()
		if len(pages) >= f.maxPages {
			return
		}
		pages = append(pages, page)
	})

	if err := c.Visit(root.String()); err != nil {
		return nil, fmt.Errorf("crawling %q: %w", rootURL, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.logger.Debug("crawl finished", "url", rootURL, "pages", len(pages))
	return pages, nil
}

// extractPage reduces a fetched HTML body to readable text and a favicon URL.
func (f *Fetcher) extractPage(pageURL *url.URL, body []byte) Page {
	page := Page{URL: pageURL.String()}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		f.logger.Debug("readability extraction failed", "url", page.URL, "error", err)
	} else {
		page.Text = strings.TrimSpace(article.TextContent)
	}

	page.Favicon = faviconURL(pageURL, body)
	return page
}

// faviconURL finds the page's icon link, resolved to an absolute URL.
// Falls back to the conventional /favicon.ico location.
func faviconURL(pageURL *url.URL, body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		href, ok := doc.Find(`link[rel*="icon"]`).First().Attr("href")
		if ok && href != "" {
			if ref, err := url.Parse(href); err == nil {
				return pageURL.ResolveReference(ref).String()
			}
		}
	}
	return pageURL.Scheme + "://" + pageURL.Host + "/favicon.ico"
}
