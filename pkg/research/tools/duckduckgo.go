package tools

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/mikeboe/deep-research/pkg/research"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html"

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. It needs no API key.
type DuckDuckGoProvider struct {
	Endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewDuckDuckGoProvider creates a provider that sends at most perSecond
// requests per second across all callers.
func NewDuckDuckGoProvider(timeout time.Duration, perSecond float64, logger *slog.Logger) *DuckDuckGoProvider {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &DuckDuckGoProvider{
		Endpoint: duckDuckGoEndpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

// Search implements research.SearchProvider. An empty page is an empty
// result, not an error.
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)
	form.Set("b", "")
	form.Set("kl", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &research.ProviderError{Provider: p.Name(), Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &research.ProviderError{Provider: p.Name(), Message: "search request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &research.ProviderError{Provider: p.Name(), Message: "failed to read response", Err: err}
	}

	// DuckDuckGo answers 202 with a challenge page when it throttles.
	if resp.StatusCode == http.StatusAccepted {
		return nil, &research.ProviderError{Provider: p.Name(), Status: http.StatusTooManyRequests, Message: "rate limit exceeded"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &research.ProviderError{Provider: p.Name(), Status: resp.StatusCode, Message: "search error"}
	}

	results, err := parseDuckDuckGo(body, maxResults)
	if err != nil {
		return nil, &research.ProviderError{Provider: p.Name(), Message: "failed to parse HTML response", Err: err}
	}
	p.logger.Info("DuckDuckGo search completed", "query", query, "results", len(results))
	return results, nil
}

func parseDuckDuckGo(body []byte, maxResults int) ([]research.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	results := []research.SearchResult{}
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		titleElem := s.Find(".result__title a").First()
		if titleElem.Length() == 0 {
			titleElem = s.Find("a.result__a").First()
		}
		title := collapse(titleElem.Text())
		link, exists := titleElem.Attr("href")
		if !exists || title == "" || strings.Contains(link, "y.js") {
			return true
		}
		link = resolveRedirect(link)
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			return true
		}

		results = append(results, research.SearchResult{
			Title:   title,
			URL:     link,
			Snippet: collapse(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < maxResults
	})
	return results, nil
}

// resolveRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(link string) string {
	if !strings.Contains(link, "uddg=") {
		return link
	}
	abs := link
	if strings.HasPrefix(abs, "//") {
		abs = "https:" + abs
	}
	u, err := url.Parse(abs)
	if err != nil {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return link
}
