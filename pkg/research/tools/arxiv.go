package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivEndpoint = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href  string `xml:"href,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// ArxivProvider searches the arXiv Atom API. Result URLs point at the PDF
// when one is listed so the fetcher can hand them to a PDFExtractor.
type ArxivProvider struct {
	Endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewArxivProvider creates a provider allowing at most perSecond requests
// per second (arXiv asks for one request every three seconds).
func NewArxivProvider(timeout time.Duration, perSecond float64, logger *slog.Logger) *ArxivProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if perSecond <= 0 {
		perSecond = 1.0 / 3
	}
	return &ArxivProvider{
		Endpoint: arxivEndpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:   logger,
	}
}

func (a *ArxivProvider) Name() string { return "arxiv" }

// Search implements research.SearchProvider.
func (a *ArxivProvider) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := a.Endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, &research.ProviderError{Provider: a.Name(), Message: "failed to create request", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	a.logger.Debug("arXiv request", "url", apiURL)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &research.ProviderError{Provider: a.Name(), Message: "failed to make API request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &research.ProviderError{Provider: a.Name(), Message: "failed to read response body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		a.logger.Error("API returned non-200 status code", "status", resp.StatusCode, "body", truncate(string(body), 200))
		return nil, &research.ProviderError{Provider: a.Name(), Status: resp.StatusCode, Message: "API returned non-200 status code"}
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, &research.ProviderError{Provider: a.Name(), Message: "failed to unmarshal XML", Err: fmt.Errorf("%w: %v", research.ErrMalformedProviderResponse, err)}
	}

	results := make([]research.SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := entryURL(entry)
		if link == "" {
			continue
		}
		snippet := collapse(entry.Summary)
		if entry.Published != "" {
			snippet = fmt.Sprintf("Published %s. %s", strings.TrimSpace(entry.Published), snippet)
		}
		results = append(results, research.SearchResult{
			Title:   collapse(entry.Title),
			URL:     link,
			Snippet: snippet,
		})
		if len(results) == maxResults {
			break
		}
	}
	a.logger.Info("arXiv search completed", "query", query, "results", len(results))
	return results, nil
}

func entryURL(entry ArxivEntry) string {
	for _, link := range entry.Link {
		if link.Type == "application/pdf" || link.Title == "pdf" {
			return strings.Replace(link.Href, "http://", "https://", 1)
		}
	}
	for _, link := range entry.Link {
		if link.Type == "text/html" {
			return strings.Replace(link.Href, "http://", "https://", 1)
		}
	}
	return strings.TrimSpace(entry.ID)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
