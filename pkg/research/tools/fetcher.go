package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/mikeboe/deep-research/pkg/research"
)

const (
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes = 5 << 20
)

// Extraction formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// Elements that never carry main content.
const noiseSelector = "script, style, noscript, nav, footer, header, aside, iframe, form, svg, button"

// Containers tried in order before falling back to <body>.
var mainSelectors = []string{"article", "main", "[role=main]", ".content", ".post", ".entry"}

const blockSelector = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, section, blockquote, pre, dd, dt"

// PDFExtractor turns a PDF URL into text.
type PDFExtractor interface {
	ExtractPDF(ctx context.Context, url string) (string, error)
}

// HTTPFetcher downloads pages and returns their main text content.
type HTTPFetcher struct {
	client *http.Client
	// MaxContentLength caps the returned text in runes (0 = unlimited).
	MaxContentLength int
	Format           string
	// PDF handles application/pdf responses; without it PDFs are unsupported.
	PDF    PDFExtractor
	Logger *slog.Logger

	markdown *md.Converter
}

// NewHTTPFetcher creates a fetcher with a per-request timeout.
func NewHTTPFetcher(timeout time.Duration, maxContentLength int, format string, logger *slog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPFetcherWithClient(&http.Client{Timeout: timeout}, maxContentLength, format, logger)
}

// NewHTTPFetcherWithClient creates a fetcher using the supplied HTTP client.
func NewHTTPFetcherWithClient(client *http.Client, maxContentLength int, format string, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if format != FormatMarkdown {
		format = FormatText
	}
	return &HTTPFetcher{
		client:           client,
		MaxContentLength: maxContentLength,
		Format:           format,
		Logger:           logger,
		markdown:         md.NewConverter("", true, nil),
	}
}

// Fetch implements research.Fetcher. Failures are *research.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	target := strings.TrimSpace(rawURL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &research.FetchError{URL: rawURL, Failure: research.FetchUnsupportedContentType, Err: fmt.Errorf("not an http(s) url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &research.FetchError{URL: target, Failure: research.FetchUnsupportedContentType, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,application/pdf;q=0.8,*/*;q=0.5")

	f.Logger.Debug("Fetching page", "url", target)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", transportError(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &research.FetchError{URL: target, Failure: research.FetchHTTPStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", transportError(target, err)
	}

	mediaType := contentType(resp.Header.Get("Content-Type"), body)
	var text string
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		text, err = f.extractHTML(body)
		if err != nil {
			return "", &research.FetchError{URL: target, Failure: research.FetchParse, Err: err}
		}
	case "text/plain":
		text = cleanText(string(body))
	case "application/pdf":
		if f.PDF == nil {
			return "", &research.FetchError{URL: target, Failure: research.FetchUnsupportedContentType, ContentType: mediaType}
		}
		text, err = f.PDF.ExtractPDF(ctx, target)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
	default:
		return "", &research.FetchError{URL: target, Failure: research.FetchUnsupportedContentType, ContentType: mediaType}
	}

	if text == "" {
		return "", &research.FetchError{URL: target, Failure: research.FetchParse, Err: errors.New("no text after cleaning")}
	}
	if f.MaxContentLength > 0 {
		if runes := []rune(text); len(runes) > f.MaxContentLength {
			text = string(runes[:f.MaxContentLength]) + "..."
		}
	}

	f.Logger.Info("Content extracted", "url", target, "chars", len(text))
	return text, nil
}

func (f *HTTPFetcher) extractHTML(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	var main *goquery.Selection
	for _, sel := range mainSelectors {
		candidate := doc.Find(sel).First()
		if candidate.Length() > 0 && strings.TrimSpace(candidate.Text()) != "" {
			main = candidate
			break
		}
	}
	if main == nil {
		main = doc.Find("body").First()
	}
	if main.Length() == 0 {
		return "", nil
	}

	if f.Format == FormatMarkdown {
		return cleanText(f.markdown.Convert(main)), nil
	}

	// Keep block boundaries; Text() concatenates adjacent nodes.
	main.Find(blockSelector).AppendHtml("\n")
	return cleanText(main.Text()), nil
}

// cleanText trims every line, collapses inner whitespace and drops blank lines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func contentType(header string, body []byte) string {
	if header == "" {
		header = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mediaType
}

func transportError(target string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &research.FetchError{URL: target, Failure: research.FetchTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &research.FetchError{URL: target, Failure: research.FetchNetwork, Err: err}
}
