package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const (
	mistralOCREndpoint = "https://api.mistral.ai/v1/ocr"
	// OCR output of a long paper is larger than a web page.
	maxOCRBytes = 32 << 20
)

type PdfScrapeResponsePage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type OcrResponse struct {
	Pages []PdfScrapeResponsePage `json:"pages"`
}

// MistralOCR extracts PDF text through the Mistral OCR API.
type MistralOCR struct {
	Endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewMistralOCR returns nil when apiKey is empty so callers can leave PDF
// support disabled.
func NewMistralOCR(apiKey string, timeout time.Duration, logger *slog.Logger) *MistralOCR {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MistralOCR{
		Endpoint: mistralOCREndpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// ExtractPDF implements PDFExtractor. Failures are *research.FetchError.
func (m *MistralOCR) ExtractPDF(ctx context.Context, url string) (string, error) {
	url = strings.Replace(url, "http://", "https://", 1)
	m.logger.Info("Extracting PDF", "url", url)

	reqBody := map[string]any{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": url,
		},
		"include_image_base64": false,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", &research.FetchError{URL: url, Failure: research.FetchParse, Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", &research.FetchError{URL: url, Failure: research.FetchNetwork, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", transportError(url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOCRBytes))
	if err != nil {
		return "", transportError(url, err)
	}
	if resp.StatusCode != http.StatusOK {
		m.logger.Warn("OCR request failed", "url", url, "status", resp.StatusCode, "body", truncate(string(body), 200))
		return "", &research.FetchError{URL: url, Failure: research.FetchHTTPStatus, Status: resp.StatusCode}
	}

	var ocrResponse OcrResponse
	if err := json.Unmarshal(body, &ocrResponse); err != nil {
		return "", &research.FetchError{URL: url, Failure: research.FetchParse, Err: fmt.Errorf("failed to unmarshal OCR response: %w", err)}
	}

	var b strings.Builder
	for _, page := range ocrResponse.Pages {
		fmt.Fprintf(&b, "- Page %d -\n", page.Index)
		b.WriteString(page.Markdown)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}
