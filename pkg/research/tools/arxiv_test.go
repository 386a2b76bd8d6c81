package tools

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2101.00001v1</id>
    <published>2021-01-01T00:00:00Z</published>
    <title>Surface Codes
      in Practice</title>
    <summary>  We study   surface codes.  </summary>
    <link href="http://arxiv.org/abs/2101.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2101.00001v1" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2101.00002v1</id>
    <title>No PDF</title>
    <summary>Only an abstract page.</summary>
    <link href="http://arxiv.org/abs/2101.00002v1" rel="alternate" type="text/html"/>
  </entry>
</feed>`

func newTestArxiv(t *testing.T, handler http.HandlerFunc) *ArxivProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := NewArxivProvider(5*time.Second, 1000, quietLogger())
	a.Endpoint = srv.URL
	return a
}

func TestArxivSearch(t *testing.T) {
	var gotQuery, gotMax string
	a := newTestArxiv(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		gotMax = r.URL.Query().Get("max_results")
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = io.WriteString(w, arxivFeed)
	})

	results, err := a.Search(context.Background(), "surface codes", 3)

	require.NoError(t, err)
	assert.Equal(t, "all:surface codes", gotQuery)
	assert.Equal(t, "3", gotMax)
	require.Len(t, results, 2)
	assert.Equal(t, research.SearchResult{
		Title:   "Surface Codes in Practice",
		URL:     "https://arxiv.org/pdf/2101.00001v1",
		Snippet: "Published 2021-01-01T00:00:00Z. We study surface codes.",
	}, results[0])
	assert.Equal(t, "https://arxiv.org/abs/2101.00002v1", results[1].URL)
	assert.Equal(t, "Only an abstract page.", results[1].Snippet)
}

func TestArxivFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   research.ErrorKind
	}{
		{"server error", http.StatusInternalServerError, "oops", research.KindTransient},
		{"bad request", http.StatusBadRequest, "bad query", research.KindPermanent},
		{"malformed feed", http.StatusOK, "<feed><entry>", research.KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestArxiv(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := a.Search(context.Background(), "q", 5)

			var pe *research.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "arxiv", pe.Provider)
			assert.Equal(t, tt.kind, research.Classify(err))
		})
	}
}

func TestEntryURL(t *testing.T) {
	assert.Equal(t, "http://arxiv.org/abs/1", entryURL(ArxivEntry{ID: " http://arxiv.org/abs/1 "}))
	assert.Equal(t, "https://arxiv.org/pdf/1", entryURL(ArxivEntry{Link: []ArxivLink{
		{Href: "http://arxiv.org/abs/1", Type: "text/html"},
		{Href: "http://arxiv.org/pdf/1", Type: "application/pdf"},
	}}))
}

func TestArxivCapsResponseBody(t *testing.T) {
	a := newTestArxiv(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<feed xmlns="http://www.w3.org/2005/Atom"><entry><summary>`)
		_, _ = io.WriteString(w, strings.Repeat("x", maxBodyBytes))
		_, _ = io.WriteString(w, `</summary></entry></feed>`)
	})

	_, err := a.Search(context.Background(), "q", 5)

	assert.Equal(t, research.KindParse, research.Classify(err))
}
