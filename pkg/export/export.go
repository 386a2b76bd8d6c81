package export

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gitlab.com/golang-commonmark/markdown"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Formats accepted by Render and Save.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

var md = markdown.New(markdown.HTML(false), markdown.Tables(true), markdown.Linkify(true))

// Markdown returns the final report as written by the analyzer.
func Markdown(result *research.ResearchResult) string {
	return result.FinalReport
}

// HTML renders the report into a standalone styled page.
func HTML(result *research.ResearchResult) string {
	body := md.RenderToString([]byte(result.FinalReport))
	return fmt.Sprintf(htmlTemplate, html.EscapeString(result.Topic), body)
}

type sourcesDocument struct {
	Topic       string    `json:"topic"`
	Timestamp   time.Time `json:"timestamp"`
	TotalRounds int       `json:"total_rounds"`
	Sources     []string  `json:"sources"`
}

// SourcesJSON lists the session sources in first-seen order.
func SourcesJSON(result *research.ResearchResult) ([]byte, error) {
	sources := result.Sources
	if sources == nil {
		sources = []string{}
	}
	return json.MarshalIndent(sourcesDocument{
		Topic:       result.Topic,
		Timestamp:   result.Timestamp,
		TotalRounds: result.TotalRounds,
		Sources:     sources,
	}, "", "  ")
}

// Render returns the content and file extension for format.
func Render(result *research.ResearchResult, format string) ([]byte, string, error) {
	switch format {
	case FormatMarkdown, "md", "":
		return []byte(Markdown(result)), "md", nil
	case FormatHTML:
		return []byte(HTML(result)), "html", nil
	case FormatJSON:
		data, err := SourcesJSON(result)
		return data, "json", err
	default:
		return nil, "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// SafeFilename builds "<topic>_<YYYYmmdd_HHMMSS>.<ext>". Characters other
// than letters, digits, space, '-' and '_' become '_' and the topic part is
// capped at 50 characters.
func SafeFilename(topic, ext string, at time.Time) string {
	var b strings.Builder
	for _, r := range topic {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	safe := []rune(strings.TrimSpace(b.String()))
	if len(safe) > 50 {
		safe = safe[:50]
	}
	name := string(safe)
	if name == "" {
		name = "research"
	}
	return fmt.Sprintf("%s_%s.%s", name, at.Format("20060102_150405"), ext)
}

// Save writes the result in each format to dir and returns the file paths.
func Save(dir string, result *research.ResearchResult, formats ...string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	at := result.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var paths []string
	for _, format := range formats {
		data, ext, err := Render(result, format)
		if err != nil {
			return paths, err
		}
		name := SafeFilename(result.Topic, ext, at)
		if format == FormatJSON {
			name = strings.TrimSuffix(name, ".json") + "_sources.json"
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>%s</title>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }
h1 { color: #2c3e50; border-bottom: 2px solid #3498db; padding-bottom: 10px; margin-top: 30px; }
h2 { color: #34495e; border-bottom: 1px solid #bdc3c7; padding-bottom: 5px; margin-top: 25px; }
code { background-color: #f4f4f4; padding: 2px 6px; border-radius: 3px; }
pre { background-color: #f4f4f4; padding: 15px; border-radius: 5px; overflow-x: auto; }
blockquote { border-left: 4px solid #3498db; padding-left: 15px; color: #666; }
a { color: #3498db; text-decoration: none; }
table { border-collapse: collapse; width: 100%%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
</style>
</head>
<body>
%s
</body>
</html>
`
