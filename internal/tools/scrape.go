package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/go-mcp"
	"golang.org/x/net/html"
)

const (
	// maxFetchBytes caps how much of a page is read before parsing.
	maxFetchBytes = 512 * 1024
	// maxTextRunes caps the extracted text handed back to the model.
	maxTextRunes = 8000
)

var webScrapeTool = mcp.Tool{
	Name:        "web_scrape",
	Description: "Fetches a web page and returns its readable text content",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The URL of the page to fetch"
			}
		},
		"required": ["url"]
	}`),
}

// Scraper fetches pages and reduces them to readable text.
type Scraper struct {
	client *http.Client

	logger *slog.Logger
}

// NewScraper creates a scrape tool using a default HTTP client.
func NewScraper(logger *slog.Logger) Scraper {
	return Scraper{
		client: &http.Client{},
		logger: logger.With(slog.String("module", "scraper")),
	}
}

// Register adds the web_scrape tool to the toolbox.
func (s Scraper) Register(tb *Toolbox) {
	tb.Register(webScrapeTool, s.scrape)
}

func (s Scraper) scrape(ctx context.Context, args json.RawMessage) (json.RawMessage, bool) {
	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return ErrorResult(fmt.Errorf("invalid web_scrape input: %w", err)), false
	}
	if input.URL == "" {
		return ErrorResult(fmt.Errorf("url is required")), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return ErrorResult(fmt.Errorf("error creating request: %w", err)), false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Scrape request failed", slog.String(errLoggerKey, err.Error()))
		return ErrorResult(fmt.Errorf("fetch failed: %w", err)), false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Errorf("fetch failed with status %d", resp.StatusCode)), false
	}

	text, err := PageText(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return ErrorResult(fmt.Errorf("error parsing page: %w", err)), false
	}
	if text == "" {
		return ErrorResult(fmt.Errorf("page at %s has no readable text", input.URL)), false
	}

	return TextResult(text), true
}

// PageText parses HTML and returns its visible text, whitespace-collapsed. Script, style,
// and noscript subtrees are skipped.
func PageText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(strings.Fields(sb.String()), " ")
	if runes := []rune(text); len(runes) > maxTextRunes {
		text = string(runes[:maxTextRunes])
	}
	return text, nil
}
