package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/go-mcp"
)

const defaultSearchLimit = 5

var webSearchTool = mcp.Tool{
	Name:        "web_search",
	Description: "Searches the web through a SearXNG instance and returns result titles, URLs, and snippets",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of results to return, defaults to 5"
			}
		},
		"required": ["query"]
	}`),
}

// Searx performs web searches against a SearXNG instance's JSON API.
type Searx struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

// NewSearx creates a search tool backed by the SearXNG instance at baseURL.
func NewSearx(baseURL string, logger *slog.Logger) Searx {
	return Searx{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "searx")),
	}
}

// Register adds the web_search tool to the toolbox.
func (s Searx) Register(tb *Toolbox) {
	tb.Register(webSearchTool, s.search)
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

func (s Searx) search(ctx context.Context, args json.RawMessage) (json.RawMessage, bool) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return ErrorResult(fmt.Errorf("invalid web_search input: %w", err)), false
	}
	if input.Query == "" {
		return ErrorResult(fmt.Errorf("query is required")), false
	}
	if input.Limit <= 0 {
		input.Limit = defaultSearchLimit
	}

	q := url.Values{}
	q.Set("q", input.Query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return ErrorResult(fmt.Errorf("error creating request: %w", err)), false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Search request failed", slog.String(errLoggerKey, err.Error()))
		return ErrorResult(fmt.Errorf("search failed: %w", err)), false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Errorf("search failed with status %d", resp.StatusCode)), false
	}

	var body struct {
		Results []searchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ErrorResult(fmt.Errorf("error decoding search response: %w", err)), false
	}

	if len(body.Results) > input.Limit {
		body.Results = body.Results[:input.Limit]
	}

	res, err := json.Marshal(body.Results)
	if err != nil {
		return ErrorResult(fmt.Errorf("error marshaling results: %w", err)), false
	}
	return TextResult(string(res)), true
}
