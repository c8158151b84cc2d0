package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	searchTimeout    = 15 * time.Second
	searchMaxResults = 8
)

// searxngResponse mirrors the SearXNG JSON API.
type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearchTool returns the web search tool backed by a
// SearXNG-compatible endpoint.
func NewSearchTool(baseURL string) (Definition, Executor) {
	definition := Definition{
		Name:        "search",
		Description: "Search the web. Returns a list of results with title, url and snippet.",
		Parameters: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`,
	}

	client := &http.Client{Timeout: searchTimeout}

	execute := func(ctx context.Context, arguments string) (string, error) {
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid search arguments: %w", err)
		}
		if args.Query == "" {
			return "", fmt.Errorf("query is required")
		}

		endpoint := baseURL + "/search?format=json&q=" + url.QueryEscape(args.Query)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("build search request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("search request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("search returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read search response: %w", err)
		}

		var parsed searxngResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("parse search response: %w", err)
		}

		result := SearchResults{Query: args.Query}
		for i, r := range parsed.Results {
			if i >= searchMaxResults {
				break
			}
			result.Results = append(result.Results, struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			}{Title: r.Title, URL: r.URL, Snippet: r.Content})
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("marshal search result: %w", err)
		}
		return string(raw), nil
	}

	return definition, execute
}
