package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	fetchTimeout     = 20 * time.Second
	fetchMaxBody     = 2 << 20 // 2 MiB
	fetchMaxExcerpt  = 8000
	fetchUserAgent   = "prochat/0.4 (+https://github.com/prochat/prochat)"
	fetchContentText = "text/"
)

// NewWebFetchTool returns the page fetch tool. It downloads a URL and
// extracts the document title plus a readable text excerpt.
func NewWebFetchTool() (Definition, Executor) {
	definition := Definition{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its title and readable text excerpt.",
		Parameters: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to fetch"}
			},
			"required": ["url"]
		}`,
	}

	client := &http.Client{Timeout: fetchTimeout}

	execute := func(ctx context.Context, arguments string) (string, error) {
		var args struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid web_fetch arguments: %w", err)
		}
		if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
			return "", fmt.Errorf("url must be http or https")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
		if err != nil {
			return "", fmt.Errorf("build fetch request: %w", err)
		}
		req.Header.Set("User-Agent", fetchUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch failed: %w", err)
		}
		defer resp.Body.Close()

		contentType := resp.Header.Get("Content-Type")
		result := FetchResult{
			URL:         args.URL,
			Status:      resp.StatusCode,
			ContentType: contentType,
		}

		if strings.Contains(contentType, "html") {
			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
			if err != nil {
				return "", fmt.Errorf("read fetch response: %w", err)
			}
			title, text := extractReadableText(string(body))
			result.Title = title
			result.Excerpt = truncateExcerpt(text, fetchMaxExcerpt)
		} else if strings.HasPrefix(contentType, fetchContentText) {
			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
			if err != nil {
				return "", fmt.Errorf("read fetch response: %w", err)
			}
			result.Excerpt = truncateExcerpt(string(body), fetchMaxExcerpt)
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("marshal fetch result: %w", err)
		}
		return string(raw), nil
	}

	return definition, execute
}

// extractReadableText walks the parsed document collecting the title
// and visible text, skipping script and style subtrees.
func extractReadableText(rawHTML string) (string, string) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}

	var title string
	var builder strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				builder.WriteString(text)
				builder.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, strings.TrimSpace(builder.String())
}

func truncateExcerpt(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
