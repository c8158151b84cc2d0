package trace

import (
	"encoding/json"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// SourceKind discriminates how a source was discovered.
type SourceKind string

const (
	SourceKindSearch SourceKind = "search"
	SourceKindWeb    SourceKind = "web"
)

// Source is a citation surfaced by a tool, attached to the assistant
// message. Immutable once accumulated.
type Source struct {
	ID          string     `json:"id"`
	Kind        SourceKind `json:"kind"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet,omitempty"`
	Status      int        `json:"status,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	CreatedTs   int64      `json:"createdTs"`
}

// AppendSources merges incoming into existing under the policy bounds.
// Entries are deduplicated by URL with the first occurrence winning, so
// repeated tool results do not produce duplicates. Over MaxSources,
// entries drop from the oldest end; over MaxSourceChars (summed
// title+snippet length), oldest entries drop and the last remaining
// entry's snippet is truncated to fit.
func AppendSources(existing, incoming []Source, policy Policy) []Source {
	if policy.MaxSources <= 0 || policy.MaxSourceChars <= 0 {
		return nil
	}

	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]Source, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		merged = append(merged, s)
	}
	for _, s := range incoming {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		merged = append(merged, s)
	}

	if len(merged) > policy.MaxSources {
		merged = merged[len(merged)-policy.MaxSources:]
	}

	for len(merged) > 1 && sourceChars(merged) > policy.MaxSourceChars {
		merged = merged[1:]
	}

	if len(merged) > 0 && sourceChars(merged) > policy.MaxSourceChars {
		last := merged[len(merged)-1]
		overflow := sourceChars(merged) - policy.MaxSourceChars
		runes := []rune(last.Snippet)
		if overflow >= len(runes) {
			last.Snippet = ""
		} else {
			last.Snippet = string(runes[:len(runes)-overflow])
		}
		return []Source{last}
	}

	return merged
}

func sourceChars(sources []Source) int {
	total := 0
	for _, s := range sources {
		total += len([]rune(s.Title)) + len([]rune(s.Snippet))
	}
	return total
}

// searchToolResult mirrors the search tool's output payload.
type searchToolResult struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// fetchToolResult mirrors the web_fetch tool's output payload.
type fetchToolResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
}

// ExtractSources parses the raw result of a tool call into zero or more
// sources. Only search and web_fetch produce sources; other tools are a
// no-op. Malformed JSON yields zero sources rather than an error, and
// snippets are trimmed to maxSnippetChars here, before accumulation.
func ExtractSources(toolName, rawResult string, maxSnippetChars int) []Source {
	now := time.Now().UnixMilli()

	switch toolName {
	case "search":
		var parsed searchToolResult
		if err := json.Unmarshal([]byte(rawResult), &parsed); err != nil {
			return nil
		}
		sources := make([]Source, 0, len(parsed.Results))
		for _, r := range parsed.Results {
			if r.URL == "" {
				continue
			}
			sources = append(sources, Source{
				ID:        shortuuid.New(),
				Kind:      SourceKindSearch,
				Title:     r.Title,
				URL:       r.URL,
				Snippet:   trimSnippet(r.Snippet, maxSnippetChars),
				CreatedTs: now,
			})
		}
		return sources

	case "web_fetch":
		var parsed fetchToolResult
		if err := json.Unmarshal([]byte(rawResult), &parsed); err != nil {
			return nil
		}
		if parsed.URL == "" {
			return nil
		}
		return []Source{{
			ID:          shortuuid.New(),
			Kind:        SourceKindWeb,
			Title:       parsed.Title,
			URL:         parsed.URL,
			Status:      parsed.Status,
			ContentType: parsed.ContentType,
			CreatedTs:   now,
		}}

	default:
		// memory_* and code_exec results carry no citations.
		return nil
	}
}

func trimSnippet(snippet string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(snippet)
	if len(runes) <= maxChars {
		return snippet
	}
	return string(runes[:maxChars])
}
