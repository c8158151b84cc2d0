package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchSource(url, title, snippet string) Source {
	return Source{Kind: SourceKindSearch, Title: title, URL: url, Snippet: snippet}
}

func TestAppendSourcesDeduplicatesByURL(t *testing.T) {
	policy := testPolicy()

	existing := []Source{searchSource("https://a.example", "first", "")}
	incoming := []Source{
		searchSource("https://a.example", "duplicate", ""),
		searchSource("https://b.example", "second", ""),
	}

	merged := AppendSources(existing, incoming, policy)
	require.Len(t, merged, 2)
	// First occurrence wins.
	assert.Equal(t, "first", merged[0].Title)
	assert.Equal(t, "second", merged[1].Title)

	urls := make(map[string]int)
	for _, s := range merged {
		urls[s.URL]++
	}
	for url, count := range urls {
		assert.Equal(t, 1, count, "duplicate url %s", url)
	}
}

func TestAppendSourcesDropsOldestOverMaxSources(t *testing.T) {
	policy := Policy{MaxSources: 2, MaxSourceChars: 1000}

	merged := AppendSources(nil, []Source{
		searchSource("https://1.example", "one", ""),
		searchSource("https://2.example", "two", ""),
		searchSource("https://3.example", "three", ""),
	}, policy)

	require.Len(t, merged, 2)
	assert.Equal(t, "two", merged[0].Title)
	assert.Equal(t, "three", merged[1].Title)
}

func TestAppendSourcesCharBudgetTruncatesLastSnippet(t *testing.T) {
	policy := Policy{MaxSources: 10, MaxSourceChars: 20}

	merged := AppendSources(nil, []Source{
		{Kind: SourceKindSearch, URL: "https://a.example", Title: strings.Repeat("t", 30)},
		{Kind: SourceKindSearch, URL: "https://b.example", Title: "tail", Snippet: strings.Repeat("s", 30)},
	}, policy)

	require.Len(t, merged, 1)
	assert.Equal(t, "tail", merged[0].Title)
	assert.Equal(t, 20, len([]rune(merged[0].Title))+len([]rune(merged[0].Snippet)))
}

func TestAppendSourcesKillSwitch(t *testing.T) {
	merged := AppendSources(nil, []Source{searchSource("https://a.example", "one", "")}, Policy{MaxSources: 0, MaxSourceChars: 100})
	assert.Empty(t, merged)
}

func TestExtractSourcesFromSearchResult(t *testing.T) {
	raw := `{"results":[
		{"title":"Go","url":"https://go.dev","snippet":"The Go programming language"},
		{"title":"No URL","url":"","snippet":"dropped"},
		{"title":"Docs","url":"https://go.dev/doc","snippet":"` + strings.Repeat("d", 100) + `"}
	]}`

	sources := ExtractSources("search", raw, 10)
	require.Len(t, sources, 2)
	assert.Equal(t, SourceKindSearch, sources[0].Kind)
	assert.Equal(t, "https://go.dev", sources[0].URL)
	// Snippets are trimmed at extraction, before accumulation.
	assert.Equal(t, "The Go pro", sources[0].Snippet)
	assert.Equal(t, strings.Repeat("d", 10), sources[1].Snippet)
}

func TestExtractSourcesFromFetchResult(t *testing.T) {
	raw := `{"url":"https://example.com","title":"Example","status":200,"contentType":"text/html"}`

	sources := ExtractSources("web_fetch", raw, 100)
	require.Len(t, sources, 1)
	assert.Equal(t, SourceKindWeb, sources[0].Kind)
	assert.Equal(t, 200, sources[0].Status)
	assert.Equal(t, "text/html", sources[0].ContentType)
}

func TestExtractSourcesMalformedJSON(t *testing.T) {
	assert.Empty(t, ExtractSources("search", "{not json", 100))
	assert.Empty(t, ExtractSources("web_fetch", "", 100))
}

func TestExtractSourcesNoOpTools(t *testing.T) {
	assert.Empty(t, ExtractSources("memory_read", `{"content":"notes"}`, 100))
	assert.Empty(t, ExtractSources("code_exec", `{"stdout":"hi"}`, 100))
}
