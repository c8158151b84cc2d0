package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	registry := NewRegistry()

	raw := registry.Dispatch(context.Background(), "nonexistent", "{}")

	var result ErrorResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.Contains(t, result.Error, "unknown tool")
}

func TestRegistry_DispatchExecutorError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{Name: "boom"}, func(ctx context.Context, arguments string) (string, error) {
		return "", fmt.Errorf("connection refused")
	})

	raw := registry.Dispatch(context.Background(), "boom", "{}")

	var result ErrorResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.Contains(t, result.Error, "connection refused")
}

func TestRegistry_DispatchSuccess(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{Name: "echo"}, func(ctx context.Context, arguments string) (string, error) {
		return arguments, nil
	})

	raw := registry.Dispatch(context.Background(), "echo", `{"hello":"world"}`)
	assert.Equal(t, `{"hello":"world"}`, raw)
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	registry := NewRegistry()
	noop := func(ctx context.Context, arguments string) (string, error) { return "{}", nil }
	registry.Register(Definition{Name: "web_fetch"}, noop)
	registry.Register(Definition{Name: "search"}, noop)
	registry.Register(Definition{Name: "code_exec"}, noop)

	definitions := registry.Definitions()
	require.Len(t, definitions, 3)
	assert.Equal(t, "code_exec", definitions[0].Name)
	assert.Equal(t, "search", definitions[1].Name)
	assert.Equal(t, "web_fetch", definitions[2].Name)
}

func TestDecodeResult_SearchVariant(t *testing.T) {
	raw := `{"query":"golang","results":[{"title":"Go","url":"https://go.dev","snippet":"The Go language"}]}`

	result := DecodeResult("search", raw)
	require.Equal(t, ResultKindSearch, result.Kind)
	require.NotNil(t, result.Search)
	require.Len(t, result.Search.Results, 1)
	assert.Equal(t, "https://go.dev", result.Search.Results[0].URL)
}

func TestDecodeResult_ErrorVariantWins(t *testing.T) {
	result := DecodeResult("search", `{"error":"rate limited"}`)
	require.Equal(t, ResultKindError, result.Kind)
	assert.Equal(t, "rate limited", result.Error.Error)
}

func TestDecodeResult_MalformedJSON(t *testing.T) {
	result := DecodeResult("web_fetch", `{not json`)
	require.Equal(t, ResultKindError, result.Kind)
	assert.Contains(t, result.Error.Error, "malformed")
}

func TestDecodeResult_MemoryVariant(t *testing.T) {
	result := DecodeResult("memory_read", `{"content":"remember this"}`)
	require.Equal(t, ResultKindMemory, result.Kind)
	assert.Equal(t, "remember this", result.Memory.Content)
}

func TestMemoryTools_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, write := NewMemoryWriteTool(dir)
	raw, err := write(ctx, `{"name":"notes","content":"hello"}`)
	require.NoError(t, err)

	var writeResult MemoryResult
	require.NoError(t, json.Unmarshal([]byte(raw), &writeResult))
	assert.True(t, writeResult.Written)

	_, read := NewMemoryReadTool(dir)
	raw, err = read(ctx, `{"name":"notes"}`)
	require.NoError(t, err)

	var readResult MemoryResult
	require.NoError(t, json.Unmarshal([]byte(raw), &readResult))
	assert.Equal(t, "hello", readResult.Content)

	content, err := os.ReadFile(filepath.Join(dir, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestMemoryTools_MissingFileReadsEmpty(t *testing.T) {
	_, read := NewMemoryReadTool(t.TempDir())

	raw, err := read(context.Background(), `{"name":"missing"}`)
	require.NoError(t, err)

	var result MemoryResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.Empty(t, result.Content)
}

func TestMemoryTools_RejectsPathTraversal(t *testing.T) {
	_, read := NewMemoryReadTool(t.TempDir())

	_, err := read(context.Background(), `{"name":"../secrets"}`)
	require.Error(t, err)

	_, write := NewMemoryWriteTool(t.TempDir())
	_, err = write(context.Background(), `{"name":"a/b","content":"x"}`)
	require.Error(t, err)
}

func TestExtractReadableText(t *testing.T) {
	title, text := extractReadableText(`<html><head><title>My Page</title><style>.x{}</style></head>
		<body><script>alert(1)</script><p>Visible paragraph.</p></body></html>`)

	assert.Equal(t, "My Page", title)
	assert.Contains(t, text, "Visible paragraph.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, ".x{}")
}
