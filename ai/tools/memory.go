package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const memoryMaxBytes = 64 << 10 // 64 KiB per file

// NewMemoryReadTool returns the tool that reads a named memory file
// under the memory directory.
func NewMemoryReadTool(memoryDir string) (Definition, Executor) {
	definition := Definition{
		Name:        "memory_read",
		Description: "Read a named memory file persisted across conversations.",
		Parameters: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Memory file name, e.g. notes"}
			},
			"required": ["name"]
		}`,
	}

	execute := func(ctx context.Context, arguments string) (string, error) {
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid memory_read arguments: %w", err)
		}

		path, err := memoryPath(memoryDir, args.Name)
		if err != nil {
			return "", err
		}

		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return marshalMemoryResult(MemoryResult{Content: ""})
		}
		if err != nil {
			return "", fmt.Errorf("read memory file: %w", err)
		}
		return marshalMemoryResult(MemoryResult{Content: string(content)})
	}

	return definition, execute
}

// NewMemoryWriteTool returns the tool that writes a named memory file
// under the memory directory, replacing previous content.
func NewMemoryWriteTool(memoryDir string) (Definition, Executor) {
	definition := Definition{
		Name:        "memory_write",
		Description: "Write a named memory file persisted across conversations. Replaces existing content.",
		Parameters: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Memory file name, e.g. notes"},
				"content": {"type": "string", "description": "Content to store"}
			},
			"required": ["name", "content"]
		}`,
	}

	execute := func(ctx context.Context, arguments string) (string, error) {
		var args struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid memory_write arguments: %w", err)
		}
		if len(args.Content) > memoryMaxBytes {
			return "", fmt.Errorf("memory content exceeds %d bytes", memoryMaxBytes)
		}

		path, err := memoryPath(memoryDir, args.Name)
		if err != nil {
			return "", err
		}

		if err := os.WriteFile(path, []byte(args.Content), 0o600); err != nil {
			return "", fmt.Errorf("write memory file: %w", err)
		}
		return marshalMemoryResult(MemoryResult{Written: true})
	}

	return definition, execute
}

// memoryPath resolves a memory name to a file path, rejecting names
// that would escape the memory directory.
func memoryPath(memoryDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid memory name")
	}
	return filepath.Join(memoryDir, name+".md"), nil
}

func marshalMemoryResult(result MemoryResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal memory result: %w", err)
	}
	return string(raw), nil
}
