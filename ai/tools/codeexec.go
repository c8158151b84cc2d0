package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const codeExecTimeout = 60 * time.Second

// NewCodeExecTool returns the sandboxed code execution tool. Source is
// POSTed to the configured runner; the runner enforces isolation and
// resource limits.
func NewCodeExecTool(sandboxURL string) (Definition, Executor) {
	definition := Definition{
		Name:        "code_exec",
		Description: "Execute a short program in a sandbox. Returns stdout, stderr and the exit code.",
		Parameters: `{
			"type": "object",
			"properties": {
				"language": {"type": "string", "description": "Programming language, e.g. python"},
				"source": {"type": "string", "description": "Program source code"}
			},
			"required": ["language", "source"]
		}`,
	}

	client := &http.Client{Timeout: codeExecTimeout}

	execute := func(ctx context.Context, arguments string) (string, error) {
		var args struct {
			Language string `json:"language"`
			Source   string `json:"source"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid code_exec arguments: %w", err)
		}
		if args.Source == "" {
			return "", fmt.Errorf("source is required")
		}

		payload, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("marshal code_exec payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sandboxURL+"/run", bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("build code_exec request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("sandbox request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("sandbox returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read sandbox response: %w", err)
		}

		// Validate the runner payload before echoing it back.
		var result CodeExecutionResult
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("parse sandbox response: %w", err)
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("marshal code_exec result: %w", err)
		}
		return string(raw), nil
	}

	return definition, execute
}
