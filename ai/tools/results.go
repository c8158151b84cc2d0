package tools

import "encoding/json"

// ResultKind discriminates the decoded form of a tool result.
type ResultKind string

const (
	ResultKindSearch        ResultKind = "search"
	ResultKindFetch         ResultKind = "fetch"
	ResultKindCodeExecution ResultKind = "code_execution"
	ResultKindMemory        ResultKind = "memory"
	ResultKindError         ResultKind = "error"
)

// SearchResults is the payload of the search tool.
type SearchResults struct {
	Query   string `json:"query"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// FetchResult is the payload of the web_fetch tool.
type FetchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Excerpt     string `json:"excerpt,omitempty"`
}

// CodeExecutionResult is the payload of the code_exec tool.
type CodeExecutionResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode"`
}

// MemoryResult is the payload of the memory_read and memory_write tools.
type MemoryResult struct {
	Content string `json:"content,omitempty"`
	Written bool   `json:"written,omitempty"`
}

// ErrorResult is the shared failure payload any tool can produce.
type ErrorResult struct {
	Error string `json:"error"`
}

// Result is the tagged union of decoded tool outputs. Exactly one of
// the pointer fields is set for the corresponding Kind.
type Result struct {
	Kind          ResultKind
	Search        *SearchResults
	Fetch         *FetchResult
	CodeExecution *CodeExecutionResult
	Memory        *MemoryResult
	Error         *ErrorResult
}

// DecodeResult parses a raw tool result into its tagged variant at the
// dispatch boundary. A payload that fails to decode, or carries an
// "error" key, decodes as ResultKindError.
func DecodeResult(toolName, raw string) Result {
	var probe ErrorResult
	if err := json.Unmarshal([]byte(raw), &probe); err == nil && probe.Error != "" {
		return Result{Kind: ResultKindError, Error: &probe}
	}

	switch toolName {
	case "search":
		var parsed SearchResults
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return decodeFailure(err)
		}
		return Result{Kind: ResultKindSearch, Search: &parsed}
	case "web_fetch":
		var parsed FetchResult
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return decodeFailure(err)
		}
		return Result{Kind: ResultKindFetch, Fetch: &parsed}
	case "code_exec":
		var parsed CodeExecutionResult
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return decodeFailure(err)
		}
		return Result{Kind: ResultKindCodeExecution, CodeExecution: &parsed}
	case "memory_read", "memory_write":
		var parsed MemoryResult
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return decodeFailure(err)
		}
		return Result{Kind: ResultKindMemory, Memory: &parsed}
	default:
		return Result{Kind: ResultKindError, Error: &ErrorResult{Error: "unknown tool: " + toolName}}
	}
}

func decodeFailure(err error) Result {
	return Result{Kind: ResultKindError, Error: &ErrorResult{Error: "malformed tool result: " + err.Error()}}
}
