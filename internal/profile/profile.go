package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM provider configuration (OpenAI-compatible protocol).
	LLMProvider string // Provider identifier: openai, deepseek, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMModel    string // Default chat model, seeded on first start
	LLMTimeout  int    // Per-request timeout in seconds (default: 120)

	// Title generation (cheap model, may differ from the chat model).
	TitleModel string

	// Tool backends.
	SearchBaseURL string // SearXNG-compatible search endpoint
	SandboxURL    string // Code execution sandbox endpoint

	// Orchestrator knobs.
	MaxToolIterations int // Bound on the generate -> tools loop (default: 10)

	// Trace accumulation policy overrides (0 keeps defaults, -1 collapses
	// the collection entirely).
	TraceMaxEvents     int
	TraceMaxChars      int
	TraceMaxSources    int
	TraceRetentionDays int

	Mode    string // dev, prod, demo
	Addr    string
	Port    int
	Data    string
	Driver  string // sqlite, postgres
	DSN     string
	Version string
}

// Provider default base URLs, applied when LLM_BASE_URL is unset.
var llmProviderDefaults = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434/v1",
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if a provider API key is configured.
// Ollama is the exception: it is a local provider and needs no key.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("PROCHAT_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("PROCHAT_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("PROCHAT_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("PROCHAT_LLM_MODEL", "gpt-4o-mini")
	p.LLMTimeout = getEnvOrDefaultInt("PROCHAT_LLM_TIMEOUT_SECONDS", 120)

	p.TitleModel = getEnvOrDefault("PROCHAT_TITLE_MODEL", "")

	p.SearchBaseURL = getEnvOrDefault("PROCHAT_SEARCH_BASE_URL", "")
	p.SandboxURL = getEnvOrDefault("PROCHAT_SANDBOX_URL", "")

	p.MaxToolIterations = getEnvOrDefaultInt("PROCHAT_MAX_TOOL_ITERATIONS", 10)

	p.TraceMaxEvents = getEnvOrDefaultInt("PROCHAT_TRACE_MAX_EVENTS", 0)
	p.TraceMaxChars = getEnvOrDefaultInt("PROCHAT_TRACE_MAX_CHARS", 0)
	p.TraceMaxSources = getEnvOrDefaultInt("PROCHAT_TRACE_MAX_SOURCES", 0)
	p.TraceRetentionDays = getEnvOrDefaultInt("PROCHAT_TRACE_RETENTION_DAYS", 0)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		p.LLMProvider = "openai"
	}
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = llmProviderDefaults[p.LLMProvider]
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case the user supplies one.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/prochat"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("prochat_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	// The memory directory backs the memory_read/memory_write tools.
	memoryDir := filepath.Join(p.Data, "memory")
	if err := os.MkdirAll(memoryDir, 0o750); err != nil {
		return errors.Wrapf(err, "unable to create memory folder %s", memoryDir)
	}

	return nil
}

// MemoryDir returns the directory holding agent memory files.
func (p *Profile) MemoryDir() string {
	return filepath.Join(p.Data, "memory")
}
