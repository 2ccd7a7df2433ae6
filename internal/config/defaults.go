package config

import "path/filepath"

// Recognised keys.
const (
	KeyModel            = "MODEL"
	KeyMaxTokens        = "MAX_TOKENS"
	KeyProvider         = "PROVIDER"
	KeyFailover         = "FAILOVER"
	KeyAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	KeyAnthropicBaseURL = "ANTHROPIC_BASE_URL"
	KeyGeminiAPIKey     = "GEMINI_API_KEY"
	KeyOllamaHost       = "OLLAMA_HOST"
	KeySessionStore     = "SESSION_STORE"
	KeySessionDir       = "AGENT_SESSION_DIR"
	KeyDBPath           = "DB_PATH"
	KeyAuditLog         = "AUDIT_LOG"
	KeyShellTimeout     = "SHELL_TIMEOUT"
	KeyFetchRenderer    = "FETCH_RENDERER"
	KeyLogLevel         = "LOG_LEVEL"
)

const (
	DefaultModel     = "claude-3-7-sonnet-20250219"
	DefaultMaxTokens = 1024
	DefaultOllama    = "http://localhost:11434"
)

// envFallbackKeys are read from the process environment when no config file
// sets them.
var envFallbackKeys = []string{
	KeyAnthropicAPIKey,
	KeyAnthropicBaseURL,
	KeyGeminiAPIKey,
	KeyOllamaHost,
	KeySessionDir,
}

// Defaults returns the configuration used when no source sets a key.
func Defaults(userDir string) *Config {
	return &Config{
		Model:         DefaultModel,
		MaxTokens:     DefaultMaxTokens,
		Provider:      "anthropic",
		OllamaHost:    DefaultOllama,
		SessionStore:  "file",
		SessionDir:    filepath.Join(userDir, "sessions", "projects"),
		DBPath:        filepath.Join(userDir, "agent.db"),
		FetchRenderer: "http",
		LogLevel:      "warn",
		UserDir:       userDir,
		values:        make(map[string]string),
		keySources:    make(map[string]string),
	}
}

// Template is written by the init command.
const Template = "ANTHROPIC_API_KEY=\nMODEL=" + DefaultModel + "\nMAX_TOKENS=1024\n"
