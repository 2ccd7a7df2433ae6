package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrNoAPIKey = errors.New("missing API key")

// Config is the resolved configuration for one run.
type Config struct {
	Model            string
	MaxTokens        int
	Provider         string
	Failover         []string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
	OllamaHost       string
	SessionStore     string
	SessionDir       string
	DBPath           string
	AuditLog         bool
	ShellTimeout     time.Duration
	FetchRenderer    string
	LogLevel         string
	UserDir          string

	// Sources lists the contributing sources in merge order.
	Sources  []string
	Warnings []string

	values     map[string]string
	keySources map[string]string
}

// LoadOptions controls where Load looks. Zero values mean the real
// environment, working directory and user config directory.
type LoadOptions struct {
	ExplicitPath string
	WorkDir      string
	UserDir      string
	LookupEnv    func(string) (string, bool)
}

// UserConfigDir returns the per-user config directory.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "agent")
		}
		return filepath.Join(home, ".agent")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agent")
	}
	return filepath.Join(home, ".config", "agent")
}

// Load merges every source, lowest precedence first, so later sources win
// key by key.
func Load(opts LoadOptions) (*Config, error) {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.UserDir == "" {
		opts.UserDir = UserConfigDir()
	}
	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		opts.WorkDir = wd
	}

	cfg := Defaults(opts.UserDir)
	l := &loader{cfg: cfg}

	legacy := filepath.Join(opts.WorkDir, ".env")
	n, err := l.mergeFile(legacy, ".env (legacy)")
	if err != nil {
		return nil, err
	}
	if n > 0 {
		cfg.Warnings = append(cfg.Warnings, "Using legacy .env; migrate to "+filepath.Join(opts.UserDir, "config.env"))
	}

	for _, name := range []string{"config.env", "config.json", "config.yaml"} {
		p := filepath.Join(opts.UserDir, name)
		if _, err := l.mergeFile(p, "user:"+p); err != nil {
			return nil, err
		}
	}

	if _, err := l.mergeFile(filepath.Join(opts.WorkDir, ".agent.env"), ".agent.env"); err != nil {
		return nil, err
	}

	if envPath, ok := opts.LookupEnv("AGENT_CONFIG"); ok && envPath != "" {
		if _, err := l.mergeFile(absFrom(opts.WorkDir, envPath), "AGENT_CONFIG="+envPath); err != nil {
			return nil, err
		}
	}

	if opts.ExplicitPath != "" {
		if _, err := l.mergeFile(absFrom(opts.WorkDir, ExpandPath(opts.ExplicitPath)), "--config "+opts.ExplicitPath); err != nil {
			return nil, err
		}
	}

	fromEnv := false
	for _, key := range envFallbackKeys {
		if _, set := cfg.values[key]; set {
			continue
		}
		if v, ok := opts.LookupEnv(key); ok && v != "" {
			cfg.values[key] = v
			cfg.keySources[key] = "env"
			fromEnv = true
		}
	}
	if fromEnv {
		cfg.Sources = append(cfg.Sources, "env")
	}

	if err := cfg.apply(); err != nil {
		return nil, err
	}
	if key := cfg.requiredKeyName(); key != "" && cfg.APIKey() == "" {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("Missing %s (required).", key))
	}
	return cfg, nil
}

type loader struct {
	cfg *Config
}

// mergeFile merges one file when it exists and returns how many keys it set.
func (l *loader) mergeFile(path, label string) (int, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	values, err := parseFile(path, data)
	if err != nil {
		return 0, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o022 != 0 {
		l.cfg.Warnings = append(l.cfg.Warnings, path+" is group/other writable")
	}
	for k, v := range values {
		l.cfg.values[k] = ExpandEnvVars(v)
		l.cfg.keySources[k] = label
	}
	if len(values) > 0 {
		l.cfg.Sources = append(l.cfg.Sources, label)
	}
	return len(values), nil
}

func parseFile(path string, data []byte) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return stringify(raw), nil
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return stringify(raw), nil
	default:
		return godotenv.Parse(bytes.NewReader(data))
	}
}

// stringify flattens scalar values to strings; nulls are dropped.
func stringify(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[k] = strings.Join(parts, ",")
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// apply copies merged values onto the typed fields.
func (c *Config) apply() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := c.values[key]; ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str(KeyModel, &c.Model)
	str(KeyProvider, &c.Provider)
	str(KeyAnthropicAPIKey, &c.AnthropicAPIKey)
	str(KeyAnthropicBaseURL, &c.AnthropicBaseURL)
	str(KeyGeminiAPIKey, &c.GeminiAPIKey)
	str(KeyOllamaHost, &c.OllamaHost)
	str(KeySessionStore, &c.SessionStore)
	str(KeyDBPath, &c.DBPath)
	str(KeyFetchRenderer, &c.FetchRenderer)
	str(KeyLogLevel, &c.LogLevel)
	c.Provider = strings.ToLower(c.Provider)
	c.SessionStore = strings.ToLower(c.SessionStore)
	c.FetchRenderer = strings.ToLower(c.FetchRenderer)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.DBPath = ExpandPath(c.DBPath)

	if v, ok := c.values[KeySessionDir]; ok && strings.TrimSpace(v) != "" {
		abs, err := filepath.Abs(ExpandPath(strings.TrimSpace(v)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", KeySessionDir, err))
		} else {
			c.SessionDir = abs
		}
	}

	if v, ok := c.values[KeyMaxTokens]; ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer, got %q", KeyMaxTokens, v))
		} else {
			c.MaxTokens = n
		}
	}

	if v, ok := c.values[KeyFailover]; ok {
		c.Failover = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				c.Failover = append(c.Failover, name)
			}
		}
	}

	if v, ok := c.values[KeyAuditLog]; ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be true or false, got %q", KeyAuditLog, v))
		} else {
			c.AuditLog = b
		}
	}

	if v, ok := c.values[KeyShellTimeout]; ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("%s must be a non-negative number of seconds, got %q", KeyShellTimeout, v))
		} else {
			c.ShellTimeout = time.Duration(n) * time.Second
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// requiredKeyName names the API key the selected provider needs, or "" when
// it needs none.
func (c *Config) requiredKeyName() string {
	switch c.Provider {
	case "anthropic":
		return KeyAnthropicAPIKey
	case "gemini":
		return KeyGeminiAPIKey
	default:
		return ""
	}
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// RequireAPIKey fails when the selected provider needs a key that is unset.
func (c *Config) RequireAPIKey() error {
	if key := c.requiredKeyName(); key != "" && c.APIKey() == "" {
		return fmt.Errorf("%w: %s", ErrNoAPIKey, key)
	}
	return nil
}

var (
	knownProviders = map[string]bool{"anthropic": true, "gemini": true, "ollama": true}
	knownStores    = map[string]bool{"file": true, "sqlite": true, "none": true}
	knownRenderers = map[string]bool{"http": true, "chrome": true}
	knownLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.MaxTokens < 1 {
		errs = append(errs, "MAX_TOKENS must be >= 1")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		errs = append(errs, "MODEL must not be empty")
	}
	if !knownProviders[cfg.Provider] {
		errs = append(errs, "PROVIDER must be one of: anthropic, gemini, ollama")
	}
	for _, name := range cfg.Failover {
		if !knownProviders[name] {
			errs = append(errs, fmt.Sprintf("FAILOVER references unknown provider: %s", name))
		}
	}
	if !knownStores[cfg.SessionStore] {
		errs = append(errs, "SESSION_STORE must be one of: file, sqlite, none")
	}
	if !knownRenderers[cfg.FetchRenderer] {
		errs = append(errs, "FETCH_RENDERER must be one of: http, chrome")
	}
	if !knownLevels[cfg.LogLevel] {
		errs = append(errs, "LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WriteTemplate creates path with the starter template. It reports false
// without touching the file when it already exists.
func WriteTemplate(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0o600); err != nil {
		return false, fmt.Errorf("cannot write config template: %w", err)
	}
	return true, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func absFrom(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
