// Package provider builds the inference gateways the turn controller talks
// to: Anthropic, Gemini and Ollama, optionally chained for failover.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"agentcli/internal/config"
	"agentcli/internal/domain"
)

// HealthChecker is implemented by gateways that can be health-checked without
// spending tokens.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Constructor builds a gateway. model is empty for the primary gateway,
// which uses the configured MODEL; failover members get their own default.
type Constructor func(ctx context.Context, cfg *config.Config, model string, client *http.Client, logger *slog.Logger) (domain.Gateway, error)

// Factory creates and caches gateways from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	client       *http.Client
	constructors map[string]Constructor
	cache        map[string]domain.Gateway
	mu           sync.Mutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		client:       newGatewayClient(defaultHTTPTimeout),
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Gateway),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds or replaces a gateway constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["anthropic"] = func(_ context.Context, cfg *config.Config, model string, client *http.Client, logger *slog.Logger) (domain.Gateway, error) {
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: %s", config.ErrNoAPIKey, config.KeyAnthropicAPIKey)
		}
		return NewAnthropic(AnthropicConfig{
			APIKey:     cfg.AnthropicAPIKey,
			BaseURL:    cfg.AnthropicBaseURL,
			Model:      model,
			HTTPClient: client,
			Logger:     logger,
		}), nil
	}
	f.constructors["gemini"] = func(ctx context.Context, cfg *config.Config, model string, client *http.Client, logger *slog.Logger) (domain.Gateway, error) {
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: %s", config.ErrNoAPIKey, config.KeyGeminiAPIKey)
		}
		return NewGemini(ctx, GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Model:      model,
			HTTPClient: client,
			Logger:     logger,
		})
	}
	f.constructors["ollama"] = func(_ context.Context, cfg *config.Config, model string, client *http.Client, logger *slog.Logger) (domain.Gateway, error) {
		return NewOllama(OllamaConfig{
			APIBase:    cfg.OllamaHost,
			Model:      model,
			HTTPClient: client,
			Logger:     logger,
		}), nil
	}
}

// fallbackModels is used for failover members, since MODEL names the
// primary provider's model.
var fallbackModels = map[string]string{
	"anthropic": config.DefaultModel,
	"gemini":    geminiDefaultModel,
	"ollama":    ollamaDefaultModel,
}

// Get returns the named gateway, creating it on first use.
func (f *Factory) Get(ctx context.Context, name string) (domain.Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(ctx, name, name != f.cfg.Provider)
}

func (f *Factory) get(ctx context.Context, name string, fallback bool) (domain.Gateway, error) {
	if g, ok := f.cache[name]; ok {
		return g, nil
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	model := ""
	if fallback {
		model = fallbackModels[name]
	}
	g, err := ctor(ctx, f.cfg, model, f.client, f.logger.With("gateway", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	f.cache[name] = g
	return g, nil
}

// Gateway returns the configured provider, wrapped in a failover chain when
// FAILOVER lists further providers. Failover members that cannot be built
// (usually a missing key) are skipped with a warning.
func (f *Factory) Gateway(ctx context.Context) (domain.Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	primary, err := f.get(ctx, f.cfg.Provider, false)
	if err != nil {
		return nil, err
	}
	chain := []domain.Gateway{primary}
	seen := map[string]bool{f.cfg.Provider: true}
	for _, name := range f.cfg.Failover {
		if seen[name] {
			continue
		}
		seen[name] = true
		g, err := f.get(ctx, name, true)
		if err != nil {
			f.logger.Warn("skipping failover provider", "provider", name, "error", err)
			continue
		}
		chain = append(chain, g)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailover(chain, f.logger), nil
}
