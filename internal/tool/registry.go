package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentcli/internal/domain"
	"agentcli/internal/metrics"
	"agentcli/internal/security"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrDuplicateTool = errors.New("tool already registered")
)

const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
	outcomeNotFound = "not_found"
	outcomeInvalid  = "invalid"
)

// Notifier receives the side-channel progress notice for each successful
// dispatch. It is not part of the conversation.
type Notifier interface {
	ToolNotice(name, rawArgs string)
}

// Registry holds the tool set in registration order and dispatches requests.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]domain.Tool
	order    []string
	notifier Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
}

type RegistryConfig struct {
	Notifier Notifier
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]domain.Tool),
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptors returns the gateway-facing projection of every tool, in
// registration order.
func (r *Registry) Descriptors() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, domain.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: InputSchema(t.Fields()),
		})
	}
	return defs
}

// Dispatch runs one tool request. Every outcome, including unknown tools,
// bad input, rejections and panics, comes back as a result value.
func (r *Registry) Dispatch(ctx context.Context, req domain.ToolRequest) domain.ToolResult {
	start := time.Now()
	res := domain.ToolResult{CorrelatesWith: req.ID}

	t, err := r.Get(req.Name)
	if err != nil {
		r.logger.Warn("tool not found", "tool", req.Name)
		r.metrics.ToolCall(req.Name, outcomeNotFound, time.Since(start))
		res.Failed = true
		res.Value = ErrToolNotFound.Error()
		return res
	}

	in, err := Validate(t, req.Arguments)
	if err != nil {
		r.logger.Info("tool input rejected", "tool", req.Name, "err", err)
		r.metrics.ToolCall(req.Name, outcomeInvalid, time.Since(start))
		res.Failed = true
		res.Value = "invalid input: " + err.Error()
		return res
	}

	out, err := r.execute(ctx, t, in)
	if err != nil {
		outcome := outcomeFailed
		if security.IsRejection(err) {
			outcome = outcomeRejected
			r.logger.Warn("tool rejected by safety boundary", "tool", req.Name, "reason", err)
		} else {
			r.logger.Info("tool failed", "tool", req.Name, "err", err)
		}
		r.metrics.ToolCall(req.Name, outcome, time.Since(start))
		res.Failed = true
		res.Value = err.Error()
		return res
	}

	r.metrics.ToolCall(req.Name, outcomeOK, time.Since(start))
	if r.notifier != nil {
		r.notifier.ToolNotice(req.Name, rawArgs(req.Arguments))
	}
	r.logger.Debug("tool completed", "tool", req.Name, "result_len", len(out))
	res.Value = out
	return res
}

func (r *Registry) execute(ctx context.Context, t domain.Tool, in domain.Input) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", t.Name(), "panic", p)
			out, err = "", fmt.Errorf("tool %s panicked: %v", t.Name(), p)
		}
	}()
	return t.Execute(ctx, in)
}

func rawArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
