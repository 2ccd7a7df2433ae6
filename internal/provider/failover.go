package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentcli/internal/domain"
)

// Failover tries gateways in order, moving to the next one when the current
// fails. Cancellation stops the chain immediately.
type Failover struct {
	gateways []domain.Gateway
	logger   *slog.Logger
}

func NewFailover(gateways []domain.Gateway, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{gateways: gateways, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.gateways))
	for i, g := range f.gateways {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Infer returns the first successful response.
func (f *Failover) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	if len(f.gateways) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, g := range f.gateways {
		resp, err := g.Infer(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback gateway", "gateway", g.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.logger.Warn("failover: gateway failed, trying next",
			"gateway", g.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("all gateways in failover chain failed: %w", lastErr)
}

// Healthy reports success when any gateway in the chain that can be checked
// is healthy.
func (f *Failover) Healthy(ctx context.Context) error {
	checked := false
	for _, g := range f.gateways {
		hc, ok := g.(HealthChecker)
		if !ok {
			continue
		}
		checked = true
		if hc.Healthy(ctx) == nil {
			return nil
		}
	}
	if !checked {
		return nil
	}
	return errors.New("no healthy gateway in failover chain")
}

var _ domain.Gateway = (*Failover)(nil)
