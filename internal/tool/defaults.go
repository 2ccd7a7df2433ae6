package tool

import (
	"agentcli/internal/domain"
	"agentcli/internal/security"
)

// DefaultsConfig carries what the built-in tools need beyond the boundary.
type DefaultsConfig struct {
	Boundary *security.Boundary
	Renderer Renderer
}

// DefaultTools returns the built-in tool set in registration order.
func DefaultTools(cfg DefaultsConfig) []domain.Tool {
	b := cfg.Boundary
	return []domain.Tool{
		NewReadFileTool(b),
		NewListFilesTool(b),
		NewEditFileTool(b),
		NewCreateFileTool(b),
		NewShellTool(b),
		NewGitAddTool(b),
		NewGitCommitTool(b),
		NewGitStatusTool(b),
		NewGitLogTool(b),
		NewGitBranchTool(b),
		NewGitMergeTool(b),
		NewGitPullTool(b),
		NewURLFetchTool(URLFetchConfig{Renderer: cfg.Renderer}),
		NewWebSearchTool(WebSearchConfig{}),
	}
}

// RegisterDefaults registers every built-in tool.
func RegisterDefaults(r *Registry, cfg DefaultsConfig) error {
	for _, t := range DefaultTools(cfg) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
