package tool

import (
	"context"
	"strings"

	"agentcli/internal/domain"
	"agentcli/internal/security"
)

// ShellTool runs one whitelisted program inside the workspace. There is no
// shell interpretation: args are split on whitespace and passed as argv.
type ShellTool struct {
	boundary *security.Boundary
}

func NewShellTool(b *security.Boundary) *ShellTool {
	return &ShellTool{boundary: b}
}

func (s *ShellTool) Name() string { return "run_shell_command" }

func (s *ShellTool) Description() string {
	return "Execute a whitelisted shell command (non-interactive) restricted to files under current working directory. Allowed: " +
		strings.Join(security.DefaultAllowed(), ", ") + "."
}

func (s *ShellTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "cmd", Description: "Whitelisted binary name to execute", Kind: domain.KindString, Required: true, NonEmpty: true},
		{Name: "args", Description: "Optional space-separated arguments passed to the command", Kind: domain.KindString},
	}
}

func (s *ShellTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	return s.boundary.Run(ctx, s.Name(), strings.TrimSpace(in.String("cmd")), strings.Fields(in.String("args")))
}

var _ domain.Tool = (*ShellTool)(nil)
