package domain

import "context"

// AuditLogger records safety boundary decisions.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	Action   string // command_allowed | command_blocked | path_blocked
	ToolName string
	Command  string
	Result   string // allowed | blocked
	Details  string
}
