package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"agentcli/internal/domain"
)

const (
	DefaultMaxOutput = 8000
	TruncationMarker = "...<truncated>"
)

// DefaultAllowed is the executable whitelist used when none is configured.
func DefaultAllowed() []string {
	return []string{"ls", "cat", "echo", "grep", "head", "tail", "node", "tsc", "npm", "npx", "git"}
}

// RejectionError reports a whitelist or containment violation. It is kept
// apart from execution failures so callers can tell the two apart.
type RejectionError struct {
	Reason  string
	Subject string
}

func (e *RejectionError) Error() string { return e.Reason }

// IsRejection reports whether err is, or wraps, a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// ExitError is a process that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit %d: %s", e.Code, e.Output())
}

// Output prefers stderr, falling back to stdout.
func (e *ExitError) Output() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Stdout
}

type BoundaryConfig struct {
	Workspace string
	Allowed   []string
	MaxOutput int
	Timeout   time.Duration // zero means no limit
	Audit     domain.AuditLogger
	Logger    *slog.Logger
}

// Boundary gates process spawning and filesystem access to one workspace.
type Boundary struct {
	workspace string
	allowed   map[string]bool
	maxOutput int
	timeout   time.Duration
	audit     domain.AuditLogger
	logger    *slog.Logger
}

func NewBoundary(cfg BoundaryConfig) (*Boundary, error) {
	ws := cfg.Workspace
	if ws == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		ws = wd
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if evaled, err := filepath.EvalSymlinks(abs); err == nil {
		abs = evaled
	}
	if cfg.Allowed == nil {
		cfg.Allowed = DefaultAllowed()
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.Allowed))
	for _, a := range cfg.Allowed {
		allowed[a] = true
	}
	return &Boundary{
		workspace: filepath.Clean(abs),
		allowed:   allowed,
		maxOutput: cfg.MaxOutput,
		timeout:   cfg.Timeout,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
	}, nil
}

func (b *Boundary) Workspace() string { return b.workspace }

// CheckCommand rejects executables outside the whitelist.
func (b *Boundary) CheckCommand(ctx context.Context, toolName, name string) error {
	if !b.allowed[name] {
		b.logger.Warn("command blocked", "tool", toolName, "command", name)
		b.logAction(ctx, "command_blocked", toolName, name, "blocked", "not in whitelist")
		return &RejectionError{Reason: "command not allowed: " + name, Subject: name}
	}
	return nil
}

// Resolve maps p onto an absolute path inside the workspace. Symlinks in the
// existing part of the path are followed before containment is checked.
func (b *Boundary) Resolve(p string) (string, error) {
	resolved := p
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(b.workspace, resolved)
	}
	resolved = filepath.Clean(resolved)
	evaled, err := evalExisting(resolved, 0)
	if err != nil || !b.contains(evaled) {
		return "", &RejectionError{Reason: "path escapes workspace: " + p, Subject: p}
	}
	return evaled, nil
}

const maxLinkDepth = 40

// evalExisting resolves symlinks along the longest existing prefix of p and
// appends the missing tail. A dangling link is followed to its target.
func evalExisting(p string, depth int) (string, error) {
	if depth > maxLinkDepth {
		return "", fmt.Errorf("too many links: %s", p)
	}
	var tail []string
	cur := p
	for {
		evaled, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{evaled}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(cur)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			return evalExisting(filepath.Join(append([]string{target}, tail...)...), depth+1)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

// CheckPath is Resolve plus logging and auditing of rejections.
func (b *Boundary) CheckPath(ctx context.Context, toolName, p string) (string, error) {
	resolved, err := b.Resolve(p)
	if err != nil {
		b.logger.Warn("path blocked", "tool", toolName, "path", p)
		b.logAction(ctx, "path_blocked", toolName, p, "blocked", "outside "+b.workspace)
		return "", err
	}
	return resolved, nil
}

// CheckArgs applies containment to every argument that looks like a path:
// either it contains a separator or it exists on disk. For options such as
// --git-dir=/x or -f/x the value is checked when it contains a separator.
func (b *Boundary) CheckArgs(ctx context.Context, toolName string, args []string) error {
	for _, a := range args {
		p, ok := b.pathOperand(a)
		if !ok {
			continue
		}
		if _, err := b.CheckPath(ctx, toolName, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *Boundary) pathOperand(arg string) (string, bool) {
	if arg == "" {
		return "", false
	}
	if strings.HasPrefix(arg, "-") {
		var val string
		switch {
		case strings.Contains(arg, "="):
			val = arg[strings.Index(arg, "=")+1:]
		case !strings.HasPrefix(arg, "--") && len(arg) > 2:
			val = arg[2:]
		}
		return val, hasSeparator(val)
	}
	if hasSeparator(arg) {
		return arg, true
	}
	candidate := arg
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(b.workspace, candidate)
	}
	_, err := os.Stat(candidate)
	return arg, err == nil
}

func hasSeparator(s string) bool {
	return strings.ContainsRune(s, '/') || strings.ContainsRune(s, filepath.Separator)
}

func (b *Boundary) contains(abs string) bool {
	rel, err := filepath.Rel(b.workspace, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Output is the captured streams of a finished process.
type Output struct {
	Stdout string
	Stderr string
}

// Run checks name and every path-like argument, then executes the program in
// the workspace. It returns stdout, or stderr when stdout is empty, truncated.
func (b *Boundary) Run(ctx context.Context, toolName, name string, args []string) (string, error) {
	if err := b.CheckCommand(ctx, toolName, name); err != nil {
		return "", err
	}
	if err := b.CheckArgs(ctx, toolName, args); err != nil {
		return "", err
	}
	out, err := b.Exec(ctx, toolName, name, args)
	if err != nil {
		return "", err
	}
	s := out.Stdout
	if s == "" {
		s = out.Stderr
	}
	return b.Truncate(s), nil
}

// Exec checks only the executable name; callers that know which arguments
// are paths check them with CheckArgs first.
func (b *Boundary) Exec(ctx context.Context, toolName, name string, args []string) (*Output, error) {
	if err := b.CheckCommand(ctx, toolName, name); err != nil {
		return nil, err
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = b.workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Debug("spawning process", "tool", toolName, "command", name, "args", args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: command timed out or cancelled", name)
			}
			return nil, &ExitError{
				Code:   exitErr.ExitCode(),
				Stdout: b.Truncate(stdout.String()),
				Stderr: b.Truncate(stderr.String()),
			}
		}
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	b.logAction(ctx, "command_allowed", toolName, commandLine(name, args), "allowed", "")
	return &Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Truncate bounds s to the configured number of characters.
func (b *Boundary) Truncate(s string) string {
	return Truncate(s, b.maxOutput)
}

func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + TruncationMarker
}

func (b *Boundary) logAction(ctx context.Context, action, toolName, command, result, details string) {
	if b.audit == nil {
		return
	}
	err := b.audit.LogAudit(ctx, domain.AuditEntry{
		Action:   action,
		ToolName: toolName,
		Command:  command,
		Result:   result,
		Details:  details,
	})
	if err != nil {
		b.logger.Debug("audit write failed", "err", err)
	}
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
