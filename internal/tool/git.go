package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentcli/internal/domain"
	"agentcli/internal/security"
)

// gitRunner spawns git through the safety boundary. Only arguments known to
// be paths are containment-checked by the individual tools.
type gitRunner struct {
	boundary *security.Boundary
}

// run returns git's stdout. A non-zero exit becomes stderr, or
// "git <sub> failed" when git printed nothing to stderr.
func (g gitRunner) run(ctx context.Context, toolName string, args ...string) (string, error) {
	out, err := g.boundary.Exec(ctx, toolName, "git", args)
	if err != nil {
		var exitErr *security.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Stderr != "" {
				return "", errors.New(exitErr.Stderr)
			}
			return "", fmt.Errorf("git %s failed", args[0])
		}
		return "", err
	}
	return out.Stdout, nil
}

// runVerbose is run with the exit code and combined output in the error.
func (g gitRunner) runVerbose(ctx context.Context, toolName string, args ...string) (string, error) {
	out, err := g.boundary.Exec(ctx, toolName, "git", args)
	if err != nil {
		var exitErr *security.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s failed (exit %d): %s", args[0], exitErr.Code, exitErr.Output())
		}
		return "", err
	}
	return out.Stdout, nil
}

// --- git_add ---

type GitAddTool struct{ git gitRunner }

func NewGitAddTool(b *security.Boundary) *GitAddTool { return &GitAddTool{git: gitRunner{b}} }

func (t *GitAddTool) Name() string { return "git_add" }
func (t *GitAddTool) Description() string {
	return "Add file(s) to the git staging area in preparation for commit."
}
func (t *GitAddTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "paths", Description: `Space-separated paths to add to the git staging area (e.g. "file1.js file2.js" or "." for all)`, Kind: domain.KindString, Required: true},
	}
}

func (t *GitAddTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	paths := strings.Fields(in.String("paths"))
	if len(paths) == 0 {
		return "", errors.New("No paths specified")
	}
	for _, p := range paths {
		if _, err := t.git.boundary.CheckPath(ctx, t.Name(), p); err != nil {
			return "", err
		}
	}
	out, err := t.git.runVerbose(ctx, t.Name(), append([]string{"add"}, paths...)...)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "Successfully added: " + in.String("paths"), nil
	}
	return out, nil
}

// --- git_commit ---

type GitCommitTool struct{ git gitRunner }

func NewGitCommitTool(b *security.Boundary) *GitCommitTool { return &GitCommitTool{git: gitRunner{b}} }

func (t *GitCommitTool) Name() string { return "git_commit" }
func (t *GitCommitTool) Description() string {
	return "Commit staged changes to the git repository with the specified message."
}
func (t *GitCommitTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "message", Description: "The commit message", Kind: domain.KindString, Required: true},
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	msg := in.String("message")
	if strings.TrimSpace(msg) == "" {
		return "", errors.New("Commit message cannot be empty")
	}
	out, err := t.git.runVerbose(ctx, t.Name(), "commit", "-m", msg)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "Successfully committed with message: " + msg, nil
	}
	return out, nil
}

// --- git_status ---

type GitStatusTool struct{ git gitRunner }

func NewGitStatusTool(b *security.Boundary) *GitStatusTool { return &GitStatusTool{git: gitRunner{b}} }

func (t *GitStatusTool) Name() string { return "git_status" }
func (t *GitStatusTool) Description() string {
	return "Show git working tree status. Optional porcelain mode for parseable output."
}
func (t *GitStatusTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "porcelain", Description: "If true, use --porcelain output", Kind: domain.KindBoolean, Default: false},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	args := []string{"status"}
	if in.Bool("porcelain") {
		args = append(args, "--porcelain")
	}
	out, err := t.git.run(ctx, t.Name(), args...)
	if err != nil {
		return "", err
	}
	return t.git.boundary.Truncate(strings.TrimSpace(out)), nil
}

// --- git_log ---

type GitLogTool struct{ git gitRunner }

func NewGitLogTool(b *security.Boundary) *GitLogTool { return &GitLogTool{git: gitRunner{b}} }

func (t *GitLogTool) Name() string { return "git_log" }
func (t *GitLogTool) Description() string {
	return "Show recent git commits with optional limit and oneline format."
}
func (t *GitLogTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "limit", Description: "Maximum number of commits to show", Kind: domain.KindInteger},
		{Name: "oneline", Description: "If true, use --oneline format", Kind: domain.KindBoolean, Default: false},
	}
}

func (t *GitLogTool) Validate(in domain.Input) error {
	if in.Has("limit") && in.Int("limit") < 0 {
		return &FieldError{Field: "limit", Reason: "must not be negative"}
	}
	return nil
}

func (t *GitLogTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	args := []string{"log"}
	if n := in.Int("limit"); n > 0 {
		args = append(args, "-n", fmt.Sprint(n))
	}
	if in.Bool("oneline") {
		args = append(args, "--oneline")
	} else {
		args = append(args, "--pretty=format:%h %ad %an %s", "--date=short")
	}
	out, err := t.git.run(ctx, t.Name(), args...)
	if err != nil {
		return "", err
	}
	return t.git.boundary.Truncate(out), nil
}

// --- git_branch ---

type GitBranchTool struct{ git gitRunner }

func NewGitBranchTool(b *security.Boundary) *GitBranchTool { return &GitBranchTool{git: gitRunner{b}} }

func (t *GitBranchTool) Name() string { return "git_branch" }
func (t *GitBranchTool) Description() string {
	return "List, create, or checkout branches. action: list | create | checkout."
}
func (t *GitBranchTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "action", Description: "One of list, create, checkout", Kind: domain.KindString, Default: "list"},
		{Name: "name", Description: "Branch name (required for create and checkout)", Kind: domain.KindString},
	}
}

func (t *GitBranchTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	name := strings.TrimSpace(in.String("name"))
	switch in.String("action") {
	case "list":
		out, err := t.git.run(ctx, t.Name(), "branch")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	case "create":
		if name == "" {
			return "", errors.New("name required for create")
		}
		if _, err := t.git.run(ctx, t.Name(), "branch", name); err != nil {
			return "", err
		}
		return "Created branch " + name, nil
	case "checkout":
		if name == "" {
			return "", errors.New("name required for checkout")
		}
		if _, err := t.git.run(ctx, t.Name(), "checkout", name); err != nil {
			return "", err
		}
		return "Checked out " + name, nil
	default:
		return "", errors.New("unknown action")
	}
}

// --- git_merge ---

type GitMergeTool struct{ git gitRunner }

func NewGitMergeTool(b *security.Boundary) *GitMergeTool { return &GitMergeTool{git: gitRunner{b}} }

func (t *GitMergeTool) Name() string { return "git_merge" }
func (t *GitMergeTool) Description() string {
	return "Merge a branch into the current branch. Optionally force a merge commit with no_ff=true."
}
func (t *GitMergeTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "source", Description: "Branch or commit to merge", Kind: domain.KindString, Required: true, NonEmpty: true},
		{Name: "no_ff", Description: "If true, always create a merge commit", Kind: domain.KindBoolean, Default: false},
	}
}

func (t *GitMergeTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	args := []string{"merge"}
	if in.Bool("no_ff") {
		args = append(args, "--no-ff")
	}
	args = append(args, in.String("source"))
	out, err := t.git.run(ctx, t.Name(), args...)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "Merge completed", nil
	}
	return t.git.boundary.Truncate(out), nil
}

// --- git_pull ---

type GitPullTool struct{ git gitRunner }

func NewGitPullTool(b *security.Boundary) *GitPullTool { return &GitPullTool{git: gitRunner{b}} }

func (t *GitPullTool) Name() string { return "git_pull" }
func (t *GitPullTool) Description() string {
	return "Pull latest changes from a remote (default origin) and optional branch."
}
func (t *GitPullTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "remote", Description: "Remote name", Kind: domain.KindString},
		{Name: "branch", Description: "Branch to pull", Kind: domain.KindString},
	}
}

func (t *GitPullTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	args := []string{"pull"}
	if r := strings.TrimSpace(in.String("remote")); r != "" {
		args = append(args, r)
	}
	if b := strings.TrimSpace(in.String("branch")); b != "" {
		args = append(args, b)
	}
	out, err := t.git.run(ctx, t.Name(), args...)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "Pull completed", nil
	}
	return t.git.boundary.Truncate(out), nil
}

var (
	_ domain.Tool           = (*GitAddTool)(nil)
	_ domain.Tool           = (*GitCommitTool)(nil)
	_ domain.Tool           = (*GitStatusTool)(nil)
	_ domain.Tool           = (*GitLogTool)(nil)
	_ domain.Tool           = (*GitBranchTool)(nil)
	_ domain.Tool           = (*GitMergeTool)(nil)
	_ domain.Tool           = (*GitPullTool)(nil)
	_ domain.InputValidator = (*GitLogTool)(nil)
)
