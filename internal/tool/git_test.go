package tool

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcli/internal/domain"
	"agentcli/internal/security"
)

func TestGitTools_InputErrorsBeforeSpawning(t *testing.T) {
	b, _ := newTestBoundary(t)
	ctx := context.Background()

	_, err := NewGitAddTool(b).Execute(ctx, domain.Input{"paths": "   "})
	assert.EqualError(t, err, "No paths specified")

	_, err = NewGitCommitTool(b).Execute(ctx, domain.Input{"message": " "})
	assert.EqualError(t, err, "Commit message cannot be empty")

	_, err = NewGitBranchTool(b).Execute(ctx, domain.Input{"action": "create"})
	assert.EqualError(t, err, "name required for create")

	_, err = NewGitBranchTool(b).Execute(ctx, domain.Input{"action": "checkout", "name": ""})
	assert.EqualError(t, err, "name required for checkout")

	_, err = NewGitBranchTool(b).Execute(ctx, domain.Input{"action": "delete", "name": "x"})
	assert.EqualError(t, err, "unknown action")
}

func TestGitAdd_PathEscapeRejected(t *testing.T) {
	b, _ := newTestBoundary(t)
	_, err := NewGitAddTool(b).Execute(context.Background(), domain.Input{"paths": "ok.txt ../outside.txt"})
	require.Error(t, err)
	assert.True(t, security.IsRejection(err))
}

func TestGitLog_NegativeLimitInvalid(t *testing.T) {
	b, _ := newTestBoundary(t)
	_, err := Validate(NewGitLogTool(b), map[string]any{"limit": "-1"})
	assert.EqualError(t, err, "field limit: must not be negative")
}

func TestGitAddAndStatus(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	b, ws := newTestBoundary(t)
	ctx := context.Background()
	_, err := b.Exec(ctx, "test", "git", []string{"init", "-q"})
	require.NoError(t, err)
	writeFile(t, filepath.Join(ws, "a.txt"), "hello")

	out, err := NewGitAddTool(b).Execute(ctx, domain.Input{"paths": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Successfully added: a.txt", out)

	out, err = NewGitStatusTool(b).Execute(ctx, domain.Input{"porcelain": true})
	require.NoError(t, err)
	assert.Equal(t, "A  a.txt", out)
}

func TestGitAdd_FailureFormat(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	b, _ := newTestBoundary(t)
	// Not a repository, so git exits non-zero.
	_, err := NewGitAddTool(b).Execute(context.Background(), domain.Input{"paths": "missing.txt"})
	require.Error(t, err)
	assert.Regexp(t, `^git add failed \(exit \d+\): `, err.Error())
}
