package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcli/internal/domain"
	"agentcli/internal/security"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListThenRead(t *testing.T) {
	b, ws := newTestBoundary(t)
	writeFile(t, filepath.Join(ws, "a.txt"), "hi")
	require.NoError(t, os.Mkdir(filepath.Join(ws, "sub"), 0o755))

	reg := newTestRegistry(nil, nil)
	require.NoError(t, RegisterDefaults(reg, DefaultsConfig{Boundary: b}))

	res := reg.Dispatch(context.Background(), domain.ToolRequest{ID: "t1", Name: "list_files", Arguments: map[string]any{}})
	require.False(t, res.Failed, res.Value)
	assert.Equal(t, `["a.txt","sub/"]`, res.Value)

	res = reg.Dispatch(context.Background(), domain.ToolRequest{ID: "t2", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}})
	require.False(t, res.Failed, res.Value)
	assert.Equal(t, "hi", res.Value)
	assert.Equal(t, "t2", res.CorrelatesWith)
}

func TestListFiles_FileAndEmptyDir(t *testing.T) {
	b, ws := newTestBoundary(t)
	writeFile(t, filepath.Join(ws, "only.txt"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(ws, "empty"), 0o755))
	tool := NewListFilesTool(b)

	out, err := tool.Execute(context.Background(), domain.Input{"path": "only.txt"})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	out, err = tool.Execute(context.Background(), domain.Input{"path": "empty"})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestReadFile_OutsideWorkspace(t *testing.T) {
	b, _ := newTestBoundary(t)
	_, err := NewReadFileTool(b).Execute(context.Background(), domain.Input{"path": "../secret"})
	require.Error(t, err)
	assert.True(t, security.IsRejection(err))
}

func TestEditFile(t *testing.T) {
	ctx := context.Background()

	t.Run("same strings", func(t *testing.T) {
		b, _ := newTestBoundary(t)
		_, err := NewEditFileTool(b).Execute(ctx, domain.Input{"path": "f.txt", "old_str": "a", "new_str": "a"})
		require.EqualError(t, err, "invalid input parameters")
	})

	t.Run("create missing file with parents", func(t *testing.T) {
		b, ws := newTestBoundary(t)
		out, err := NewEditFileTool(b).Execute(ctx, domain.Input{"path": "deep/dir/new.txt", "old_str": "", "new_str": "hello"})
		require.NoError(t, err)
		assert.Equal(t, "Successfully created file deep/dir/new.txt", out)
		data, err := os.ReadFile(filepath.Join(ws, "deep", "dir", "new.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("missing file with old_str", func(t *testing.T) {
		b, _ := newTestBoundary(t)
		_, err := NewEditFileTool(b).Execute(ctx, domain.Input{"path": "nope.txt", "old_str": "x", "new_str": "y"})
		require.EqualError(t, err, "file does not exist and old_str not empty")
	})

	t.Run("replaces every occurrence", func(t *testing.T) {
		b, ws := newTestBoundary(t)
		p := filepath.Join(ws, "f.txt")
		writeFile(t, p, "foo bar foo")
		out, err := NewEditFileTool(b).Execute(ctx, domain.Input{"path": "f.txt", "old_str": "foo", "new_str": "baz"})
		require.NoError(t, err)
		assert.Equal(t, "OK", out)
		data, _ := os.ReadFile(p)
		assert.Equal(t, "baz bar baz", string(data))
	})

	t.Run("old_str not found", func(t *testing.T) {
		b, ws := newTestBoundary(t)
		writeFile(t, filepath.Join(ws, "f.txt"), "abc")
		_, err := NewEditFileTool(b).Execute(ctx, domain.Input{"path": "f.txt", "old_str": "zzz", "new_str": "y"})
		require.EqualError(t, err, "old_str not found in file")
	})

	t.Run("empty old_str on existing file is a no-op", func(t *testing.T) {
		b, ws := newTestBoundary(t)
		p := filepath.Join(ws, "f.txt")
		writeFile(t, p, "keep")
		out, err := NewEditFileTool(b).Execute(ctx, domain.Input{"path": "f.txt", "old_str": "", "new_str": "x"})
		require.NoError(t, err)
		assert.Equal(t, "OK", out)
		data, _ := os.ReadFile(p)
		assert.Equal(t, "keep", string(data))
	})
}

func TestCreateFile(t *testing.T) {
	ctx := context.Background()
	b, ws := newTestBoundary(t)
	tool := NewCreateFileTool(b)

	out, err := tool.Execute(ctx, domain.Input{"path": "a/b.txt", "content": "one", "overwrite": false})
	require.NoError(t, err)
	assert.Equal(t, "CREATED", out)

	_, err = tool.Execute(ctx, domain.Input{"path": "a/b.txt", "content": "two", "overwrite": false})
	require.EqualError(t, err, "file already exists (specify overwrite=true to replace)")

	out, err = tool.Execute(ctx, domain.Input{"path": "a/b.txt", "content": "two", "overwrite": true})
	require.NoError(t, err)
	assert.Equal(t, "OVERWRITTEN", out)

	data, _ := os.ReadFile(filepath.Join(ws, "a", "b.txt"))
	assert.Equal(t, "two", string(data))
}

func TestCreateFile_OverwriteFromStringViaDispatch(t *testing.T) {
	b, ws := newTestBoundary(t)
	writeFile(t, filepath.Join(ws, "x.txt"), "old")
	reg := newTestRegistry(nil, nil)
	require.NoError(t, reg.Register(NewCreateFileTool(b)))

	res := reg.Dispatch(context.Background(), domain.ToolRequest{Name: "create_file", Arguments: map[string]any{
		"path": "x.txt", "content": "new", "overwrite": "true",
	}})
	require.False(t, res.Failed, res.Value)
	assert.Equal(t, "OVERWRITTEN", res.Value)
}

func TestFileTools_SymlinkOutsideWorkspace(t *testing.T) {
	b, ws := newTestBoundary(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), "SECRET")
	require.NoError(t, os.Symlink(outside, filepath.Join(ws, "link")))

	reg := newTestRegistry(nil, nil)
	require.NoError(t, RegisterDefaults(reg, DefaultsConfig{Boundary: b}))

	res := reg.Dispatch(context.Background(), domain.ToolRequest{ID: "r", Name: "read_file", Arguments: map[string]any{"path": "link/secret.txt"}})
	assert.True(t, res.Failed)
	assert.Equal(t, "path escapes workspace: link/secret.txt", res.Value)

	res = reg.Dispatch(context.Background(), domain.ToolRequest{ID: "c", Name: "create_file", Arguments: map[string]any{"path": "link/planted.txt", "content": "x"}})
	assert.True(t, res.Failed)
	assert.NoFileExists(t, filepath.Join(outside, "planted.txt"))

	res = reg.Dispatch(context.Background(), domain.ToolRequest{ID: "e", Name: "edit_file", Arguments: map[string]any{"path": "link/secret.txt", "old_str": "SECRET", "new_str": "gone"}})
	assert.True(t, res.Failed)
	data, err := os.ReadFile(filepath.Join(outside, "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, "SECRET", string(data))
}
