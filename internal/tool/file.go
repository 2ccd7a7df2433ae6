package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"agentcli/internal/domain"
	"agentcli/internal/security"
)

// --- ReadFileTool ---

// ReadFileTool reads the contents of a file inside the workspace.
type ReadFileTool struct {
	boundary *security.Boundary
}

func NewReadFileTool(b *security.Boundary) *ReadFileTool {
	return &ReadFileTool{boundary: b}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a given relative file path. Use this when you want to see what's inside a file. Do not use this with directory names."
}
func (t *ReadFileTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "path", Description: "The relative path of a file in the working directory.", Kind: domain.KindString, Required: true, NonEmpty: true},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	resolved, err := t.boundary.CheckPath(ctx, t.Name(), in.String("path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// --- ListFilesTool ---

// ListFilesTool lists one directory level as a JSON array.
type ListFilesTool struct {
	boundary *security.Boundary
}

func NewListFilesTool(b *security.Boundary) *ListFilesTool {
	return &ListFilesTool{boundary: b}
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "List files and directories at a given path. If no path is provided, lists files in the current directory."
}
func (t *ListFilesTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "path", Description: "Optional relative path to list files from. Defaults to current directory if not provided.", Kind: domain.KindString, Default: "."},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	dir := in.String("path")
	if dir == "" {
		dir = "."
	}
	resolved, err := t.boundary.CheckPath(ctx, t.Name(), dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("list files: %w", err)
	}

	names := make([]string, 0)
	if info.IsDir() {
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return "", fmt.Errorf("list files: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if isDir(resolved, e) {
				name += "/"
			}
			names = append(names, name)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(names); err != nil {
		return "", fmt.Errorf("encode listing: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// isDir follows symlinks, so a link to a directory is listed as one.
func isDir(parent string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	st, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && st.IsDir()
}

// --- EditFileTool ---

// EditFileTool replaces text in a file, or creates the file when old_str is
// empty and the file does not exist yet.
type EditFileTool struct {
	boundary *security.Boundary
}

func NewEditFileTool(b *security.Boundary) *EditFileTool {
	return &EditFileTool{boundary: b}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Make edits to a text file.\n\nReplaces every occurrence of 'old_str' with 'new_str' in the given file. 'old_str' and 'new_str' MUST be different from each other.\n\nIf the file specified with path doesn't exist, it will be created."
}
func (t *EditFileTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "path", Description: "The path to the file", Kind: domain.KindString, Required: true, NonEmpty: true},
		{Name: "old_str", Description: "Text to search for - must match exactly", Kind: domain.KindString, Required: true},
		{Name: "new_str", Description: "Text to replace old_str with", Kind: domain.KindString, Required: true},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	path := in.String("path")
	oldStr, newStr := in.String("old_str"), in.String("new_str")
	if oldStr == newStr {
		return "", errors.New("invalid input parameters")
	}
	resolved, err := t.boundary.CheckPath(ctx, t.Name(), path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		if oldStr != "" {
			return "", errors.New("file does not exist and old_str not empty")
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
		if err := os.WriteFile(resolved, []byte(newStr), 0o644); err != nil {
			return "", fmt.Errorf("write file: %w", err)
		}
		return "Successfully created file " + path, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	// An empty old_str on an existing file leaves it untouched.
	if oldStr == "" {
		return "OK", nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	if !strings.Contains(content, oldStr) {
		return "", errors.New("old_str not found in file")
	}
	replaced := strings.ReplaceAll(content, oldStr, newStr)
	if err := os.WriteFile(resolved, []byte(replaced), info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return "OK", nil
}

// --- CreateFileTool ---

// CreateFileTool writes a new file, creating parent directories as needed.
type CreateFileTool struct {
	boundary *security.Boundary
}

func NewCreateFileTool(b *security.Boundary) *CreateFileTool {
	return &CreateFileTool{boundary: b}
}

func (t *CreateFileTool) Name() string { return "create_file" }
func (t *CreateFileTool) Description() string {
	return "Create a new text file with provided content. Fails if file exists unless overwrite=true."
}
func (t *CreateFileTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "path", Description: "The path of the file to create", Kind: domain.KindString, Required: true, NonEmpty: true},
		{Name: "content", Description: "The text content to write into the new file", Kind: domain.KindString, Default: ""},
		{Name: "overwrite", Description: "If true and file exists, overwrite it. Default: false (error if exists).", Kind: domain.KindBoolean, Default: false},
	}
}

func (t *CreateFileTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	resolved, err := t.boundary.CheckPath(ctx, t.Name(), in.String("path"))
	if err != nil {
		return "", err
	}
	_, statErr := os.Stat(resolved)
	exists := statErr == nil
	if exists && !in.Bool("overwrite") {
		return "", errors.New("file already exists (specify overwrite=true to replace)")
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(in.String("content")), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if exists {
		return "OVERWRITTEN", nil
	}
	return "CREATED", nil
}

// Compile-time interface checks.
var (
	_ domain.Tool = (*ReadFileTool)(nil)
	_ domain.Tool = (*ListFilesTool)(nil)
	_ domain.Tool = (*EditFileTool)(nil)
	_ domain.Tool = (*CreateFileTool)(nil)
)
