package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcli/internal/domain"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func newTestStore(t *testing.T, work string, clock func() time.Time) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{Root: filepath.Join(t.TempDir(), "sessions"), WorkDir: work, Clock: clock})
	require.NoError(t, err)
	return s
}

func TestDeriveSlug(t *testing.T) {
	slug, hash := DeriveSlug("/home/dev/My Project!")
	assert.Len(t, hash, 10)
	assert.Equal(t, "my-project-"+hash, slug)

	slug, hash = DeriveSlug("/tmp/___")
	assert.Equal(t, "project-"+hash, slug)

	other, _ := DeriveSlug("/srv/My Project!")
	assert.NotEqual(t, slug, other, "same base name in different dirs must not collide")
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9-]+-[0-9a-f]{10}$`), other)
}

func TestInit_WritesMetaOnce(t *testing.T) {
	work := t.TempDir()
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestStore(t, work, fixedClock(t0))

	meta, err := s.Init()
	require.NoError(t, err)
	assert.Equal(t, s.Slug(), meta.Slug)
	assert.False(t, meta.Migrated)
	assert.True(t, meta.CreatedAt.Equal(t0))

	info, err := os.Stat(s.ProjectDir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	s.clock = fixedClock(t0.Add(time.Hour))
	again, err := s.Init()
	require.NoError(t, err)
	assert.True(t, again.CreatedAt.Equal(t0), "meta must not be rewritten")
}

func TestSink_OneFilePerRun(t *testing.T) {
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	s := newTestStore(t, t.TempDir(), fixedClock(t0))
	ctx := context.Background()

	sink, err := s.NewSink()
	require.NoError(t, err)
	assert.Empty(t, sink.Path())

	snap := domain.Snapshot{Model: "m", MaxTokens: 1024, CreatedAt: t0, Messages: []domain.Entry{domain.NewHumanText("hi")}}
	require.NoError(t, sink.Write(ctx, snap))
	snap.Messages = append(snap.Messages, domain.Entry{Speaker: domain.Model, Segments: []domain.Segment{domain.Text{Value: "hello"}}})
	require.NoError(t, sink.Write(ctx, snap))

	assert.Equal(t, "session-20250102-030405.json", filepath.Base(sink.Path()))
	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"session-20250102-030405.json"}, names)

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	var got struct {
		Model     string            `json:"model"`
		MaxTokens int               `json:"maxTokens"`
		Messages  []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 1024, got.MaxTokens)
	assert.Len(t, got.Messages, 2)
	assert.Contains(t, string(data), "\n  \"model\"", "snapshot should be indented")
}

func TestSink_CollisionSuffix(t *testing.T) {
	t0 := time.Date(2025, 6, 7, 8, 9, 10, 0, time.Local)
	s := newTestStore(t, t.TempDir(), fixedClock(t0))
	snap := domain.Snapshot{Model: "m", MaxTokens: 1, CreatedAt: t0}

	var paths []string
	for i := 0; i < 3; i++ {
		sink, err := s.NewSink()
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), snap))
		paths = append(paths, filepath.Base(sink.Path()))
	}
	assert.Equal(t, []string{
		"session-20250607-080910.json",
		"session-20250607-080910-1.json",
		"session-20250607-080910-2.json",
	}, paths)
}

func TestInit_MigratesLegacySessions(t *testing.T) {
	work := t.TempDir()
	legacy := filepath.Join(work, ".agent")
	require.NoError(t, os.MkdirAll(legacy, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "session-20240101-000000.json"), []byte(`{"model":"old"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "notes.txt"), []byte("x"), 0o644))

	s := newTestStore(t, work, time.Now)
	meta, err := s.Init()
	require.NoError(t, err)
	assert.True(t, meta.Migrated)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"session-20240101-000000.json"}, names)

	stored, err := s.Meta()
	require.NoError(t, err)
	assert.True(t, stored.Migrated)
}

func TestInit_SkipsMigrationWhenProjectHasSessions(t *testing.T) {
	work := t.TempDir()
	legacy := filepath.Join(work, ".agent")
	require.NoError(t, os.MkdirAll(legacy, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "session-20240101-000000.json"), []byte(`{}`), 0o644))

	s := newTestStore(t, work, time.Now)
	require.NoError(t, os.MkdirAll(s.ProjectDir(), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(s.ProjectDir(), "session-20250101-000000.json"), []byte(`{}`), 0o600))

	meta, err := s.Init()
	require.NoError(t, err)
	assert.False(t, meta.Migrated)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"session-20250101-000000.json"}, names)
}

func TestList_MissingDir(t *testing.T) {
	s := newTestStore(t, t.TempDir(), time.Now)
	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
