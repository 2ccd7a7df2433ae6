// Package session writes conversation snapshots as JSON files under a
// per-project directory.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	metaFile      = "meta.json"
	filePrefix    = "session-"
	fileExt       = ".json"
	legacyDirName = ".agent"
)

// Meta describes one project directory.
type Meta struct {
	Cwd       string    `json:"cwd"`
	Slug      string    `json:"slug"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Migrated  bool      `json:"migrated,omitempty"`
}

// StoreConfig configures a Store. Root is the sessions root shared by all
// projects; WorkDir identifies the project.
type StoreConfig struct {
	Root    string
	WorkDir string
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Store owns the session directory of one project.
type Store struct {
	root       string
	workDir    string
	projectDir string
	slug       string
	hash       string
	logger     *slog.Logger
	clock      func() time.Time
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("session root is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	wd := cfg.WorkDir
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	resolved, err := realPath(wd)
	if err != nil {
		return nil, err
	}
	slug, hash := DeriveSlug(resolved)
	return &Store{
		root:       cfg.Root,
		workDir:    resolved,
		projectDir: filepath.Join(cfg.Root, slug),
		slug:       slug,
		hash:       hash,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}, nil
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveSlug names the project directory for an absolute path: the
// sanitized base name plus the first 10 hex chars of its sha256.
func DeriveSlug(path string) (slug, hash string) {
	sum := sha256.Sum256([]byte(path))
	hash = hex.EncodeToString(sum[:])[:10]
	base := nonSlug.ReplaceAllString(strings.ToLower(filepath.Base(path)), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "project"
	}
	return base + "-" + hash, hash
}

func (s *Store) ProjectDir() string { return s.projectDir }
func (s *Store) Slug() string       { return s.slug }

// Init creates the project directory and meta file and migrates legacy
// session files from the working directory. It is safe to call repeatedly.
func (s *Store) Init() (*Meta, error) {
	if err := os.MkdirAll(s.projectDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	meta, err := s.Meta()
	if err != nil {
		now := s.clock()
		meta = &Meta{Cwd: s.workDir, Slug: s.slug, Hash: s.hash, CreatedAt: now, UpdatedAt: now}
		if err := s.writeMeta(meta); err != nil {
			return nil, err
		}
	}

	n, err := s.migrateLegacy()
	if err != nil {
		s.logger.Warn("legacy session migration failed", "error", err)
		return meta, nil
	}
	if n > 0 {
		meta.Migrated = true
		meta.UpdatedAt = s.clock()
		if err := s.writeMeta(meta); err != nil {
			return nil, err
		}
		s.logger.Info("migrated legacy sessions", "count", n, "dir", s.projectDir)
	}
	return meta, nil
}

// Meta reads the project's meta file.
func (s *Store) Meta() (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.projectDir, metaFile))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", metaFile, err)
	}
	return &m, nil
}

func (s *Store) writeMeta(m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.projectDir, metaFile), data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", metaFile, err)
	}
	return nil
}

// List returns the project's session file names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.projectDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sessionFiles(entries), nil
}

func sessionFiles(entries []os.DirEntry) []string {
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// migrateLegacy copies ./.agent/session-*.json into the project directory
// when the project has no sessions yet.
func (s *Store) migrateLegacy() (int, error) {
	legacy := filepath.Join(s.workDir, legacyDirName)
	entries, err := os.ReadDir(legacy)
	if err != nil {
		return 0, nil
	}
	files := sessionFiles(entries)
	if len(files) == 0 {
		return 0, nil
	}
	existing, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for _, name := range files {
		if err := copyFile(filepath.Join(legacy, name), filepath.Join(s.projectDir, name)); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}

// nextPath picks session-YYYYMMDD-HHMMSS.json, adding -N on collision.
func (s *Store) nextPath() string {
	stamp := s.clock().Format("20060102-150405")
	base := filepath.Join(s.projectDir, filePrefix+stamp)
	p := base + fileExt
	for i := 1; ; i++ {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
		p = fmt.Sprintf("%s-%d%s", base, i, fileExt)
	}
}
