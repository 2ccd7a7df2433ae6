package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"agentcli/internal/domain"
)

// Sink writes every snapshot of one run to the same file.
type Sink struct {
	store *Store

	mu   sync.Mutex
	path string
}

// NewSink prepares the project directory and returns a sink for a new run.
// The file is created on the first write.
func (s *Store) NewSink() (*Sink, error) {
	if _, err := s.Init(); err != nil {
		return nil, err
	}
	return &Sink{store: s}, nil
}

// Path is the file this run writes to, empty before the first write.
func (k *Sink) Path() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.path
}

func (k *Sink) Write(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.path == "" {
		k.path = k.store.nextPath()
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", k.path, err)
	}
	return nil
}

var _ domain.SessionSink = (*Sink)(nil)
