// Package session persists provider session handles per worktree so a
// retry reuses the same conversation across process restarts.
package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/yoshihiko555/takt/internal/core"
)

// Compile-time interface conformance check.
var _ core.SessionRegistry = (*Registry)(nil)

// sessionFile is the on-disk shape: one JSON file per worktree.
type sessionFile struct {
	Provider        string            `json:"provider"`
	PersonaSessions map[string]string `json:"persona_sessions"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Registry stores session handles under a user-global directory, keyed by
// an encoded worktree path.
type Registry struct {
	dir string
	mu  sync.Mutex
}

// NewRegistry creates a session registry rooted at dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// encodePath turns an absolute worktree path into a filesystem-safe key.
func encodePath(worktree string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(worktree))
}

func (r *Registry) filePath(worktree string) string {
	return filepath.Join(r.dir, encodePath(worktree)+".json")
}

// Lookup returns the stored session for a persona. A provider mismatch is a
// miss: sessions never leak across providers.
func (r *Registry) Lookup(worktree, persona, provider string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.load(worktree)
	if err != nil || f == nil {
		return "", false
	}
	if f.Provider != provider {
		return "", false
	}
	id, ok := f.PersonaSessions[persona]
	return id, ok && id != ""
}

// Store records a session handle. Changing the provider discards every
// session previously stored for the worktree.
func (r *Registry) Store(worktree, persona, provider, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.load(worktree)
	if err != nil {
		return err
	}
	if f == nil || f.Provider != provider {
		f = &sessionFile{
			Provider:        provider,
			PersonaSessions: make(map[string]string),
		}
	}
	f.PersonaSessions[persona] = sessionID
	f.UpdatedAt = time.Now().UTC()
	return r.save(worktree, f)
}

// Clear removes the session file for a worktree.
func (r *Registry) Clear(worktree string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.filePath(worktree))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing sessions for %s: %w", worktree, err)
	}
	return nil
}

func (r *Registry) load(worktree string) (*sessionFile, error) {
	data, err := os.ReadFile(r.filePath(worktree))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		// A corrupt session file is not fatal; the worktree just starts
		// fresh conversations.
		return nil, nil
	}
	if f.PersonaSessions == nil {
		f.PersonaSessions = make(map[string]string)
	}
	return &f, nil
}

func (r *Registry) save(worktree string, f *sessionFile) error {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session file: %w", err)
	}
	if err := renameio.WriteFile(r.filePath(worktree), data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}
