// Package tasks owns the task manifest and the worker-pool scheduler that
// drives piece engines over pending tasks.
package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/yoshihiko555/takt/internal/core"
)

// lockTimeout bounds the wait for the in-memory manifest guard. A single
// process can never actually exhaust it; the check is defensive.
const lockTimeout = 5 * time.Second

// Store persists the ordered task list in a single tasks.yaml. Every
// mutation is a read-modify-write of the full file under an in-memory
// guard, written atomically via rename.
type Store struct {
	path  string
	guard chan struct{}
}

// NewStore creates a manifest store at path.
func NewStore(path string) *Store {
	s := &Store{path: path, guard: make(chan struct{}, 1)}
	s.guard <- struct{}{}
	return s
}

// Path returns the manifest location.
func (s *Store) Path() string { return s.path }

type manifestFile struct {
	Tasks []*core.TaskRecord `yaml:"tasks"`
}

func (s *Store) acquire() error {
	select {
	case <-s.guard:
		return nil
	case <-time.After(lockTimeout):
		return core.ErrState(core.CodeLockConflict, "manifest guard held too long")
	}
}

func (s *Store) release() {
	s.guard <- struct{}{}
}

// mutate runs fn against the loaded manifest and persists the result.
func (s *Store) mutate(fn func(m *manifestFile) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	m, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.save(m)
}

// List returns a snapshot of all task records.
func (s *Store) List() ([]*core.TaskRecord, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	m, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*core.TaskRecord, len(m.Tasks))
	for i, rec := range m.Tasks {
		clone := *rec
		out[i] = &clone
	}
	return out, nil
}

// Get returns a copy of one task record.
func (s *Store) Get(name string) (*core.TaskRecord, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Name == name {
			return rec, nil
		}
	}
	notFound := core.ErrNotFound("task", name)
	notFound.Code = core.CodeTaskNotFound
	return nil, notFound
}

// Add appends a new pending task. Names are unique across the manifest.
func (s *Store) Add(rec *core.TaskRecord) error {
	if rec.Status == "" {
		rec.Status = core.TaskPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.mutate(func(m *manifestFile) error {
		for _, existing := range m.Tasks {
			if existing.Name == rec.Name {
				return core.ErrState(core.CodeTaskExists,
					fmt.Sprintf("task %s already exists", rec.Name))
			}
		}
		m.Tasks = append(m.Tasks, rec)
		return nil
	})
}

// ClaimNextPending atomically transitions the first pending task to
// running and returns it. ok is false when nothing is pending.
func (s *Store) ClaimNextPending() (rec *core.TaskRecord, ok bool, err error) {
	err = s.mutate(func(m *manifestFile) error {
		for _, candidate := range m.Tasks {
			if candidate.Status != core.TaskPending {
				continue
			}
			if err := candidate.MarkRunning(); err != nil {
				return err
			}
			clone := *candidate
			rec = &clone
			ok = true
			return nil
		}
		return nil
	})
	return rec, ok, err
}

// StartReExecution atomically moves a completed or failed task directly to
// running, bypassing pending so no concurrent poller can claim it first.
func (s *Store) StartReExecution(name string) (*core.TaskRecord, error) {
	var out *core.TaskRecord
	err := s.update(name, func(rec *core.TaskRecord) error {
		if err := rec.MarkReExecution(); err != nil {
			return err
		}
		clone := *rec
		out = &clone
		return nil
	})
	return out, err
}

// Complete transitions a running task to completed.
func (s *Store) Complete(name string) error {
	return s.update(name, (*core.TaskRecord).MarkCompleted)
}

// Fail transitions a running task to failed.
func (s *Store) Fail(name string) error {
	return s.update(name, (*core.TaskRecord).MarkFailed)
}

// Error transitions a running task to error.
func (s *Store) Error(name string) error {
	return s.update(name, (*core.TaskRecord).MarkError)
}

// Requeue returns a task to pending.
func (s *Store) Requeue(name string) error {
	return s.update(name, (*core.TaskRecord).Requeue)
}

// SetWorktree records the worktree path on a task.
func (s *Store) SetWorktree(name, path string) error {
	return s.update(name, func(rec *core.TaskRecord) error {
		rec.WorktreePath = path
		return nil
	})
}

// DeleteCompleted removes a terminal task from the manifest.
func (s *Store) DeleteCompleted(name string) error {
	return s.mutate(func(m *manifestFile) error {
		for i, rec := range m.Tasks {
			if rec.Name != name {
				continue
			}
			if !rec.IsTerminal() {
				return core.ErrState(core.CodeInvalidTransition,
					fmt.Sprintf("task %s is %s, only terminal tasks can be deleted", name, rec.Status))
			}
			m.Tasks = append(m.Tasks[:i], m.Tasks[i+1:]...)
			return nil
		}
		notFound := core.ErrNotFound("task", name)
		notFound.Code = core.CodeTaskNotFound
		return notFound
	})
}

func (s *Store) update(name string, fn func(*core.TaskRecord) error) error {
	return s.mutate(func(m *manifestFile) error {
		for _, rec := range m.Tasks {
			if rec.Name == name {
				return fn(rec)
			}
		}
		notFound := core.ErrNotFound("task", name)
		notFound.Code = core.CodeTaskNotFound
		return notFound
	})
}

// load reads and strictly validates the manifest. Unknown keys are
// tolerated only when prefixed x_.
func (s *Store) load() (*manifestFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &manifestFile{}, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if err := validateManifestKeys(data); err != nil {
		return nil, err
	}
	var m manifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, core.ErrValidation("MANIFEST_PARSE", "invalid task manifest").WithCause(err)
	}
	for _, rec := range m.Tasks {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// save writes the manifest atomically (write-then-rename) so a crash never
// corrupts prior state.
func (s *Store) save(m *manifestFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// knownTaskKeys are the accepted snake_case manifest fields.
var knownTaskKeys = map[string]bool{
	"name": true, "content": true, "status": true, "piece": true,
	"branch": true, "worktree_path": true, "created_at": true,
	"started_at": true, "completed_at": true, "auto_pr": true,
	"issue": true, "order_path": true,
}

func validateManifestKeys(data []byte) error {
	var raw struct {
		Tasks []map[string]interface{} `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return core.ErrValidation("MANIFEST_PARSE", "invalid task manifest").WithCause(err)
	}
	for i, task := range raw.Tasks {
		for key := range task {
			if knownTaskKeys[key] || strings.HasPrefix(key, "x_") {
				continue
			}
			return core.ErrValidation("MANIFEST_UNKNOWN_KEY",
				fmt.Sprintf("task %d carries unknown key %q", i, key))
		}
	}
	return nil
}
