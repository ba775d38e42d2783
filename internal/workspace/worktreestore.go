package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/fsutil"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

const worktreeLockTimeout = time.Second

// WorktreeStore is the durable record of worktrees.json, the list of live
// worktrees a session has provisioned. CreateWorktree/RemoveWorktree on
// Provisioner only drive the vcs adapter; WorktreeStore is what list_
// worktrees, assign_worktree, and get_worktree_status read back.
type WorktreeStore struct {
	sessionDir string

	mu       sync.Mutex
	cached   []*v1.Worktree
	cachedAt time.Time
}

// NewWorktreeStore returns a store rooted at sessionDir.
func NewWorktreeStore(sessionDir string) *WorktreeStore {
	return &WorktreeStore{sessionDir: sessionDir}
}

func (s *WorktreeStore) path() string {
	return filepath.Join(s.sessionDir, "worktrees.json")
}

func (s *WorktreeStore) load() ([]*v1.Worktree, error) {
	info, err := os.Stat(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return s.cached, nil
		}
		return nil, fmt.Errorf("stat worktrees.json: %w", err)
	}
	if s.cached != nil && !info.ModTime().After(s.cachedAt) {
		return s.cached, nil
	}
	data, err := os.ReadFile(s.path())
	if err != nil {
		return nil, fmt.Errorf("read worktrees.json: %w", err)
	}
	var list []*v1.Worktree
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse worktrees.json: %w", err)
		}
	}
	s.cached = list
	s.cachedAt = info.ModTime()
	return list, nil
}

func (s *WorktreeStore) save(list []*v1.Worktree) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(s.path(), data, 0o644); err != nil {
		return err
	}
	if info, err := os.Stat(s.path()); err == nil {
		s.cachedAt = info.ModTime()
	}
	s.cached = list
	return nil
}

func (s *WorktreeStore) withLock(fn func([]*v1.Worktree) ([]*v1.Worktree, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := fsutil.AcquireLock(s.path(), worktreeLockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	list, err := s.load()
	if err != nil {
		return err
	}
	next, err := fn(append([]*v1.Worktree(nil), list...))
	if err != nil {
		return err
	}
	return s.save(next)
}

// List returns every live worktree record.
func (s *WorktreeStore) List() ([]*v1.Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add records a newly created worktree.
func (s *WorktreeStore) Add(w *v1.Worktree) error {
	return s.withLock(func(list []*v1.Worktree) ([]*v1.Worktree, error) {
		return append(list, w), nil
	})
}

// Remove drops the worktree at path from the store.
func (s *WorktreeStore) Remove(path string) error {
	return s.withLock(func(list []*v1.Worktree) ([]*v1.Worktree, error) {
		out := make([]*v1.Worktree, 0, len(list))
		found := false
		for _, w := range list {
			if w.Path == path {
				found = true
				continue
			}
			out = append(out, w)
		}
		if !found {
			return nil, agerrors.NotFound("worktree", path)
		}
		return out, nil
	})
}

// Get returns one worktree record by path.
func (s *WorktreeStore) Get(path string) (*v1.Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, w := range list {
		if w.Path == path {
			cp := *w
			return &cp, nil
		}
	}
	return nil, agerrors.NotFound("worktree", path)
}

// Assign sets the assigned_agent_id on the worktree at path, clearing any
// prior assignee.
func (s *WorktreeStore) Assign(path, agentID string) (*v1.Worktree, error) {
	var out *v1.Worktree
	err := s.withLock(func(list []*v1.Worktree) ([]*v1.Worktree, error) {
		for _, w := range list {
			if w.Path == path {
				w.AssignedAgentID = agentID
				cp := *w
				out = &cp
				return list, nil
			}
		}
		return nil, agerrors.NotFound("worktree", path)
	})
	return out, err
}
