// Package registry is the persistent source of truth for agents (spec
// component 4.1): a session-scoped agents.json file plus a per-user global
// index mapping agent id to (project_root, session_id), so independent
// server processes serving the same session converge on the same state.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/fsutil"
	"github.com/agentmux/agentmux/internal/common/logger"
)

const lockTimeout = time.Second

// globalEntry is one row of {user_home}/.agentmux/agents/{agent_id}.json.
type globalEntry struct {
	ProjectRoot string `json:"project_root"`
	SessionID   string `json:"session_id"`
}

// snapshot is the on-disk shape of agents.json.
type snapshot struct {
	Agents          []*v1.Agent `json:"agents"`
	OwnerWaitActive bool        `json:"owner_wait_active"`
	OwnerWaitSince  *time.Time  `json:"owner_wait_since,omitempty"`
	PollEmptyStreak int         `json:"poll_empty_streak"`
}

// Registry projects a session's agents.json into memory, re-reading from
// disk whenever the file's mtime is newer than the cached copy (4.1: "file
// is authoritative; stale cache is discarded when file mtime differs").
type Registry struct {
	sessionDir string
	globalDir  string
	log        *logger.Logger

	mu        sync.Mutex
	cached    *snapshot
	cachedAt  time.Time
	maxWorker int
}

// New returns a Registry rooted at sessionDir, with per-agent global entries
// written to globalDir/agents/{agent_id}.json ({user_home}/.agentmux by
// convention).
func New(sessionDir, globalDir string, maxWorkers int, log *logger.Logger) *Registry {
	return &Registry{sessionDir: sessionDir, globalDir: globalDir, maxWorker: maxWorkers, log: log}
}

// MaxWorkers returns the worker slot ceiling this registry enforces.
func (r *Registry) MaxWorkers() int {
	return r.maxWorker
}

func (r *Registry) agentsPath() string {
	return filepath.Join(r.sessionDir, "agents.json")
}

func (r *Registry) globalPath(agentID string) string {
	return filepath.Join(r.globalDir, "agents", fsutil.SanitizeName(agentID)+".json")
}

// load reads agents.json from disk if it's newer than the cache (or there is
// no cache yet), replacing the in-memory copy. Callers must hold r.mu.
func (r *Registry) load() (*snapshot, error) {
	info, err := os.Stat(r.agentsPath())
	if err != nil {
		if os.IsNotExist(err) {
			if r.cached == nil {
				r.cached = &snapshot{}
			}
			return r.cached, nil
		}
		return nil, fmt.Errorf("stat agents.json: %w", err)
	}
	if r.cached != nil && !info.ModTime().After(r.cachedAt) {
		return r.cached, nil
	}
	data, err := os.ReadFile(r.agentsPath())
	if err != nil {
		return nil, fmt.Errorf("read agents.json: %w", err)
	}
	var snap snapshot
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parse agents.json: %w", err)
		}
	}
	r.cached = &snap
	r.cachedAt = info.ModTime()
	return r.cached, nil
}

// save writes the snapshot atomically and refreshes the cache timestamp.
// Callers must hold r.mu and have already acquired the file lock.
func (r *Registry) save(snap *snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agents.json: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(r.agentsPath(), data, 0o644); err != nil {
		return err
	}
	info, err := os.Stat(r.agentsPath())
	if err == nil {
		r.cachedAt = info.ModTime()
	}
	r.cached = snap
	return nil
}

// withLock acquires the agents.json lock, loads, runs fn against the
// snapshot, saves if fn succeeds, and releases the lock.
func (r *Registry) withLock(fn func(*snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, err := fsutil.AcquireLock(r.agentsPath(), lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap, err := r.load()
	if err != nil {
		return err
	}
	cp := *snap
	cp.Agents = append([]*v1.Agent(nil), snap.Agents...)
	if err := fn(&cp); err != nil {
		return err
	}
	return r.save(&cp)
}

// Register adds a new agent. Fails if the id already exists or the pane
// triple is occupied by another live agent.
func (r *Registry) Register(agent *v1.Agent) error {
	return r.withLock(func(snap *snapshot) error {
		pane := agent.Pane()
		for _, a := range snap.Agents {
			if a.ID == agent.ID {
				return agerrors.Conflict(fmt.Sprintf("agent '%s' already registered", agent.ID))
			}
			if a.Status != v1.AgentTerminated && a.Pane() == pane {
				return agerrors.Conflict(fmt.Sprintf("pane %+v already occupied", pane))
			}
		}
		snap.Agents = append(snap.Agents, agent)
		return r.writeGlobalEntry(agent.ID)
	})
}

func (r *Registry) writeGlobalEntry(agentID string) error {
	if r.globalDir == "" {
		return nil
	}
	entry := globalEntry{ProjectRoot: filepath.Dir(r.sessionDir), SessionID: filepath.Base(r.sessionDir)}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(r.globalPath(agentID), data, 0o644)
}

// Terminate flips an agent's status to terminated. It never deletes the
// record; a terminated agent is never resurrected.
func (r *Registry) Terminate(agentID string) error {
	return r.withLock(func(snap *snapshot) error {
		for _, a := range snap.Agents {
			if a.ID == agentID {
				a.Status = v1.AgentTerminated
				a.LastActivity = time.Now().UTC()
				return nil
			}
		}
		return agerrors.NotFound("agent", agentID)
	})
}

// Lookup returns one agent by id, always reading the freshest file state.
func (r *Registry) Lookup(agentID string) (*v1.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, a := range snap.Agents {
		if a.ID == agentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, agerrors.NotFound("agent", agentID)
}

// List returns every agent in the session.
func (r *Registry) List() ([]*v1.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]*v1.Agent, len(snap.Agents))
	for i, a := range snap.Agents {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

// Update applies mutate to the stored agent record for agentID and persists
// the result. mutate must not change the agent's ID.
func (r *Registry) Update(agentID string, mutate func(*v1.Agent)) error {
	return r.withLock(func(snap *snapshot) error {
		for _, a := range snap.Agents {
			if a.ID == agentID {
				mutate(a)
				return nil
			}
		}
		return agerrors.NotFound("agent", agentID)
	})
}

// ResolveWorkerSlot returns the lowest free worker slot number <= maxWorker.
func (r *Registry) ResolveWorkerSlot() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, err := r.load()
	if err != nil {
		return 0, err
	}
	taken := make(map[int]bool)
	for _, a := range snap.Agents {
		if a.Role == v1.RoleWorker && a.Status != v1.AgentTerminated {
			taken[a.WorkerSlot] = true
		}
	}
	for slot := 1; slot <= r.maxWorker; slot++ {
		if !taken[slot] {
			return slot, nil
		}
	}
	return 0, agerrors.WorkerLimitReached(r.maxWorker)
}

// OwnerWaitActive reports whether the owner wait-lock is currently held.
func (r *Registry) OwnerWaitActive() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, err := r.load()
	if err != nil {
		return false, err
	}
	return snap.OwnerWaitActive, nil
}

// SetOwnerWait sets or clears the owner wait-lock flag, resetting the poll
// counter when the lock is acquired.
func (r *Registry) SetOwnerWait(active bool) error {
	return r.withLock(func(snap *snapshot) error {
		snap.OwnerWaitActive = active
		if active {
			now := time.Now().UTC()
			snap.OwnerWaitSince = &now
			snap.PollEmptyStreak = 0
		} else {
			snap.OwnerWaitSince = nil
		}
		return nil
	})
}

// PollStreak peeks at the consecutive-empty-poll counter without
// mutating it, so a caller can decide whether to even perform a poll.
func (r *Registry) PollStreak() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, err := r.load()
	if err != nil {
		return 0, err
	}
	return snap.PollEmptyStreak, nil
}

// NotePollResult records whether an owner unread-only poll returned results,
// returning the resulting consecutive-empty-poll streak.
func (r *Registry) NotePollResult(gotResults bool) (int, error) {
	var streak int
	err := r.withLock(func(snap *snapshot) error {
		if gotResults {
			snap.PollEmptyStreak = 0
		} else {
			snap.PollEmptyStreak++
		}
		streak = snap.PollEmptyStreak
		return nil
	})
	return streak, err
}
