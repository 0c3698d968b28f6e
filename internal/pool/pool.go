// Package pool maintains the bounded repo-key to agent-session mapping,
// including working-directory setup and LRU eviction of idle sessions.
package pool

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/voxd/voxd/internal/agent"
	"github.com/voxd/voxd/internal/repodetect"
)

// SessionFactory builds an agent session bound to a working directory.
// Installed by the control-plane wiring.
type SessionFactory func(repoKey, workingDir string, kind agent.Kind) *agent.Session

// PooledSession wraps an agent session with pool bookkeeping.
type PooledSession struct {
	RepoKey    string
	WorkingDir string
	Session    *agent.Session

	isProcessing bool
	lastUsed     time.Time
}

// SessionInfo is a read-only snapshot of one pooled session for /status.
type SessionInfo struct {
	RepoKey    string
	TaskID     string
	Agent      string
	Processing bool
	LastUsed   time.Time
}

// Manager is the bounded session pool. At most capacity sessions exist; when
// full, the idle session with the oldest lastUsed is evicted, except the
// default session, which always survives. If nothing is evictable the caller
// falls back to the default session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*PooledSession

	capacity  int
	baseDir   string
	githubOrg string
	factory   SessionFactory
	logger    *slog.Logger
}

func NewManager(capacity int, baseDir, githubOrg string, factory SessionFactory, logger *slog.Logger) *Manager {
	if capacity <= 0 {
		capacity = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*PooledSession),
		capacity:  capacity,
		baseDir:   baseDir,
		githubOrg: githubOrg,
		factory:   factory,
		logger:    logger,
	}
}

// GetOrCreate returns the session for repoKey, creating it if needed.
// usedFallback is true when the pool was full with nothing evictable and the
// default session was substituted.
func (m *Manager) GetOrCreate(repoKey string, kind agent.Kind) (*PooledSession, bool, error) {
	key := repodetect.Normalize(repoKey)

	m.mu.Lock()
	if ps, ok := m.sessions[key]; ok {
		ps.lastUsed = time.Now()
		m.mu.Unlock()
		return ps, false, nil
	}

	// The default session is exempt from the capacity check: it is the
	// fallback of last resort and must always be creatable.
	if key != repodetect.DefaultKey && len(m.sessions) >= m.capacity {
		if victim := m.evictableLocked(); victim != "" {
			delete(m.sessions, victim)
			m.logger.Info("evicted idle session", "repo", victim)
		} else {
			// Everything is busy or protected. Trade isolation for
			// liveness: run in the default workspace.
			m.mu.Unlock()
			ps, _, err := m.GetOrCreate(repodetect.DefaultKey, kind)
			return ps, true, err
		}
	}
	m.mu.Unlock()

	dir, err := m.setupRepoDirectory(key)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost a race with a concurrent creator for the same key.
	if ps, ok := m.sessions[key]; ok {
		ps.lastUsed = time.Now()
		return ps, false, nil
	}
	ps := &PooledSession{
		RepoKey:    key,
		WorkingDir: dir,
		Session:    m.factory(key, dir, kind),
		lastUsed:   time.Now(),
	}
	m.sessions[key] = ps
	m.logger.Info("created session", "repo", key, "dir", dir)
	return ps, false, nil
}

// evictableLocked picks the LRU idle session, never the default. Caller
// holds mu. Returns "" when nothing can go.
func (m *Manager) evictableLocked() string {
	var victim string
	var oldest time.Time
	for key, ps := range m.sessions {
		if key == repodetect.DefaultKey || ps.isProcessing {
			continue
		}
		if victim == "" || ps.lastUsed.Before(oldest) {
			victim = key
			oldest = ps.lastUsed
		}
	}
	return victim
}

// setupRepoDirectory materializes the working directory for a repo key. The
// default key uses the base directory directly. New directories are cloned
// from GitHub when the repo exists there, otherwise initialized empty.
func (m *Manager) setupRepoDirectory(key string) (string, error) {
	if key == repodetect.DefaultKey {
		if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
			return "", fmt.Errorf("create base directory: %w", err)
		}
		return m.baseDir, nil
	}

	dir := filepath.Join(m.baseDir, strings.ReplaceAll(key, "/", "_"))
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create repo directory: %w", err)
	}

	fullName := key
	if !strings.Contains(fullName, "/") && m.githubOrg != "" {
		fullName = m.githubOrg + "/" + fullName
	}

	if err := exec.Command("gh", "repo", "view", fullName).Run(); err == nil {
		clone := exec.Command("gh", "repo", "clone", fullName, dir)
		if out, err := clone.CombinedOutput(); err != nil {
			m.logger.Warn("clone failed, initializing empty repo", "repo", fullName, "output", strings.TrimSpace(string(out)))
			_ = initRepo(dir)
		}
	} else {
		m.logger.Info("repo not found on GitHub, initializing empty repo", "repo", fullName)
		_ = initRepo(dir)
	}
	return dir, nil
}

func initRepo(dir string) error {
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	return cmd.Run()
}

// SetProcessing flips the reservation flag for a repo.
func (m *Manager) SetProcessing(repoKey string, processing bool) {
	key := repodetect.Normalize(repoKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.sessions[key]; ok {
		ps.isProcessing = processing
		if processing {
			ps.lastUsed = time.Now()
		}
	}
}

// IsProcessing reports the reservation flag for a repo.
func (m *Manager) IsProcessing(repoKey string) bool {
	key := repodetect.Normalize(repoKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.sessions[key]; ok {
		return ps.isProcessing
	}
	return false
}

// CancelRepo cancels the in-flight task in a repo's session, if any.
func (m *Manager) CancelRepo(repoKey string) bool {
	key := repodetect.Normalize(repoKey)
	m.mu.Lock()
	ps, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return ps.Session.Cancel()
}

// CancelAll cancels every in-flight task. Returns the number cancelled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	sessions := make([]*PooledSession, 0, len(m.sessions))
	for _, ps := range m.sessions {
		sessions = append(sessions, ps)
	}
	m.mu.Unlock()

	n := 0
	for _, ps := range sessions {
		if ps.Session.Cancel() {
			n++
		}
	}
	return n
}

// ClearUserHistory drops one user's conversation across all sessions.
func (m *Manager) ClearUserHistory(userID string) {
	m.mu.Lock()
	sessions := make([]*PooledSession, 0, len(m.sessions))
	for _, ps := range m.sessions {
		sessions = append(sessions, ps)
	}
	m.mu.Unlock()

	for _, ps := range sessions {
		ps.Session.ClearHistory(userID)
	}
}

// Size returns the number of pooled sessions.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot returns session info for /status, sorted by nothing in particular.
func (m *Manager) Snapshot() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for _, ps := range m.sessions {
		out = append(out, SessionInfo{
			RepoKey:    ps.RepoKey,
			TaskID:     ps.Session.CurrentTaskID(),
			Agent:      string(ps.Session.AgentKind()),
			Processing: ps.isProcessing,
			LastUsed:   ps.lastUsed,
		})
	}
	return out
}
