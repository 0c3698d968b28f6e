package pool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxd/voxd/internal/agent"
	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/repodetect"
)

func newTestManager(t *testing.T, capacity int, repos ...string) *Manager {
	t.Helper()
	baseDir := t.TempDir()
	// Pre-materialize repo directories so no clone probe runs.
	for _, r := range repos {
		dir := filepath.Join(baseDir, strings.ReplaceAll(r, "/", "_"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	b := bus.NewUpdateBus()
	factory := func(repoKey, workingDir string, kind agent.Kind) *agent.Session {
		return agent.NewSession(agent.Options{
			RepoKey:    repoKey,
			WorkingDir: workingDir,
			Kind:       kind,
			Command:    "/bin/true",
			Bus:        b,
		})
	}
	return NewManager(capacity, baseDir, "", factory, nil)
}

func TestGetOrCreateReusesSession(t *testing.T) {
	m := newTestManager(t, 5, "acme/widgets")
	first, fb, err := m.GetOrCreate("acme/widgets", agent.KindClaude)
	if err != nil || fb {
		t.Fatalf("GetOrCreate: err=%v fallback=%v", err, fb)
	}
	second, _, err := m.GetOrCreate("Acme/Widgets", agent.KindClaude)
	if err != nil {
		t.Fatalf("GetOrCreate second: %v", err)
	}
	if first != second {
		t.Fatal("same normalized key produced two sessions")
	}
	if m.Size() != 1 {
		t.Fatalf("size = %d, want 1", m.Size())
	}
}

func TestDefaultKeyUsesBaseDirectory(t *testing.T) {
	m := newTestManager(t, 5)
	ps, _, err := m.GetOrCreate(repodetect.DefaultKey, agent.KindClaude)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if ps.WorkingDir != m.baseDir {
		t.Fatalf("default dir = %q, want base %q", ps.WorkingDir, m.baseDir)
	}
}

func TestLRUEvictionSkipsNewest(t *testing.T) {
	m := newTestManager(t, 2, "org/a", "org/b", "org/c")

	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/b", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	// Touch org/a so org/b becomes LRU.
	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/c", agent.KindClaude); err != nil {
		t.Fatal(err)
	}

	if m.Size() != 2 {
		t.Fatalf("size = %d, want 2", m.Size())
	}
	m.mu.Lock()
	_, hasA := m.sessions["org/a"]
	_, hasB := m.sessions["org/b"]
	m.mu.Unlock()
	if !hasA || hasB {
		t.Fatalf("eviction picked wrong victim: hasA=%v hasB=%v", hasA, hasB)
	}
}

func TestProcessingSessionNotEvicted(t *testing.T) {
	m := newTestManager(t, 2, "org/a", "org/b", "org/c")
	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/b", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	m.SetProcessing("org/a", true)
	m.SetProcessing("org/b", true)

	ps, fallback, err := m.GetOrCreate("org/c", agent.KindClaude)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !fallback {
		t.Fatal("expected fallback to default session")
	}
	if ps.RepoKey != repodetect.DefaultKey {
		t.Fatalf("fallback repoKey = %q", ps.RepoKey)
	}
}

func TestDefaultSessionNeverEvicted(t *testing.T) {
	m := newTestManager(t, 2, "org/a", "org/b")
	if _, _, err := m.GetOrCreate(repodetect.DefaultKey, agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/b", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	_, hasDefault := m.sessions[repodetect.DefaultKey]
	m.mu.Unlock()
	if !hasDefault {
		t.Fatal("default session was evicted")
	}
}

func TestSetAndIsProcessing(t *testing.T) {
	m := newTestManager(t, 5, "org/a")
	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if m.IsProcessing("org/a") {
		t.Fatal("new session should be idle")
	}
	m.SetProcessing("org/a", true)
	if !m.IsProcessing("org/a") {
		t.Fatal("processing flag not set")
	}
	m.SetProcessing("org/a", false)
	if m.IsProcessing("org/a") {
		t.Fatal("processing flag not cleared")
	}
}

func TestSnapshotReflectsSessions(t *testing.T) {
	m := newTestManager(t, 5, "org/a", "org/b")
	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/b", agent.KindCodex); err != nil {
		t.Fatal(err)
	}
	m.SetProcessing("org/b", true)

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	for _, s := range snap {
		if s.RepoKey == "org/b" && !s.Processing {
			t.Fatal("org/b not marked processing in snapshot")
		}
	}
}

func TestCancelRepoUnknownKey(t *testing.T) {
	m := newTestManager(t, 5)
	if m.CancelRepo("org/nope") {
		t.Fatal("cancel on unknown repo returned true")
	}
}

func TestClearUserHistoryFansOut(t *testing.T) {
	m := newTestManager(t, 5, "org/a", "org/b")
	if _, _, err := m.GetOrCreate("org/a", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.GetOrCreate("org/b", agent.KindClaude); err != nil {
		t.Fatal(err)
	}
	// Smoke: must not panic with multiple sessions.
	m.ClearUserHistory("alice")
}
