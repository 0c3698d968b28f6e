package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/config"
)

func fakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

func testConfig(t *testing.T, agentCmd string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, Secret: "sekrit"},
		Paths:  config.PathsConfig{WorkingDirectory: t.TempDir()},
		Queue: config.QueueConfig{
			MaxConcurrentRepos:    2,
			MaxQueueSize:          10,
			MaxTasksPerUser:       5,
			MaxConcurrentSessions: 3,
		},
		Agent: config.AgentConfig{
			DefaultAgent:  "claude",
			ClaudeCommand: agentCmd,
			CodexCommand:  agentCmd,
		},
		Approval: config.ApprovalConfig{TimeoutSeconds: 60},
		History:  config.HistoryConfig{MaxTurns: 20},
	}
}

func TestTaskFlowsThroughPoolAndSession(t *testing.T) {
	cmd := fakeAgent(t, `printf '%s\n' '{"type":"result","result":"All done, readme updated"}'`)
	o, err := New(testConfig(t, cmd), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub, updates := o.Bus.Subscribe(bus.DefaultBuffer)
	defer o.Bus.Unsubscribe(sub)

	// No repo named: runs in the default workspace.
	task, err := o.Queue.Enqueue("alice", "tidy up the notes file", "claude", "__default__", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Type == bus.TaskComplete && u.TaskID == task.ID {
				return
			}
			if u.Type == bus.ErrorUpdate {
				t.Fatalf("error update: %s", u.Message)
			}
		case <-deadline:
			t.Fatal("no TASK_COMPLETE observed")
		}
	}
}

func TestProcessingFlagTracksTask(t *testing.T) {
	cmd := fakeAgent(t, `sleep 0.2
printf '%s\n' '{"type":"result","result":"done"}'`)
	o, err := New(testConfig(t, cmd), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := o.Queue.Enqueue("alice", "slow work", "claude", "__default__", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitUntil(t, func() bool { return o.Pool.IsProcessing("__default__") }, "session reserved")
	waitUntil(t, func() bool { return !o.Pool.IsProcessing("__default__") }, "session released")

	if o.Queue.ActiveRepos() != 0 {
		t.Fatalf("activeRepos = %d after completion", o.Queue.ActiveRepos())
	}
}

func TestInitFailsWithoutWorkingDirectory(t *testing.T) {
	cfg := testConfig(t, "true")
	// A file where the directory should be makes setup fail.
	path := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Paths.WorkingDirectory = filepath.Join(path, "nested")

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected init error for unusable working directory")
	}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
