package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/voxd/voxd/internal/bus"
)

type fakePoster struct {
	mu       sync.Mutex
	channels []string
	count    int
}

func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelID)
	f.count++
	return channelID, "ts", nil
}

func (f *fakePoster) posted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func TestOnlyHighSignalUpdatesPosted(t *testing.T) {
	b := bus.NewUpdateBus()
	fake := &fakePoster{}
	n := &SlackNotifier{api: fake, channelID: "C123", bus: b, logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	b.Publish(&bus.Update{Type: bus.StatusUpdate, UserID: "alice", Message: "working..."})
	b.Publish(&bus.Update{Type: bus.TaskComplete, UserID: "alice", RepoKey: "acme/widgets", TaskTitle: "Update readme"})
	b.Publish(&bus.Update{Type: bus.ErrorUpdate, UserID: "alice", RepoKey: "acme/widgets", Message: "Agent failed"})

	deadline := time.Now().Add(time.Second)
	for fake.posted() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fake.posted(); got != 2 {
		t.Fatalf("posted %d messages, want 2 (status updates stay off Slack)", got)
	}
}

func TestRenderUpdate(t *testing.T) {
	u := &bus.Update{
		Type:   bus.ApprovalRequired,
		UserID: "alice",
		ApprovalDetails: &bus.ApprovalDetails{
			Action: "git push", Repo: "acme/widgets", Details: "git push origin main",
		},
	}
	text := renderUpdate(u)
	if text == "" {
		t.Fatal("approval update not rendered")
	}
	for _, want := range []string{"git push", "acme/widgets"} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered %q missing %q", text, want)
		}
	}
	if renderUpdate(&bus.Update{Type: bus.InputNeeded}) != "" {
		t.Fatal("input updates should stay off Slack")
	}
}
