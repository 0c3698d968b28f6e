package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/voxd/voxd/internal/bus"
)

func TestInputRegistryWatchesBus(t *testing.T) {
	b := bus.NewUpdateBus()
	r := NewInputRegistry(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	b.Publish(&bus.Update{
		Type: bus.InputNeeded, UserID: "alice", InputID: "in-9",
		RepoKey: "acme/widgets", Agent: "claude",
	})
	// Updates without an input id are ignored.
	b.Publish(&bus.Update{Type: bus.StatusUpdate, UserID: "alice", Message: "working"})

	deadline := time.Now().Add(time.Second)
	for r.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", r.PendingCount())
	}

	// Wrong user cannot consume it.
	if _, ok := r.Take("in-9", "bob"); ok {
		t.Fatal("cross-user take succeeded")
	}
	p, ok := r.Take("in-9", "alice")
	if !ok || p.RepoKey != "acme/widgets" {
		t.Fatalf("take = %+v ok=%v", p, ok)
	}
	if _, ok := r.Take("in-9", "alice"); ok {
		t.Fatal("input consumed twice")
	}
}
