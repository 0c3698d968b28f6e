package approval

import (
	"testing"
	"time"

	"github.com/voxd/voxd/internal/bus"
)

func newTestGate(t *testing.T, timeout time.Duration) (*Gate, *bus.UpdateBus) {
	t.Helper()
	b := bus.NewUpdateBus()
	return NewGate(b, nil, timeout), b
}

func details(action string) bus.ApprovalDetails {
	return bus.ApprovalDetails{Action: action}
}

func TestApproveDelivered(t *testing.T) {
	g, _ := newTestGate(t, time.Minute)
	id, ch := g.Request("alice", "task-1", details("git push origin main"))

	if err := g.Respond(id, "alice", true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	select {
	case approved := <-ch:
		if !approved {
			t.Fatal("expected approval")
		}
	case <-time.After(time.Second):
		t.Fatal("decision never delivered")
	}
}

func TestDenyDelivered(t *testing.T) {
	g, _ := newTestGate(t, time.Minute)
	id, ch := g.Request("alice", "task-1", details("rm -rf build"))

	if err := g.Respond(id, "alice", false); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if approved := <-ch; approved {
		t.Fatal("expected denial")
	}
}

func TestRespondUnknownID(t *testing.T) {
	g, _ := newTestGate(t, time.Minute)
	if err := g.Respond("nope", "alice", true); err == nil {
		t.Fatal("expected error for unknown approval")
	}
}

func TestRespondWrongUser(t *testing.T) {
	g, _ := newTestGate(t, time.Minute)
	id, _ := g.Request("alice", "task-1", details("git push"))
	if err := g.Respond(id, "mallory", true); err == nil {
		t.Fatal("expected error for wrong user")
	}
	// The rightful owner can still answer.
	if err := g.Respond(id, "alice", true); err != nil {
		t.Fatalf("owner Respond: %v", err)
	}
}

func TestSecondRespondRejected(t *testing.T) {
	g, _ := newTestGate(t, time.Minute)
	id, ch := g.Request("alice", "task-1", details("git push"))
	if err := g.Respond(id, "alice", true); err != nil {
		t.Fatalf("first Respond: %v", err)
	}
	<-ch
	if err := g.Respond(id, "alice", false); err == nil {
		t.Fatal("expected error on second respond")
	}
}

func TestTimeoutDenies(t *testing.T) {
	g, b := newTestGate(t, 20*time.Millisecond)
	sub, updates := b.Subscribe(bus.DefaultBuffer)
	defer b.Unsubscribe(sub)

	_, ch := g.Request("alice", "task-1", details("git push"))
	select {
	case approved := <-ch:
		if approved {
			t.Fatal("timeout should deny")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// APPROVAL_REQUIRED first, then the timeout status update.
	deadline := time.After(time.Second)
	for {
		select {
		case u := <-updates:
			if u.Type == bus.StatusUpdate {
				return
			}
		case <-deadline:
			t.Fatal("no status update after timeout")
		}
	}
}

func TestZeroTimeoutDeniesImmediately(t *testing.T) {
	g, _ := newTestGate(t, 0)
	_, ch := g.Request("alice", "task-1", details("git push"))
	select {
	case approved := <-ch:
		if approved {
			t.Fatal("zero timeout should deny")
		}
	default:
		t.Fatal("zero timeout should deliver denial without blocking")
	}
	if g.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", g.PendingCount())
	}
}

func TestCancelAllForUser(t *testing.T) {
	g, _ := newTestGate(t, time.Minute)
	_, ch1 := g.Request("alice", "task-1", details("git push"))
	_, ch2 := g.Request("alice", "task-2", details("rm -rf build"))
	idBob, _ := g.Request("bob", "task-3", details("git push"))

	if n := g.CancelAllForUser("alice"); n != 2 {
		t.Fatalf("cancelled %d, want 2", n)
	}
	if approved := <-ch1; approved {
		t.Fatal("cancel should deny")
	}
	if approved := <-ch2; approved {
		t.Fatal("cancel should deny")
	}
	// Bob's approval survives.
	if err := g.Respond(idBob, "bob", true); err != nil {
		t.Fatalf("bob Respond: %v", err)
	}
}

func TestRequestPublishesApprovalRequired(t *testing.T) {
	g, b := newTestGate(t, time.Minute)
	sub, updates := b.Subscribe(bus.DefaultBuffer)
	defer b.Unsubscribe(sub)

	id, _ := g.Request("alice", "task-1", details("git push origin main"))
	select {
	case u := <-updates:
		if u.Type != bus.ApprovalRequired {
			t.Fatalf("type = %q, want APPROVAL_REQUIRED", u.Type)
		}
		if u.ApprovalID != id || u.UserID != "alice" {
			t.Fatalf("unexpected update: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no approval update published")
	}
}
