package agent

import "testing"

func TestHistoryAppendAndGet(t *testing.T) {
	h := NewHistory(10, 0)
	h.Append("alice", "user", "fix the bug")
	h.Append("alice", "assistant", "done")

	msgs := h.Get("alice")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", msgs)
	}
}

func TestHistoryBoundedByTurns(t *testing.T) {
	h := NewHistory(3, 0)
	for i := 0; i < 10; i++ {
		h.Append("alice", "user", "message")
	}
	if got := len(h.Get("alice")); got != 3 {
		t.Fatalf("got %d messages, want 3", got)
	}
}

func TestHistoryBoundedByTokens(t *testing.T) {
	h := NewHistory(100, 10)
	for i := 0; i < 5; i++ {
		h.Append("alice", "user", "one two three four five")
	}
	if got := h.EstimatedTokens("alice"); got > 10 {
		t.Fatalf("estimated tokens = %d, want <= 10", got)
	}
	// The newest message always survives.
	if len(h.Get("alice")) == 0 {
		t.Fatal("history emptied below one message")
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(10, 0)
	h.Append("alice", "user", "hello")
	h.Append("bob", "user", "hello")
	h.Clear("alice")
	if len(h.Get("alice")) != 0 {
		t.Fatal("alice history not cleared")
	}
	if len(h.Get("bob")) != 1 {
		t.Fatal("bob history affected by alice clear")
	}
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	h := NewHistory(10, 0)
	h.Append("alice", "user", "a")
	h.Append("bob", "user", "b")
	if h.Get("alice")[0].Content != "a" || h.Get("bob")[0].Content != "b" {
		t.Fatal("histories crossed users")
	}
}
