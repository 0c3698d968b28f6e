package agent

import (
	"strings"
	"sync"
)

// Message is one turn of a user's conversation with the agent.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// History keeps a bounded per-user conversation. Turns beyond maxTurns are
// evicted oldest-first, as are turns that push the estimated token total over
// maxTokens. The token estimate is a whitespace split; it only needs to keep
// prompts under a coarse upper bound.
type History struct {
	mu        sync.Mutex
	byUser    map[string][]Message
	maxTurns  int
	maxTokens int
}

func NewHistory(maxTurns, maxTokens int) *History {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &History{
		byUser:    make(map[string][]Message),
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
	}
}

// Append adds a turn and applies the bounds.
func (h *History) Append(userID, role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := append(h.byUser[userID], Message{Role: role, Content: content})
	if len(msgs) > h.maxTurns {
		msgs = msgs[len(msgs)-h.maxTurns:]
	}
	if h.maxTokens > 0 {
		for len(msgs) > 1 && estimateTokens(msgs) > h.maxTokens {
			msgs = msgs[1:]
		}
	}
	h.byUser[userID] = msgs
}

// Get returns a copy of the user's conversation.
func (h *History) Get(userID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.byUser[userID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear drops the user's conversation.
func (h *History) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byUser, userID)
}

// EstimatedTokens reports the current token estimate for a user.
func (h *History) EstimatedTokens(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return estimateTokens(h.byUser[userID])
}

func estimateTokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len(strings.Fields(m.Content))
	}
	return n
}
