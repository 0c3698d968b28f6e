package gateway

import (
	"context"
	"sync"

	"github.com/voxd/voxd/internal/bus"
)

// PendingInput records one outstanding INPUT_NEEDED request so the matching
// /input-response can be routed back to the right repo session.
type PendingInput struct {
	InputID   string
	UserID    string
	RepoKey   string
	AgentKind string
}

// InputRegistry tracks pending inputs by watching the bus. An entry is
// consumed by the first matching response.
type InputRegistry struct {
	mu      sync.Mutex
	pending map[string]PendingInput
	bus     *bus.UpdateBus
}

func NewInputRegistry(b *bus.UpdateBus) *InputRegistry {
	return &InputRegistry{
		pending: make(map[string]PendingInput),
		bus:     b,
	}
}

// Start watches the bus for INPUT_NEEDED updates until ctx is cancelled.
func (r *InputRegistry) Start(ctx context.Context) {
	id, updates := r.bus.Subscribe(bus.DefaultBuffer)
	go func() {
		defer r.bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if u.Type == bus.InputNeeded && u.InputID != "" {
					r.add(PendingInput{
						InputID:   u.InputID,
						UserID:    u.UserID,
						RepoKey:   u.RepoKey,
						AgentKind: u.Agent,
					})
				}
			}
		}
	}()
}

func (r *InputRegistry) add(p PendingInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.InputID] = p
}

// Take consumes a pending input. It fails when the id is unknown or belongs
// to a different user.
func (r *InputRegistry) Take(inputID, userID string) (PendingInput, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[inputID]
	if !ok || p.UserID != userID {
		return PendingInput{}, false
	}
	delete(r.pending, inputID)
	return p, true
}

// PendingCount reports the number of unconsumed inputs.
func (r *InputRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
