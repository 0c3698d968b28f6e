// Package approval implements the interactive approval gate for destructive
// operations surfaced by agent sessions.
package approval

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/timeline"
)

type pendingApproval struct {
	userID   string
	taskID   string
	details  string
	ch       chan bool
	timer    *time.Timer
	resolved bool
}

// Gate owns the one-shot rendezvous between a waiting agent session and the
// user's approval decision. Each request resolves exactly once: by response,
// by timeout, or by user-level cancellation.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*pendingApproval
	bus      *bus.UpdateBus
	timeline *timeline.Service
	timeout  time.Duration
}

// NewGate creates an approval gate. Timeline may be nil. A zero timeout means
// approvals are denied immediately, which effectively disables the gate.
func NewGate(b *bus.UpdateBus, tl *timeline.Service, timeout time.Duration) *Gate {
	g := &Gate{
		pending:  make(map[string]*pendingApproval),
		bus:      b,
		timeline: tl,
		timeout:  timeout,
	}
	// Pending rows from a previous process can never be answered.
	_, _ = tl.ExpireStaleApprovals()
	return g
}

// Request registers a pending approval, announces it on the bus, and returns
// a channel that yields the decision exactly once. The channel receives false
// when the deadline lapses or the request is cancelled.
func (g *Gate) Request(userID, taskID string, details bus.ApprovalDetails) (string, <-chan bool) {
	id := uuid.NewString()
	ch := make(chan bool, 1)
	detailText := details.Action
	if details.Details != "" {
		detailText += ": " + details.Details
	}

	if g.timeout <= 0 {
		ch <- false
		_ = g.timeline.RecordApproval(&timeline.ApprovalRecord{
			ApprovalID: id, UserID: userID, TaskID: taskID, Details: detailText,
			Status: timeline.ApprovalDenied,
		})
		return id, ch
	}

	p := &pendingApproval{userID: userID, taskID: taskID, details: detailText, ch: ch}
	g.mu.Lock()
	g.pending[id] = p
	p.timer = time.AfterFunc(g.timeout, func() { g.expire(id) })
	g.mu.Unlock()

	_ = g.timeline.RecordApproval(&timeline.ApprovalRecord{
		ApprovalID: id, UserID: userID, TaskID: taskID, Details: detailText,
	})

	g.bus.Publish(&bus.Update{
		Type:            bus.ApprovalRequired,
		UserID:          userID,
		TaskID:          taskID,
		ApprovalID:      id,
		ApprovalDetails: &details,
		Message:         "Approval required: " + detailText,
	})

	return id, ch
}

// Respond delivers the user's decision. It fails if the approval is unknown,
// already resolved, or belongs to a different user.
func (g *Gate) Respond(approvalID, userID string, approved bool) error {
	g.mu.Lock()
	p, ok := g.pending[approvalID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("no pending approval: %s", approvalID)
	}
	if p.resolved {
		g.mu.Unlock()
		return fmt.Errorf("approval already resolved: %s", approvalID)
	}
	if p.userID != userID {
		g.mu.Unlock()
		return fmt.Errorf("approval %s does not belong to user %s", approvalID, userID)
	}
	g.resolveLocked(approvalID, p, approved)
	g.mu.Unlock()

	status := timeline.ApprovalDenied
	if approved {
		status = timeline.ApprovalApproved
	}
	_ = g.timeline.ResolveApproval(approvalID, status)
	return nil
}

// CancelAllForUser denies every pending approval held by the user. Returns
// the number of approvals cancelled.
func (g *Gate) CancelAllForUser(userID string) int {
	g.mu.Lock()
	var ids []string
	for id, p := range g.pending {
		if p.userID == userID && !p.resolved {
			g.resolveLocked(id, p, false)
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		_ = g.timeline.ResolveApproval(id, timeline.ApprovalDenied)
	}
	return len(ids)
}

// PendingCount reports the number of unresolved approvals.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Gate) expire(id string) {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok || p.resolved {
		g.mu.Unlock()
		return
	}
	g.resolveLocked(id, p, false)
	g.mu.Unlock()

	_ = g.timeline.ResolveApproval(id, timeline.ApprovalExpired)
	g.bus.Publish(&bus.Update{
		Type:    bus.StatusUpdate,
		UserID:  p.userID,
		TaskID:  p.taskID,
		Message: "Approval request timed out and was denied.",
	})
}

// resolveLocked delivers the decision and removes the entry. Caller holds mu.
func (g *Gate) resolveLocked(id string, p *pendingApproval, approved bool) {
	p.resolved = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- approved
	delete(g.pending, id)
}
