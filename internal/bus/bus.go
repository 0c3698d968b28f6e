// Package bus provides the in-process broadcast of orchestrator updates.
package bus

import (
	"sync"
	"time"
)

// UpdateType tags the kind of update flowing out to subscribers.
type UpdateType string

const (
	StatusUpdate     UpdateType = "STATUS_UPDATE"
	InputNeeded      UpdateType = "INPUT_NEEDED"
	ApprovalRequired UpdateType = "APPROVAL_REQUIRED"
	TaskComplete     UpdateType = "TASK_COMPLETE"
	ErrorUpdate      UpdateType = "ERROR"
)

// ApprovalDetails describes the operation an APPROVAL_REQUIRED update is about.
type ApprovalDetails struct {
	Action  string `json:"action"`
	Repo    string `json:"repo"`
	Details string `json:"details"`
}

// Update is a single event broadcast to all streaming subscribers.
// Subscribers filter by UserID themselves; the bus does no per-user routing.
type Update struct {
	Type                UpdateType       `json:"type"`
	UserID              string           `json:"userId"`
	Message             string           `json:"message"`
	Agent               string           `json:"agent,omitempty"`
	TaskID              string           `json:"taskId,omitempty"`
	TaskTitle           string           `json:"taskTitle,omitempty"`
	RepoKey             string           `json:"repoKey,omitempty"`
	InputID             string           `json:"inputId,omitempty"`
	ExpectedInputFormat string           `json:"expectedInputFormat,omitempty"`
	ApprovalID          string           `json:"approvalId,omitempty"`
	ApprovalDetails     *ApprovalDetails `json:"approvalDetails,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// UpdateBus fans every published update out to all current subscribers.
// Delivery is best-effort: a subscriber whose buffer is full misses the
// update; other subscribers are unaffected.
type UpdateBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan *Update
}

// NewUpdateBus creates an empty bus.
func NewUpdateBus() *UpdateBus {
	return &UpdateBus{subs: make(map[int]chan *Update)}
}

// Subscribe registers a new subscriber and returns its id and receive channel.
// The channel is closed on Unsubscribe.
func (b *UpdateBus) Subscribe(buffer int) (int, <-chan *Update) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *Update, buffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *UpdateBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers the update to every subscriber without blocking.
func (b *UpdateBus) Publish(u *Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
			// Subscriber is not keeping up; drop for this one only.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *UpdateBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
