// Package queue implements the parallel task queue: one FIFO per repository
// key, at most one in-flight task per repo, bounded global and per-user depth.
// Repos advance concurrently up to the configured cap.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/timeline"
)

// Status is the lifecycle state of a queued task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrQueueFull         = errors.New("task queue is full")
	ErrUserQuotaExceeded = errors.New("per-user task quota exceeded")
	ErrUnknownTask       = errors.New("no such task")
)

// Task is one unit of queued work. The queue owns it; sessions hold only a
// borrowed reference via the processor callback.
type Task struct {
	ID          string
	UserID      string
	Instruction string
	RepoKey     string
	AgentKind   string
	Title       string
	Status      Status
	Position    int
	EnqueuedAt  time.Time
	StartedAt   time.Time
}

// Processor executes one task. Installed once by the control-plane wiring.
// A returned error marks the task failed.
type Processor func(task *Task) error

// CancelResult reports what CancelTask found.
type CancelResult struct {
	Cancelled     bool
	WasProcessing bool
	RepoKey       string
}

// RepoQueueInfo is a per-repo snapshot for /status.
type RepoQueueInfo struct {
	RepoKey       string `json:"repoKey"`
	Queued        int    `json:"queued"`
	Processing    bool   `json:"processing"`
	CurrentTaskID string `json:"currentTaskId,omitempty"`
}

// Snapshot is the queue part of the /status response.
type Snapshot struct {
	TotalQueued        int             `json:"totalQueued"`
	ActiveRepos        int             `json:"activeRepos"`
	MaxConcurrentRepos int             `json:"maxConcurrentRepos"`
	ProcessingRepos    []string        `json:"processingRepos"`
	RepoQueues         []RepoQueueInfo `json:"repoQueues"`
}

// Queue is the sharded FIFO scheduler. All public methods are safe for
// concurrent use.
type Queue struct {
	mu         sync.Mutex
	queues     map[string][]*Task
	processing map[string]string // repoKey -> in-flight task id

	maxQueueSize       int
	maxTasksPerUser    int
	maxConcurrentRepos int

	processor Processor
	bus       *bus.UpdateBus
	timeline  *timeline.Service
	logger    *slog.Logger
}

// Options configures a Queue.
type Options struct {
	MaxQueueSize       int
	MaxTasksPerUser    int
	MaxConcurrentRepos int
	Bus                *bus.UpdateBus
	Timeline           *timeline.Service
	Logger             *slog.Logger
}

func New(opts Options) *Queue {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 20
	}
	if opts.MaxTasksPerUser <= 0 {
		opts.MaxTasksPerUser = 5
	}
	if opts.MaxConcurrentRepos <= 0 {
		opts.MaxConcurrentRepos = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		queues:             make(map[string][]*Task),
		processing:         make(map[string]string),
		maxQueueSize:       opts.MaxQueueSize,
		maxTasksPerUser:    opts.MaxTasksPerUser,
		maxConcurrentRepos: opts.MaxConcurrentRepos,
		bus:                opts.Bus,
		timeline:           opts.Timeline,
		logger:             opts.Logger,
	}
}

// SetProcessor installs the task executor. Must be called before Enqueue.
func (q *Queue) SetProcessor(p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = p
}

// Enqueue admits a new task for the given repo. It enforces the global and
// per-user bounds, emits a queued/starting status update, and kicks the
// scheduler. The returned task is a snapshot safe to read without locking.
func (q *Queue) Enqueue(userID, instruction, agentKind, repoKey, title string) (Task, error) {
	q.mu.Lock()

	if q.pendingCountLocked() >= q.maxQueueSize {
		q.mu.Unlock()
		return Task{}, ErrQueueFull
	}
	if q.userQueuedLocked(userID) >= q.maxTasksPerUser {
		q.mu.Unlock()
		return Task{}, ErrUserQuotaExceeded
	}

	task := &Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Instruction: instruction,
		RepoKey:     repoKey,
		AgentKind:   agentKind,
		Title:       title,
		Status:      StatusQueued,
		EnqueuedAt:  time.Now(),
	}
	task.Position = q.queuedInRepoLocked(repoKey) + 1
	q.queues[repoKey] = append(q.queues[repoKey], task)

	repoBusy := task.Position > 1 || q.processing[repoKey] != ""
	activeOthers := len(q.processing)
	snapshot := *task
	q.mu.Unlock()

	_ = q.timeline.RecordTask(&timeline.TaskRecord{
		TaskID: task.ID, UserID: userID, RepoKey: repoKey, Agent: agentKind,
		Title: title, Instruction: instruction, Status: timeline.TaskStatusQueued,
	})

	msg := fmt.Sprintf("Task queued for %s at position %d.", repoKey, snapshot.Position)
	if !repoBusy {
		msg = fmt.Sprintf("Starting task for %s (running in parallel with %d other repos).", repoKey, activeOthers)
	}
	q.bus.Publish(&bus.Update{
		Type: bus.StatusUpdate, UserID: userID, TaskID: snapshot.ID,
		TaskTitle: title, RepoKey: repoKey, Agent: agentKind, Message: msg,
	})
	q.logger.Info("task enqueued", "task_id", snapshot.ID, "repo", repoKey, "position", snapshot.Position)

	q.tryProcessNext()
	return snapshot, nil
}

// tryProcessNext promotes the oldest queued task of every idle repo until the
// concurrency cap is reached. Promoted tasks run on their own goroutine; the
// call never blocks on task execution.
func (q *Queue) tryProcessNext() {
	q.mu.Lock()
	var promoted []*Task
	for repo, tasks := range q.queues {
		if len(q.processing) >= q.maxConcurrentRepos {
			break
		}
		if _, busy := q.processing[repo]; busy {
			continue
		}
		next := oldestQueued(tasks)
		if next == nil {
			continue
		}
		next.Status = StatusProcessing
		next.StartedAt = time.Now()
		q.processing[repo] = next.ID
		q.renumberLocked(repo)
		promoted = append(promoted, next)
	}
	processor := q.processor
	q.mu.Unlock()

	for _, task := range promoted {
		_ = q.timeline.UpdateTaskStatus(task.ID, timeline.TaskStatusProcessing, "", "")
		q.logger.Info("task processing", "task_id", task.ID, "repo", task.RepoKey)
		go q.runTask(processor, task)
	}
}

// runTask drives one promoted task through the processor and releases the
// repo slot afterwards.
func (q *Queue) runTask(processor Processor, task *Task) {
	var err error
	if processor == nil {
		err = errors.New("no processor installed")
	} else {
		err = processor(task)
	}

	q.mu.Lock()
	// A concurrent CancelTask may have already released the slot and marked
	// the task; its terminal state wins.
	if task.Status == StatusProcessing {
		if err != nil {
			task.Status = StatusFailed
		} else {
			task.Status = StatusCompleted
		}
	}
	if q.processing[task.RepoKey] == task.ID {
		delete(q.processing, task.RepoKey)
	}
	q.gcLocked(task.RepoKey)
	notify := q.frontPositionsLocked(task.RepoKey, 3)
	q.mu.Unlock()

	if err != nil && task.Status == StatusFailed {
		q.logger.Warn("task failed", "task_id", task.ID, "repo", task.RepoKey, "error", err)
	}

	for _, t := range notify {
		q.bus.Publish(&bus.Update{
			Type: bus.StatusUpdate, UserID: t.UserID, TaskID: t.ID,
			TaskTitle: t.Title, RepoKey: t.RepoKey, Agent: t.AgentKind,
			Message: fmt.Sprintf("Your task for %s is now at position %d.", t.RepoKey, t.Position),
		})
	}

	q.tryProcessNext()
}

// CancelTask cancels one task by id. Queued tasks leave the queue; a
// processing task releases its repo slot and reports WasProcessing so the
// caller can signal the agent subprocess. Tasks owned by other users are left
// alone.
func (q *Queue) CancelTask(taskID, userID string) (CancelResult, error) {
	q.mu.Lock()
	task := q.findLocked(taskID)
	if task == nil || task.UserID != userID {
		q.mu.Unlock()
		return CancelResult{}, ErrUnknownTask
	}
	res := CancelResult{RepoKey: task.RepoKey}
	switch task.Status {
	case StatusQueued:
		task.Status = StatusCancelled
		res.Cancelled = true
		q.gcLocked(task.RepoKey)
		q.renumberLocked(task.RepoKey)
	case StatusProcessing:
		task.Status = StatusCancelled
		res.Cancelled = true
		res.WasProcessing = true
		if q.processing[task.RepoKey] == taskID {
			delete(q.processing, task.RepoKey)
		}
	default:
		q.mu.Unlock()
		return CancelResult{}, ErrUnknownTask
	}
	q.mu.Unlock()

	_ = q.timeline.UpdateTaskStatus(taskID, timeline.TaskStatusCancelled, "", "cancelled by user")
	q.bus.Publish(&bus.Update{
		Type: bus.StatusUpdate, UserID: userID, TaskID: taskID,
		RepoKey: res.RepoKey, Message: "Task cancelled.",
	})
	q.logger.Info("task cancelled", "task_id", taskID, "repo", res.RepoKey, "was_processing", res.WasProcessing)

	q.tryProcessNext()
	return res, nil
}

// UserCancelResult reports what CancelAllForUser removed.
type UserCancelResult struct {
	Cancelled       int
	CancelledQueued int
	ProcessingRepos []string
}

// CancelAllForUser cancels every queued and processing task owned by the
// user. Returned repos had an in-flight task; the caller cancels those
// agents. Other users' tasks in the same repos are untouched.
func (q *Queue) CancelAllForUser(userID string) UserCancelResult {
	q.mu.Lock()
	var res UserCancelResult
	var cancelledIDs []string
	for repo, tasks := range q.queues {
		for _, t := range tasks {
			if t.UserID != userID {
				continue
			}
			switch t.Status {
			case StatusQueued:
				t.Status = StatusCancelled
				res.Cancelled++
				res.CancelledQueued++
				cancelledIDs = append(cancelledIDs, t.ID)
			case StatusProcessing:
				t.Status = StatusCancelled
				res.Cancelled++
				cancelledIDs = append(cancelledIDs, t.ID)
				res.ProcessingRepos = append(res.ProcessingRepos, repo)
				if q.processing[repo] == t.ID {
					delete(q.processing, repo)
				}
			}
		}
		q.gcLocked(repo)
		q.renumberLocked(repo)
	}
	q.mu.Unlock()

	for _, id := range cancelledIDs {
		_ = q.timeline.UpdateTaskStatus(id, timeline.TaskStatusCancelled, "", "cancelled by user")
	}
	if res.Cancelled > 0 {
		q.bus.Publish(&bus.Update{
			Type: bus.StatusUpdate, UserID: userID,
			Message: fmt.Sprintf("Cancelled %d task(s).", res.Cancelled),
		})
	}
	q.tryProcessNext()
	return res
}

// TotalQueued counts queued tasks across all repos.
func (q *Queue) TotalQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, tasks := range q.queues {
		for _, t := range tasks {
			if t.Status == StatusQueued {
				n++
			}
		}
	}
	return n
}

// ActiveRepos counts repos with an in-flight task.
func (q *Queue) ActiveRepos() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// GetSnapshot returns the queue state for /status.
func (q *Queue) GetSnapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		MaxConcurrentRepos: q.maxConcurrentRepos,
		ProcessingRepos:    make([]string, 0, len(q.processing)),
		RepoQueues:         make([]RepoQueueInfo, 0, len(q.queues)),
	}
	for repo := range q.processing {
		snap.ProcessingRepos = append(snap.ProcessingRepos, repo)
	}
	snap.ActiveRepos = len(q.processing)
	for repo, tasks := range q.queues {
		info := RepoQueueInfo{RepoKey: repo, CurrentTaskID: q.processing[repo]}
		info.Processing = info.CurrentTaskID != ""
		for _, t := range tasks {
			if t.Status == StatusQueued {
				info.Queued++
			}
		}
		snap.TotalQueued += info.Queued
		snap.RepoQueues = append(snap.RepoQueues, info)
	}
	return snap
}

// GetTask returns a snapshot of one task, or false.
func (q *Queue) GetTask(taskID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t := q.findLocked(taskID); t != nil {
		return *t, true
	}
	return Task{}, false
}

// --- internals, caller holds mu ---

func (q *Queue) pendingCountLocked() int {
	n := len(q.processing)
	for _, tasks := range q.queues {
		for _, t := range tasks {
			if t.Status == StatusQueued {
				n++
			}
		}
	}
	return n
}

func (q *Queue) userQueuedLocked(userID string) int {
	n := 0
	for _, tasks := range q.queues {
		for _, t := range tasks {
			if t.UserID == userID && t.Status == StatusQueued {
				n++
			}
		}
	}
	return n
}

func (q *Queue) queuedInRepoLocked(repoKey string) int {
	n := 0
	for _, t := range q.queues[repoKey] {
		if t.Status == StatusQueued {
			n++
		}
	}
	return n
}

func (q *Queue) findLocked(taskID string) *Task {
	for _, tasks := range q.queues {
		for _, t := range tasks {
			if t.ID == taskID {
				return t
			}
		}
	}
	return nil
}

// gcLocked drops terminal tasks from a repo's queue and removes the entry
// once empty.
func (q *Queue) gcLocked(repoKey string) {
	tasks := q.queues[repoKey]
	kept := tasks[:0]
	for _, t := range tasks {
		switch t.Status {
		case StatusQueued, StatusProcessing:
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(q.queues, repoKey)
		return
	}
	q.queues[repoKey] = kept
}

// renumberLocked recomputes 1-based positions for the queued tasks of a repo.
func (q *Queue) renumberLocked(repoKey string) {
	pos := 0
	for _, t := range q.queues[repoKey] {
		if t.Status == StatusQueued {
			pos++
			t.Position = pos
		}
	}
}

// frontPositionsLocked snapshots queued tasks of a repo with position <= limit.
func (q *Queue) frontPositionsLocked(repoKey string, limit int) []Task {
	var out []Task
	for _, t := range q.queues[repoKey] {
		if t.Status == StatusQueued && t.Position <= limit {
			out = append(out, *t)
		}
	}
	return out
}

func oldestQueued(tasks []*Task) *Task {
	for _, t := range tasks {
		if t.Status == StatusQueued {
			return t
		}
	}
	return nil
}
