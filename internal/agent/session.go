// Package agent runs coding-agent CLI subprocesses and streams their output
// onto the update bus. One Session is bound to one repository working
// directory; at most one task runs in a session at a time.
package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/voxd/voxd/internal/approval"
	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/guard"
	"github.com/voxd/voxd/internal/timeline"
)

// Kind selects which agent CLI a session drives.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
)

var (
	ErrBusy      = errors.New("session is already processing a task")
	ErrCancelled = errors.New("task cancelled")
)

// killGrace is how long a signalled child gets before SIGKILL.
const killGrace = 2 * time.Second

// Options configures a Session.
type Options struct {
	RepoKey    string
	WorkingDir string
	Kind       Kind
	Command    string
	ExtraArgs  []string
	APIKey     string
	Bus        *bus.UpdateBus
	Gate       *approval.Gate
	History    *History
	Timeline   *timeline.Service
	Logger     *slog.Logger
}

// Session owns one agent subprocess at a time for one repository.
type Session struct {
	repoKey    string
	workingDir string
	kind       Kind
	command    string
	extraArgs  []string
	apiKey     string

	bus      *bus.UpdateBus
	gate     *approval.Gate
	history  *History
	timeline *timeline.Service
	logger   *slog.Logger

	mu            sync.Mutex
	isProcessing  bool
	cancelled     bool
	currentTaskID string
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	stashedInput  []string
}

func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = NewHistory(20, 0)
	}
	return &Session{
		repoKey:    opts.RepoKey,
		workingDir: opts.WorkingDir,
		kind:       opts.Kind,
		command:    opts.Command,
		extraArgs:  opts.ExtraArgs,
		apiKey:     opts.APIKey,
		bus:        opts.Bus,
		gate:       opts.Gate,
		history:    opts.History,
		timeline:   opts.Timeline,
		logger:     opts.Logger.With("repo", opts.RepoKey, "agent", string(opts.Kind)),
	}
}

// IsProcessing reports whether a task is in flight.
func (s *Session) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isProcessing
}

// CurrentTaskID returns the in-flight task id, or "".
func (s *Session) CurrentTaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTaskID
}

// RepoKey returns the repository key this session is bound to.
func (s *Session) RepoKey() string { return s.repoKey }

// Kind returns the agent kind this session drives.
func (s *Session) AgentKind() Kind { return s.kind }

// ProcessInstruction runs one instruction through the agent subprocess,
// streaming progress to the bus. It blocks until the child exits or the task
// is cancelled.
func (s *Session) ProcessInstruction(userID, taskID, instruction string) error {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		s.bus.Publish(&bus.Update{
			Type: bus.ErrorUpdate, UserID: userID, TaskID: taskID, RepoKey: s.repoKey,
			Agent: string(s.kind), Message: "Agent is busy with another task in this repository.",
		})
		return ErrBusy
	}
	s.isProcessing = true
	s.cancelled = false
	s.currentTaskID = taskID
	stashed := s.stashedInput
	s.stashedInput = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.currentTaskID = ""
		s.cmd = nil
		s.stdin = nil
		s.mu.Unlock()
	}()

	title := taskDescription(instruction)
	prompt := s.buildContextPrompt(userID, stashed) + instruction
	s.history.Append(userID, "user", instruction)

	s.bus.Publish(&bus.Update{
		Type: bus.StatusUpdate, UserID: userID, TaskID: taskID, TaskTitle: title,
		RepoKey: s.repoKey, Agent: string(s.kind),
		Message: fmt.Sprintf("Starting: %s", title),
	})

	args := append(append([]string{}, s.extraArgs...), "--print", "--output-format", "stream-json", prompt)
	cmd := exec.Command(s.command, args...)
	cmd.Dir = s.workingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	if s.apiKey != "" {
		cmd.Env = append(cmd.Env, "ANTHROPIC_API_KEY="+s.apiKey)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failTask(userID, taskID, fmt.Sprintf("failed to open agent stdout: %v", err))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return s.failTask(userID, taskID, fmt.Sprintf("failed to open agent stdin: %v", err))
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return s.failTask(userID, taskID, fmt.Sprintf("failed to start agent: %v", err))
	}
	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.mu.Unlock()

	s.logger.Info("agent started", "task_id", taskID, "pid", cmd.Process.Pid)

	var response strings.Builder
	toolBlocked := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		rec, ok := parseStreamLine(line)
		if !ok {
			if t := strings.TrimSpace(line); t != "" {
				response.WriteString(t)
				response.WriteString("\n")
			}
			continue
		}
		switch rec.Type {
		case "assistant", "text":
			text := rec.textContent()
			if text == "" {
				continue
			}
			response.WriteString(text)
			response.WriteString("\n")
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			s.bus.Publish(&bus.Update{
				Type: bus.StatusUpdate, UserID: userID, TaskID: taskID,
				RepoKey: s.repoKey, Agent: string(s.kind), Message: text,
			})
		case "tool_use":
			input := rec.toolInputText()
			if r := guard.CheckMultiple(input); !r.Allowed {
				toolBlocked = true
				_ = s.timeline.RecordPolicyBlock(&timeline.PolicyBlockRecord{
					UserID: userID, TaskID: taskID, Command: input,
					Reason: r.Reason, Severity: string(r.Severity),
				})
				s.bus.Publish(&bus.Update{
					Type: bus.ErrorUpdate, UserID: userID, TaskID: taskID,
					RepoKey: s.repoKey, Agent: string(s.kind),
					Message: "Blocked destructive operation: " + r.Reason,
				})
				continue
			}
			s.bus.Publish(&bus.Update{
				Type: bus.StatusUpdate, UserID: userID, TaskID: taskID,
				RepoKey: s.repoKey, Agent: string(s.kind),
				Message: "Executing: " + rec.Tool,
			})
		case "result":
			if rec.Result != "" {
				response.WriteString(rec.Result)
				response.WriteString("\n")
			}
		case "input_request", "input_needed":
			msg := rec.textContent()
			if msg == "" {
				msg = "The agent needs more input to continue."
			}
			s.bus.Publish(&bus.Update{
				Type: bus.InputNeeded, UserID: userID, TaskID: taskID,
				RepoKey: s.repoKey, Agent: string(s.kind),
				InputID: uuid.NewString(), ExpectedInputFormat: "text",
				Message: msg,
			})
		default:
			if text := rec.textContent(); text != "" {
				response.WriteString(text)
				response.WriteString("\n")
			}
		}
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	wasCancelled := s.cancelled
	s.mu.Unlock()

	full := response.String()

	if wasCancelled {
		s.bus.Publish(&bus.Update{
			Type: bus.ErrorUpdate, UserID: userID, TaskID: taskID,
			RepoKey: s.repoKey, Agent: string(s.kind), Message: "Task cancelled.",
		})
		_ = s.timeline.UpdateTaskStatus(taskID, timeline.TaskStatusCancelled, full, "cancelled")
		return ErrCancelled
	}

	// The agent may declare destructive commands in prose without routing
	// them through tool_use. Each one goes through the approval gate, one at
	// a time.
	s.confirmDeclaredActions(userID, taskID, full)

	s.history.Append(userID, "assistant", full)

	if waitErr != nil || toolBlocked {
		reason := "blocked operation"
		if waitErr != nil {
			reason = waitErr.Error()
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				reason += ": " + firstLine(msg)
			}
		}
		return s.failTask(userID, taskID, "Agent failed: "+reason)
	}

	s.bus.Publish(&bus.Update{
		Type: bus.TaskComplete, UserID: userID, TaskID: taskID, TaskTitle: title,
		RepoKey: s.repoKey, Agent: string(s.kind), Message: summarize(full),
	})
	_ = s.timeline.UpdateTaskStatus(taskID, timeline.TaskStatusCompleted, full, "")
	s.logger.Info("task completed", "task_id", taskID)
	return nil
}

// SubmitInput delivers an out-of-band user reply. If a child is running the
// text goes straight to its stdin; otherwise it is stashed and prefixed to
// the next prompt.
func (s *Session) SubmitInput(userID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isProcessing && s.stdin != nil {
		if _, err := io.WriteString(s.stdin, text+"\n"); err == nil {
			return true
		}
	}
	s.stashedInput = append(s.stashedInput, text)
	return true
}

// Cancel signals the running child, if any. SIGTERM first; SIGKILL after a
// grace period if the child ignores it. Returns false when nothing was
// running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	cmd := s.cmd
	if !s.isProcessing || cmd == nil || cmd.Process == nil {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	s.mu.Unlock()

	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	go func() {
		time.Sleep(killGrace)
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}()
	s.logger.Info("task cancelled, child signalled", "pid", pgid)
	return true
}

// ClearHistory drops one user's conversation.
func (s *Session) ClearHistory(userID string) {
	s.history.Clear(userID)
}

func (s *Session) failTask(userID, taskID, message string) error {
	s.bus.Publish(&bus.Update{
		Type: bus.ErrorUpdate, UserID: userID, TaskID: taskID,
		RepoKey: s.repoKey, Agent: string(s.kind), Message: message,
	})
	_ = s.timeline.UpdateTaskStatus(taskID, timeline.TaskStatusFailed, "", message)
	s.logger.Warn("task failed", "task_id", taskID, "reason", message)
	return errors.New(message)
}

// confirmDeclaredActions runs the post-hoc approval pass over the full
// response. Approvals are requested strictly one at a time.
func (s *Session) confirmDeclaredActions(userID, taskID, response string) {
	if s.gate == nil {
		return
	}
	for _, d := range guard.DetectSensitive(response) {
		_, decision := s.gate.Request(userID, taskID, bus.ApprovalDetails{
			Action:  d.Action,
			Repo:    s.repoKey,
			Details: d.Command,
		})
		approved := <-decision
		msg := fmt.Sprintf("Denied: %s", d.Action)
		if approved {
			msg = fmt.Sprintf("Approved: %s", d.Action)
		}
		s.bus.Publish(&bus.Update{
			Type: bus.StatusUpdate, UserID: userID, TaskID: taskID,
			RepoKey: s.repoKey, Agent: string(s.kind), Message: msg,
		})
	}
}

// buildContextPrompt prepends repo context, recent conversation and any
// stashed input-responses to the instruction.
func (s *Session) buildContextPrompt(userID string, stashed []string) string {
	var b strings.Builder
	if s.repoKey != "" && s.repoKey != "__default__" {
		fmt.Fprintf(&b, "You are working in the repository %s. The working directory is %s.\n", s.repoKey, s.workingDir)
	} else {
		fmt.Fprintf(&b, "You are working in the directory %s.\n", s.workingDir)
	}
	if msgs := s.history.Get(userID); len(msgs) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, firstLine(m.Content))
		}
	}
	for _, in := range stashed {
		fmt.Fprintf(&b, "Additional user input: %s\n", in)
	}
	b.WriteString("\n")
	return b.String()
}

// taskDescription derives a short title: the first sentence, or the first
// 100 characters.
func taskDescription(instruction string) string {
	text := strings.TrimSpace(instruction)
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(text, sep); i > 0 {
			text = text[:i+1]
			break
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > 100 {
		text = text[:100] + "..."
	}
	return text
}

var successKeywords = []string{
	"done", "complete", "finished", "success", "created", "fixed",
	"updated", "passed", "pushed", "merged", "implemented",
}

// summarize reduces a full response to at most 3 lines: lines carrying
// success keywords if any, else the last 3 non-empty lines.
func summarize(response string) string {
	var nonEmpty, keyed []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonEmpty = append(nonEmpty, line)
		lower := strings.ToLower(line)
		for _, kw := range successKeywords {
			if strings.Contains(lower, kw) {
				keyed = append(keyed, line)
				break
			}
		}
	}
	pick := keyed
	if len(pick) == 0 {
		pick = nonEmpty
	}
	if len(pick) > 3 {
		pick = pick[len(pick)-3:]
	}
	return strings.Join(pick, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
