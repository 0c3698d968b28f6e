// Package gateway is the control plane: the authenticated HTTP surface plus
// the streaming websocket that carries bus updates to clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxd/voxd/internal/agent"
	"github.com/voxd/voxd/internal/approval"
	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/guard"
	"github.com/voxd/voxd/internal/pool"
	"github.com/voxd/voxd/internal/queue"
	"github.com/voxd/voxd/internal/repodetect"
	"github.com/voxd/voxd/internal/timeline"
)

// Options wires the server to the orchestrator's shared state.
type Options struct {
	Addr         string
	Secret       string
	DefaultAgent agent.Kind
	Queue        *queue.Queue
	Pool         *pool.Manager
	Gate         *approval.Gate
	Bus          *bus.UpdateBus
	Timeline     *timeline.Service
	Logger       *slog.Logger
}

// Server is the control-plane HTTP service.
type Server struct {
	addr         string
	secret       string
	defaultAgent agent.Kind

	queue    *queue.Queue
	pool     *pool.Manager
	gate     *approval.Gate
	bus      *bus.UpdateBus
	timeline *timeline.Service
	logger   *slog.Logger

	hub    *Hub
	inputs *InputRegistry
	httpd  *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		addr:         opts.Addr,
		secret:       opts.Secret,
		defaultAgent: opts.DefaultAgent,
		queue:        opts.Queue,
		pool:         opts.Pool,
		gate:         opts.Gate,
		bus:          opts.Bus,
		timeline:     opts.Timeline,
		logger:       opts.Logger,
	}
	s.hub = NewHub(opts.Bus, opts.Logger)
	s.inputs = NewInputRegistry(opts.Bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/instruction", s.requireAuth(s.handleInstruction))
	mux.HandleFunc("/approval-response", s.requireAuth(s.handleApprovalResponse))
	mux.HandleFunc("/input-response", s.requireAuth(s.handleInputResponse))
	mux.HandleFunc("/cancel-task", s.requireAuth(s.handleCancelTask))
	mux.HandleFunc("/cancel", s.requireAuth(s.handleCancelAll))
	mux.HandleFunc("/reset", s.requireAuth(s.handleReset))
	mux.HandleFunc("/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("/ws", s.handleWS)

	s.httpd = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the broadcast fanout and the HTTP listener. It blocks until the
// listener stops.
func (s *Server) Start(ctx context.Context) error {
	s.hub.Start(ctx)
	s.inputs.Start(ctx)

	s.logger.Info("control plane listening", "addr", s.addr)
	err := s.httpd.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.httpd.Handler }

// requireAuth enforces the shared bearer secret.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return s.secret != "" && token == s.secret
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type instructionRequest struct {
	UserID      string `json:"userId"`
	MessageID   string `json:"messageId"`
	Instruction string `json:"instruction"`
	Timestamp   string `json:"timestamp"`
}

func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Instruction) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "userId and instruction are required"})
		return
	}

	// The guard is authoritative: a hard-block match never reaches the queue.
	// Warning matches pass through with an advisory.
	res := guard.CheckMultiple(req.Instruction)
	if !res.Allowed {
		_ = s.timeline.RecordPolicyBlock(&timeline.PolicyBlockRecord{
			UserID: req.UserID, Command: req.Instruction,
			Reason: res.Reason, Severity: string(res.Severity),
		})
		s.bus.Publish(&bus.Update{
			Type: bus.ErrorUpdate, UserID: req.UserID,
			Message: "Blocked destructive operation: " + res.Reason,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "rejected",
			"reason":  "blocked_operation",
			"message": res.Reason,
		})
		return
	}

	if res.Warning != "" {
		s.bus.Publish(&bus.Update{
			Type: bus.StatusUpdate, UserID: req.UserID,
			Message: "Caution: " + res.Warning,
		})
	}

	detection := repodetect.Detect(req.Instruction)
	task, err := s.queue.Enqueue(req.UserID, req.Instruction, string(s.defaultAgent), detection.RepoKey, "")
	if err != nil {
		reason := "queue_full"
		if errors.Is(err, queue.ErrUserQuotaExceeded) {
			reason = "user_quota_exceeded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "rejected",
			"reason":  reason,
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "accepted",
		"taskId":        task.ID,
		"repoKey":       task.RepoKey,
		"queuePosition": task.Position,
		"totalQueued":   s.queue.TotalQueued(),
		"activeRepos":   s.queue.ActiveRepos(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

type approvalResponseRequest struct {
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
	UserID     string `json:"userId"`
}

func (s *Server) handleApprovalResponse(w http.ResponseWriter, r *http.Request) {
	var req approvalResponseRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.ApprovalID == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "approvalId and userId are required"})
		return
	}
	if err := s.gate.Respond(req.ApprovalID, req.UserID, req.Approved); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "processed"})
}

type inputResponseRequest struct {
	InputID  string `json:"inputId"`
	UserID   string `json:"userId"`
	Response string `json:"response"`
}

func (s *Server) handleInputResponse(w http.ResponseWriter, r *http.Request) {
	var req inputResponseRequest
	if !decodePost(w, r, &req) {
		return
	}
	entry, ok := s.inputs.Take(req.InputID, req.UserID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no pending input: " + req.InputID})
		return
	}
	ps, _, err := s.pool.GetOrCreate(entry.RepoKey, agent.Kind(entry.AgentKind))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	ps.Session.SubmitInput(req.UserID, req.Response)
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

type cancelTaskRequest struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req cancelTaskRequest
	if !decodePost(w, r, &req) {
		return
	}
	res, err := s.queue.CancelTask(req.TaskID, req.UserID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such task: " + req.TaskID})
		return
	}
	if res.WasProcessing {
		s.pool.CancelRepo(res.RepoKey)
		s.pool.SetProcessing(res.RepoKey, false)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "repoKey": res.RepoKey})
}

type cancelAllRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelAllRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "userId is required"})
		return
	}
	res := s.queue.CancelAllForUser(req.UserID)
	cancelledAgents := 0
	for _, repo := range res.ProcessingRepos {
		if s.pool.CancelRepo(repo) {
			cancelledAgents++
		}
		s.pool.SetProcessing(repo, false)
	}
	s.gate.CancelAllForUser(req.UserID)

	writeJSON(w, http.StatusOK, map[string]any{
		"cancelledTasks":     res.Cancelled,
		"cancelledRunning":   len(res.ProcessingRepos),
		"cancelledQueued":    res.CancelledQueued,
		"cancelledSubAgents": cancelledAgents,
		"processingRepos":    res.ProcessingRepos,
		"message":            fmt.Sprintf("Cancelled %d task(s) for %s.", res.Cancelled, req.UserID),
	})
}

type resetRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "userId is required"})
		return
	}
	s.pool.ClearUserHistory(req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "userId": req.UserID})
}

type subAgentStatus struct {
	ID         string `json:"id"`
	Task       string `json:"task"`
	Repo       string `json:"repo"`
	Status     string `json:"status"`
	StartedAt  string `json:"startedAt,omitempty"`
	LastUpdate string `json:"lastUpdate"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	sessions := s.pool.Snapshot()
	subAgents := make([]subAgentStatus, 0, len(sessions))
	for _, info := range sessions {
		status := "idle"
		if info.Processing {
			status = "processing"
		}
		sa := subAgentStatus{
			ID:         info.RepoKey,
			Task:       info.TaskID,
			Repo:       info.RepoKey,
			Status:     status,
			LastUpdate: info.LastUsed.UTC().Format(time.RFC3339),
		}
		if t, ok := s.queue.GetTask(info.TaskID); ok {
			sa.StartedAt = t.StartedAt.UTC().Format(time.RFC3339)
		}
		subAgents = append(subAgents, sa)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subAgents":     subAgents,
		"parallelQueue": s.queue.GetSnapshot(),
	})
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
