// Package timeline persists an audit trail of tasks, approvals and policy
// blocks to a local sqlite database. Persistence is best effort: the
// orchestrator keeps running if the database is unavailable, so every method
// is nil-receiver safe.
package timeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Task statuses recorded in the audit trail.
const (
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
	ApprovalExpired  = "expired"
)

type TaskRecord struct {
	ID          int64
	TaskID      string
	UserID      string
	RepoKey     string
	Agent       string
	Title       string
	Instruction string
	Status      string
	Response    string
	ErrorText   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type ApprovalRecord struct {
	ID          int64
	ApprovalID  string
	UserID      string
	TaskID      string
	Details     string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

type PolicyBlockRecord struct {
	ID        int64
	UserID    string
	TaskID    string
	Command   string
	Reason    string
	Severity  string
	CreatedAt time.Time
}

type Service struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTask inserts a new task row.
func (s *Service) RecordTask(t *TaskRecord) error {
	if s == nil {
		return nil
	}
	if t.Status == "" {
		t.Status = TaskStatusQueued
	}
	_, err := s.db.Exec(`INSERT INTO tasks (task_id, user_id, repo_key, agent, title, instruction, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.UserID, t.RepoKey, t.Agent, t.Title, t.Instruction, t.Status)
	return err
}

// UpdateTaskStatus updates a task's status along with the final response and
// error text. Terminal statuses also stamp completed_at.
func (s *Service) UpdateTaskStatus(taskID, status, response, errorText string) error {
	if s == nil {
		return nil
	}
	query := `UPDATE tasks SET status = ?, response = ?, error_text = ?, updated_at = datetime('now')`
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		query += `, completed_at = datetime('now')`
	}
	query += ` WHERE task_id = ?`
	_, err := s.db.Exec(query, status, response, errorText, taskID)
	return err
}

// GetTask returns a task by task_id, or nil if not found.
func (s *Service) GetTask(taskID string) (*TaskRecord, error) {
	if s == nil {
		return nil, nil
	}
	var t TaskRecord
	var completedAt sql.NullTime
	err := s.db.QueryRow(`SELECT id, task_id, user_id, repo_key, agent,
		COALESCE(title,''), COALESCE(instruction,''), status,
		COALESCE(response,''), COALESCE(error_text,''),
		created_at, updated_at, completed_at
		FROM tasks WHERE task_id = ?`, taskID).Scan(
		&t.ID, &t.TaskID, &t.UserID, &t.RepoKey, &t.Agent,
		&t.Title, &t.Instruction, &t.Status,
		&t.Response, &t.ErrorText,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// ListTasks returns tasks filtered by optional user and status.
func (s *Service) ListTasks(userID, status string, limit int) ([]TaskRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, task_id, user_id, repo_key, agent,
		COALESCE(title,''), COALESCE(instruction,''), status,
		COALESCE(response,''), COALESCE(error_text,''),
		created_at, updated_at, completed_at
		FROM tasks WHERE 1=1`
	args := []any{}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.TaskID, &t.UserID, &t.RepoKey, &t.Agent,
			&t.Title, &t.Instruction, &t.Status,
			&t.Response, &t.ErrorText,
			&t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordApproval inserts a pending approval request.
func (s *Service) RecordApproval(a *ApprovalRecord) error {
	if s == nil {
		return nil
	}
	if a.Status == "" {
		a.Status = ApprovalPending
	}
	_, err := s.db.Exec(`INSERT INTO approvals (approval_id, user_id, task_id, details, status)
		VALUES (?, ?, ?, ?, ?)`,
		a.ApprovalID, a.UserID, a.TaskID, a.Details, a.Status)
	return err
}

// ResolveApproval stamps the final status and responded_at on an approval.
func (s *Service) ResolveApproval(approvalID, status string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`UPDATE approvals SET status = ?, responded_at = datetime('now')
		WHERE approval_id = ? AND status = 'pending'`, status, approvalID)
	return err
}

// ExpireStaleApprovals marks any approvals still pending as expired. Called on
// startup: a pending row from a previous process can never be answered.
func (s *Service) ExpireStaleApprovals() (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := s.db.Exec(`UPDATE approvals SET status = 'expired', responded_at = datetime('now')
		WHERE status = 'pending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListApprovals returns approvals for a user, newest first.
func (s *Service) ListApprovals(userID string, limit int) ([]ApprovalRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, approval_id, user_id, COALESCE(task_id,''),
		COALESCE(details,''), status, created_at, responded_at
		FROM approvals WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		var a ApprovalRecord
		var respondedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ApprovalID, &a.UserID, &a.TaskID,
			&a.Details, &a.Status, &a.CreatedAt, &respondedAt); err != nil {
			return nil, err
		}
		if respondedAt.Valid {
			a.RespondedAt = &respondedAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordPolicyBlock logs a refused destructive command.
func (s *Service) RecordPolicyBlock(rec *PolicyBlockRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO policy_blocks (user_id, task_id, command, reason, severity)
		VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.TaskID, rec.Command, rec.Reason, rec.Severity)
	return err
}

// ListPolicyBlocks returns recent policy blocks for a user.
func (s *Service) ListPolicyBlocks(userID string, limit int) ([]PolicyBlockRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, user_id, COALESCE(task_id,''), command, reason, severity, created_at
		FROM policy_blocks WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PolicyBlockRecord
	for rows.Next() {
		var r PolicyBlockRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.TaskID, &r.Command, &r.Reason, &r.Severity, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
