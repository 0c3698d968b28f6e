package timeline

// Schema is applied on startup. Statements are idempotent so reopening an
// existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	repo_key TEXT NOT NULL,
	agent TEXT NOT NULL DEFAULT 'claude',
	title TEXT DEFAULT '',
	instruction TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	response TEXT DEFAULT '',
	error_text TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_repo ON tasks(repo_key);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	task_id TEXT DEFAULT '',
	details TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	responded_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
CREATE INDEX IF NOT EXISTS idx_approvals_user ON approvals(user_id);

CREATE TABLE IF NOT EXISTS policy_blocks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	task_id TEXT DEFAULT '',
	command TEXT NOT NULL,
	reason TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT 'high',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_policy_blocks_user ON policy_blocks(user_id);
`
