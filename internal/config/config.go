// Package config provides configuration types and loading for voxd.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Server, Paths, Queue, Agent, Approval, History, Timeline,
// Kafka, Slack.
type Config struct {
	Server   ServerConfig
	Paths    PathsConfig
	Queue    QueueConfig
	Agent    AgentConfig
	Approval ApprovalConfig
	History  HistoryConfig
	Timeline TimelineConfig
	Kafka    KafkaConfig
	Slack    SlackConfig
}

// ---------------------------------------------------------------------------
// Server – control-plane HTTP networking
// ---------------------------------------------------------------------------

// ServerConfig contains control-plane server settings.
type ServerConfig struct {
	Host   string `envconfig:"ORCHESTRATOR_HOST" default:"0.0.0.0"`
	Port   int    `envconfig:"ORCHESTRATOR_PORT" default:"8765"`
	Secret string `envconfig:"ORCHESTRATOR_SECRET"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	WorkingDirectory string `envconfig:"WORKING_DIRECTORY" default:"./workspace"`
	GitHubOrg        string `envconfig:"GITHUB_ORG"`
}

// ---------------------------------------------------------------------------
// Queue – scheduling limits
// ---------------------------------------------------------------------------

// QueueConfig bounds the parallel task queue and the session pool.
type QueueConfig struct {
	MaxConcurrentRepos    int `envconfig:"MAX_CONCURRENT_REPOS" default:"3"`
	MaxQueueSize          int `envconfig:"MAX_QUEUE_SIZE" default:"20"`
	MaxTasksPerUser       int `envconfig:"MAX_TASKS_PER_USER" default:"5"`
	MaxConcurrentSessions int `envconfig:"MAX_CONCURRENT_SESSIONS" default:"5"`
}

// ---------------------------------------------------------------------------
// Agent – coding-agent CLI invocation
// ---------------------------------------------------------------------------

// AgentConfig configures the external agent CLIs.
type AgentConfig struct {
	DefaultAgent    string   `envconfig:"DEFAULT_AGENT" default:"claude"`
	ClaudeCommand   string   `envconfig:"CLAUDE_CLI_COMMAND" default:"claude"`
	CodexCommand    string   `envconfig:"CODEX_CLI_COMMAND" default:"codex"`
	CodexArgs       []string `envconfig:"CODEX_CLI_ARGS"`
	AnthropicAPIKey string   `envconfig:"ANTHROPIC_API_KEY"`
}

// ---------------------------------------------------------------------------
// Approval – destructive-operation gating
// ---------------------------------------------------------------------------

// ApprovalConfig configures the approval gate.
type ApprovalConfig struct {
	TimeoutSeconds int `envconfig:"APPROVAL_TIMEOUT_SECONDS" default:"300"`
}

// Timeout returns the approval deadline as a duration.
func (c ApprovalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// History – per-user conversation bounds
// ---------------------------------------------------------------------------

// HistoryConfig bounds the per-user conversation history.
type HistoryConfig struct {
	MaxTurns          int     `envconfig:"HISTORY_MAX_TURNS" default:"20"`
	TokenLimit        int     `envconfig:"CLAUDE_TOKEN_LIMIT" default:"150000"`
	TokenWarningRatio float64 `envconfig:"CLAUDE_TOKEN_WARNING_RATIO" default:"0.8"`
}

// ---------------------------------------------------------------------------
// Timeline – sqlite audit store
// ---------------------------------------------------------------------------

// TimelineConfig configures the optional audit store. Empty path disables it.
type TimelineConfig struct {
	DBPath string `envconfig:"TIMELINE_DB_PATH"`
}

// ---------------------------------------------------------------------------
// Kafka – optional update forwarding
// ---------------------------------------------------------------------------

// KafkaConfig configures the optional Kafka update sink. Empty brokers disable it.
type KafkaConfig struct {
	Brokers      []string `envconfig:"KAFKA_BROKERS"`
	UpdatesTopic string   `envconfig:"KAFKA_UPDATES_TOPIC" default:"voxd.updates"`
}

// ---------------------------------------------------------------------------
// Slack – optional notifications
// ---------------------------------------------------------------------------

// SlackConfig configures the optional Slack notifier. Empty token disables it.
type SlackConfig struct {
	BotToken  string `envconfig:"SLACK_BOT_TOKEN"`
	ChannelID string `envconfig:"SLACK_CHANNEL_ID"`
}
