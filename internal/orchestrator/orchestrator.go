// Package orchestrator owns the process-wide wiring: it constructs the bus,
// approval gate, session pool, task queue and control plane from the loaded
// configuration and drives their lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxd/voxd/internal/agent"
	"github.com/voxd/voxd/internal/approval"
	"github.com/voxd/voxd/internal/bus"
	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/gateway"
	"github.com/voxd/voxd/internal/notify"
	"github.com/voxd/voxd/internal/pool"
	"github.com/voxd/voxd/internal/queue"
	"github.com/voxd/voxd/internal/sink"
	"github.com/voxd/voxd/internal/timeline"
)

// Orchestrator is the single owning structure for all shared state.
// Constructed once at startup, shut down once at exit.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	Bus      *bus.UpdateBus
	Timeline *timeline.Service
	Gate     *approval.Gate
	Pool     *pool.Manager
	Queue    *queue.Queue
	Server   *gateway.Server

	kafkaSink *sink.KafkaSink
	notifier  *notify.SlackNotifier
}

// New wires all components. The working directory is materialized and the
// queue processor installed; nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	baseDir, err := cfg.EnsureWorkingDirectory()
	if err != nil {
		return nil, err
	}

	var tl *timeline.Service
	if cfg.Timeline.DBPath != "" {
		tl, err = timeline.New(cfg.Timeline.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open timeline: %w", err)
		}
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		Bus:      bus.NewUpdateBus(),
		Timeline: tl,
	}
	o.Gate = approval.NewGate(o.Bus, tl, cfg.Approval.Timeout())

	factory := func(repoKey, workingDir string, kind agent.Kind) *agent.Session {
		command := cfg.Agent.ClaudeCommand
		var extraArgs []string
		if kind == agent.KindCodex {
			command = cfg.Agent.CodexCommand
			extraArgs = cfg.Agent.CodexArgs
		}
		return agent.NewSession(agent.Options{
			RepoKey:    repoKey,
			WorkingDir: workingDir,
			Kind:       kind,
			Command:    command,
			ExtraArgs:  extraArgs,
			APIKey:     cfg.Agent.AnthropicAPIKey,
			Bus:        o.Bus,
			Gate:       o.Gate,
			History:    agent.NewHistory(cfg.History.MaxTurns, cfg.History.TokenLimit),
			Timeline:   tl,
			Logger:     logger,
		})
	}
	o.Pool = pool.NewManager(cfg.Queue.MaxConcurrentSessions, baseDir, cfg.Paths.GitHubOrg, factory, logger)

	o.Queue = queue.New(queue.Options{
		MaxQueueSize:       cfg.Queue.MaxQueueSize,
		MaxTasksPerUser:    cfg.Queue.MaxTasksPerUser,
		MaxConcurrentRepos: cfg.Queue.MaxConcurrentRepos,
		Bus:                o.Bus,
		Timeline:           tl,
		Logger:             logger,
	})
	o.Queue.SetProcessor(o.processTask)

	o.Server = gateway.NewServer(gateway.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Secret:       cfg.Server.Secret,
		DefaultAgent: agent.Kind(cfg.Agent.DefaultAgent),
		Queue:        o.Queue,
		Pool:         o.Pool,
		Gate:         o.Gate,
		Bus:          o.Bus,
		Timeline:     tl,
		Logger:       logger,
	})

	if len(cfg.Kafka.Brokers) > 0 {
		o.kafkaSink = sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.UpdatesTopic, o.Bus, logger)
	}
	if cfg.Slack.BotToken != "" && cfg.Slack.ChannelID != "" {
		o.notifier = notify.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.ChannelID, o.Bus, logger)
	}

	return o, nil
}

// processTask is the queue's processor callback: resolve the repo session,
// reserve it, and run the instruction to completion.
func (o *Orchestrator) processTask(task *queue.Task) error {
	ps, usedFallback, err := o.Pool.GetOrCreate(task.RepoKey, agent.Kind(task.AgentKind))
	if err != nil {
		o.Bus.Publish(&bus.Update{
			Type: bus.ErrorUpdate, UserID: task.UserID, TaskID: task.ID,
			RepoKey: task.RepoKey, Message: "Could not prepare workspace: " + err.Error(),
		})
		return err
	}
	if usedFallback {
		o.Bus.Publish(&bus.Update{
			Type: bus.StatusUpdate, UserID: task.UserID, TaskID: task.ID,
			RepoKey: ps.RepoKey,
			Message: fmt.Sprintf("Session pool is full; running %s in the shared default workspace.", task.RepoKey),
		})
	}

	o.Pool.SetProcessing(ps.RepoKey, true)
	defer o.Pool.SetProcessing(ps.RepoKey, false)

	return ps.Session.ProcessInstruction(task.UserID, task.ID, task.Instruction)
}

// Start runs the optional sinks and the control plane. It blocks until the
// HTTP listener stops.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.kafkaSink != nil {
		o.kafkaSink.Start(ctx)
		o.logger.Info("kafka update sink enabled", "topic", o.cfg.Kafka.UpdatesTopic)
	}
	if o.notifier != nil {
		o.notifier.Start(ctx)
		o.logger.Info("slack notifier enabled", "channel", o.cfg.Slack.ChannelID)
	}
	return o.Server.Start(ctx)
}

// Shutdown stops the control plane, cancels in-flight agents and releases
// resources. Every spawned subprocess is signalled on the way down.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if err := o.Server.Shutdown(ctx); err != nil {
		o.logger.Warn("control plane shutdown", "error", err)
	}
	if n := o.Pool.CancelAll(); n > 0 {
		o.logger.Info("cancelled in-flight agents", "count", n)
	}
	if o.kafkaSink != nil {
		_ = o.kafkaSink.Close()
	}
	if err := o.Timeline.Close(); err != nil {
		o.logger.Warn("timeline close", "error", err)
	}
}
