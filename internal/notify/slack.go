// Package notify posts high-signal orchestrator updates to a Slack channel.
// It is an ordinary bus subscriber; Slack being down never affects task flow.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/voxd/voxd/internal/bus"
)

// poster is the slice of the Slack API the notifier uses. Satisfied by
// *slack.Client; tests substitute a recorder.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts TASK_COMPLETE, APPROVAL_REQUIRED and ERROR updates.
type SlackNotifier struct {
	api       poster
	channelID string
	bus       *bus.UpdateBus
	logger    *slog.Logger
}

func NewSlackNotifier(token, channelID string, b *bus.UpdateBus, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		api:       slack.New(token),
		channelID: channelID,
		bus:       b,
		logger:    logger,
	}
}

// Start subscribes to the bus until ctx is cancelled.
func (n *SlackNotifier) Start(ctx context.Context) {
	id, updates := n.bus.Subscribe(bus.DefaultBuffer)
	go func() {
		defer n.bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if text := renderUpdate(u); text != "" {
					n.post(ctx, text)
				}
			}
		}
	}()
}

func (n *SlackNotifier) post(ctx context.Context, text string) {
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("slack notification failed", "error", err)
	}
}

// renderUpdate formats the notification text, or returns "" for update types
// that stay off Slack.
func renderUpdate(u *bus.Update) string {
	switch u.Type {
	case bus.TaskComplete:
		title := u.TaskTitle
		if title == "" {
			title = u.TaskID
		}
		return fmt.Sprintf(":white_check_mark: Task complete (%s): %s", u.RepoKey, title)
	case bus.ApprovalRequired:
		detail := u.Message
		if u.ApprovalDetails != nil {
			detail = fmt.Sprintf("%s in %s: %s", u.ApprovalDetails.Action, u.ApprovalDetails.Repo, u.ApprovalDetails.Details)
		}
		return ":raised_hand: Approval required — " + detail
	case bus.ErrorUpdate:
		return fmt.Sprintf(":x: %s (%s)", u.Message, u.RepoKey)
	}
	return ""
}
