// Package opsnotify posts a Slack message whenever an op is moved to the
// failed-ops archive for a reason that needs a human to look at it
// (spec §4.2/§7: semanticConflict, staleUpdate, and unknown_error are
// never silently dropped). Adapted from the teacher's pkg/slack/notifier.go
// — same noop-when-unconfigured Notifier shape, narrowed to the one
// message type this domain needs instead of the alert/incident block
// builders the teacher ships.
package opsnotify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// reviewWorthy lists the failure reasons that page a human rather than
// just sitting in the archive for the client to surface later (spec §7).
var reviewWorthy = map[string]bool{
	"semantic_conflict": true,
	"stale_update":      true,
	"unknown_error":     true,
}

// Notifier posts archived-op alerts to a Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty, the notifier is a noop.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyIfReviewWorthy posts a message for failed ops whose ErrorCode
// needs human review, and is a silent no-op for everything else (routine
// validation failures don't need to page anyone).
func (n *Notifier) NotifyIfReviewWorthy(ctx context.Context, f op.FailedOp) error {
	if !reviewWorthy[f.ErrorCode] {
		return nil
	}
	if !n.IsEnabled() {
		n.logger.Debug("opsnotify disabled, skipping archived-op alert",
			"op_id", f.ID, "reason", f.ErrorCode)
		return nil
	}

	text := fmt.Sprintf(":warning: op %s (%s/%s) archived: %s — %s",
		f.ID, f.OpType, f.EntityType, f.ErrorCode, f.ErrorMessage)

	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("opsnotify: posting to slack: %w", err)
	}

	n.logger.Info("posted archived-op alert to slack", "op_id", f.ID, "reason", f.ErrorCode)
	return nil
}
