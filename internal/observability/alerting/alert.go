// Package alerting notifies humans when a payment is parked waiting for
// consent. Notifiers fan out to the configured channels; delivery failures
// never block the payment flow.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"AgentPay-Gate/pkg/logger"
)

// Channel identifies a notification channel.
type Channel string

// Supported notification channels.
const (
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event describes a payment waiting on human consent.
type Event struct {
	ApprovalID string
	Resource   string
	Amount     string
	Asset      string
	Network    string
	Reason     string
	ConsentURL string
	OccurredAt time.Time
}

// Notifier delivers an event to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts an event to every registered notifier.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers events to multiple notifiers, collecting errors.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a dispatcher over the given notifiers. Nil entries are
// skipped; a later notifier on the same channel replaces the earlier one.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify implements Dispatcher.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender is the minimal mail capability a notifier needs.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier delivers consent requests by mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify sends the consent mail.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping", slog.String("approval_id", event.ApprovalID))
		return nil
	}
	subject := fmt.Sprintf("%spayment approval needed: %s", n.SubjectPrefix, event.Resource)
	content := fmt.Sprintf("Requested at: %s\nResource: %s\nAmount: %s (%s on %s)\nReason: %s\nReview: %s",
		event.OccurredAt.Format(time.RFC3339), event.Resource, event.Amount, event.Asset, event.Network,
		event.Reason, event.ConsentURL)
	return n.Sender.Send(ctx, subject, content, n.To)
}

// DingTalkSender pushes a message to a DingTalk robot.
type DingTalkSender interface {
	Send(ctx context.Context, content string) error
}

// DingTalkNotifier delivers consent requests via DingTalk.
type DingTalkNotifier struct {
	Sender DingTalkSender
}

func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

// Notify sends the DingTalk message.
func (n *DingTalkNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("dingtalk notifier not configured, skipping", slog.String("approval_id", event.ApprovalID))
		return nil
	}
	payload := fmt.Sprintf("Payment approval needed\nResource: %s\nAmount: %s\nReason: %s\n%s",
		event.Resource, event.Amount, event.Reason, event.ConsentURL)
	return n.Sender.Send(ctx, payload)
}

// SlackSender pushes a message to a Slack channel.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier delivers consent requests via Slack.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify sends the Slack message.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping", slog.String("approval_id", event.ApprovalID))
		return nil
	}
	content := fmt.Sprintf("*Payment approval needed* %s for %s (%s) - <%s|review>",
		event.Amount, event.Resource, event.Reason, event.ConsentURL)
	return n.Sender.Send(ctx, n.ChannelID, content)
}
