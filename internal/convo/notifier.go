package convo

import (
	"context"
	"fmt"

	"matchbot/internal/matching"
)

// Sender delivers a text message to a chat identity.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Notifier delivers matching events as chat messages.
type Notifier struct {
	sender Sender
}

// NewNotifier wraps sender.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify implements matching.Notifier.
func (n *Notifier) Notify(ctx context.Context, externalID string, kind matching.EventKind, note matching.Notification) error {
	if err := n.sender.Send(ctx, externalID, formatNotification(kind, note)); err != nil {
		return fmt.Errorf("notify %s: %w", kind, err)
	}
	return nil
}

var _ matching.Notifier = (*Notifier)(nil)
