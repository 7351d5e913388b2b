// Package notify delivers invitation and reminder messages to recipients.
package notify

import (
	"context"
	"time"

	"signflow/backend/internal/logging"
)

// Kind distinguishes the message templates the relay renders.
type Kind string

const (
	KindInvitation Kind = "invitation"
	KindReminder   Kind = "reminder"
)

// Message is one outbound notification for a recipient.
type Message struct {
	Kind         Kind      `json:"kind"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	RecipientID  string    `json:"recipient_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Link         string    `json:"link,omitempty"`
	ValidUntil   time.Time `json:"valid_until"`
}

// Notifier sends a message. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Send logs the message. The signing link is included so local runs can follow it.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		"kind", msg.Kind,
		"workflow_id", msg.WorkflowID,
		"recipient_id", msg.RecipientID,
		"email", msg.Email,
		"link", msg.Link,
	)
	return nil
}
