package email

import (
	"context"
	"time"
)

// Message is one outbound email.
type Message struct {
	To      []string
	From    string // overrides the sender's default when set
	Subject string
	HTML    string
}

// SendResult contains the response from the email provider.
type SendResult struct {
	MessageID string    // provider's message ID for tracking
	SentAt    time.Time // when the send was accepted
}

// Sender delivers email through an external provider.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}
