// Package transport defines the interface for report delivery backends.
package transport

import (
	"context"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

// Transport is the interface that delivery backends must implement.
// Each transport submits a fully composed report message to one service
// (an SMTP relay, AWS SES, Microsoft Graph, or stdout for dry runs).
type Transport interface {
	// Send delivers msg to every address in msg.Recipients().
	// It returns an error if the delivery fails; transports never retry.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this transport.
	Name() string
}
