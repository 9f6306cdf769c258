// Package stdout implements a Transport that prints reports instead of
// delivering them. It backs dry runs and the relay's default sink.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

const separator = "========================================\n"

// Transport writes messages to a writer, by default os.Stdout.
type Transport struct {
	mu     sync.Mutex
	writer io.Writer
	raw    bool
}

// New creates a Transport that writes a readable summary to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport writing to w. With raw set, the full
// MIME message is written instead of the summary.
func NewWithWriter(w io.Writer, raw bool) *Transport {
	return &Transport{writer: w, raw: raw}
}

// Send prints msg. Only write failures are reported.
func (t *Transport) Send(_ context.Context, msg *email.Email) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.raw {
		if err := email.WriteMIME(t.writer, msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		_, err := io.WriteString(t.writer, "\r\n")
		return err
	}

	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Envelope.To) > 0 {
		fmt.Fprintf(&b, "Envelope: %s -> %s\n", msg.Envelope.From, strings.Join(msg.Envelope.To, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.HtmlBody
	if body == "" {
		body = msg.TextBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString(separator)

	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
