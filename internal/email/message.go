// Package email defines the message model shared by the mailer, the
// transports and the capture relay.
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAttachmentType is the media type used for every file attachment.
// Spreadsheets are sent as opaque binary so mail clients never try to
// render them inline.
const DefaultAttachmentType = "application/octet-stream"

// Email represents a report message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	Headers     map[string]string
	MessageID   string

	// Envelope is only populated on messages received by the relay.
	Envelope Envelope
}

// Envelope is the SMTP envelope a message arrived with.
type Envelope struct {
	From string
	To   []string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// LoadAttachment reads the whole file at path into memory. The attachment is
// named after the path's basename.
func LoadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment %q: %w", path, err)
	}

	return Attachment{
		Filename:    filepath.Base(path),
		ContentType: DefaultAttachmentType,
		Content:     data,
	}, nil
}

// Recipients returns the envelope recipient set: To, Cc and Bcc in that
// order with duplicates removed. Addresses compare case-insensitively.
func (e *Email) Recipients() []string {
	seen := make(map[string]struct{}, len(e.To)+len(e.Cc)+len(e.Bcc))
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))

	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}

	return out
}
