// Package parser turns raw RFC 5322 messages received by the relay back into
// the email model, including multipart bodies and attachments.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

// Parse parses a raw message. Transfer encodings are decoded; parts it cannot
// classify are logged and skipped.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	result := &email.Email{
		Headers: make(map[string]string),
	}

	header := mr.Header
	fields := header.Fields()
	for fields.Next() {
		if _, ok := result.Headers[fields.Key()]; !ok {
			result.Headers[fields.Key()] = fields.Value()
		}
	}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		result.From = from[0].Address
	} else {
		result.From = header.Get("From")
	}
	result.To = addressList(header, "To")
	result.Cc = addressList(header, "Cc")
	result.Bcc = addressList(header, "Bcc")

	if subject, err := header.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = header.Get("Subject")
	}
	if id, err := header.MessageID(); err == nil && id != "" {
		result.MessageID = "<" + id + ">"
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				logrus.WithError(err).Warn("skipping part with unsupported encoding")
				continue
			}
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		content, err := io.ReadAll(p.Body)
		if err != nil {
			logrus.WithError(err).Warn("failed to read part content")
			continue
		}

		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    fallbackFilename(filename, contentType),
				ContentType: contentType,
				Content:     content,
			})
		case *mail.InlineHeader:
			contentType, params, err := h.ContentType()
			if err != nil {
				contentType = "text/plain"
			}
			switch contentType {
			case "text/plain":
				if result.TextBody == "" {
					result.TextBody = string(content)
				}
			case "text/html":
				if result.HtmlBody == "" {
					result.HtmlBody = string(content)
				}
			default:
				if name := params["name"]; name != "" {
					result.Attachments = append(result.Attachments, email.Attachment{
						Filename:    name,
						ContentType: contentType,
						Content:     content,
					})
					continue
				}
				logrus.WithField("content_type", contentType).Warn("unrecognized MIME part, skipping")
			}
		}
	}

	return result, nil
}

func addressList(header mail.Header, key string) []string {
	raw := header.Get(key)
	if raw == "" {
		return nil
	}

	addresses, err := header.AddressList(key)
	if err != nil {
		// Fall back to a plain comma split for headers net/mail rejects.
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}

func fallbackFilename(filename, contentType string) string {
	if filename != "" {
		return filename
	}
	if parts := strings.SplitN(contentType, "/", 2); len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}
