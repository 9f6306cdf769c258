// Package mailer builds the report message and hands it to a transport.
//
// The attachment is read before any transport is touched, so a missing
// spreadsheet never opens a network connection. Delivery failures are logged
// with the full recipient list and returned to the caller.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/email"
	"github.com/infosec-automation/compliance-mailer/internal/transport"
)

// RunIDHeader carries the run identifier so a delivered report can be matched
// to its logs.
const RunIDHeader = "X-Report-Run-ID"

// Message is what a run wants delivered.
type Message struct {
	To             []string
	Cc             []string
	Subject        string
	HTMLBody       string
	AttachmentPath string
	RunID          string
}

// AttachmentError means the attachment could not be read; nothing was sent.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// DeliveryError means the transport failed to deliver the message.
type DeliveryError struct {
	Transport  string
	Recipients []string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to send email via %s to [%s]: %v", e.Transport, strings.Join(e.Recipients, ", "), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Dispatcher sends messages from a single sender through one transport.
type Dispatcher struct {
	sender    string
	transport transport.Transport
	log       *logrus.Entry
	newID     func() string
}

// New creates a Dispatcher.
func New(sender string, t transport.Transport, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		sender:    sender,
		transport: t,
		log:       log.WithField("component", "mailer"),
		newID:     uuid.NewString,
	}
}

// Compose builds the email for m without sending it.
func (d *Dispatcher) Compose(m Message) (*email.Email, error) {
	msg := &email.Email{
		From:      d.sender,
		To:        m.To,
		Cc:        m.Cc,
		Subject:   m.Subject,
		HtmlBody:  m.HTMLBody,
		MessageID: fmt.Sprintf("<%s@%s>", d.newID(), senderDomain(d.sender)),
		Headers:   map[string]string{},
	}
	if m.RunID != "" {
		msg.Headers[RunIDHeader] = m.RunID
	}

	if m.AttachmentPath != "" {
		d.log.WithField("path", m.AttachmentPath).Info("📎 Attaching spreadsheet")
		att, err := email.LoadAttachment(m.AttachmentPath)
		if err != nil {
			return nil, &AttachmentError{Path: m.AttachmentPath, Err: err}
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}

// Send composes m and delivers it to To ∪ Cc.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	msg, err := d.Compose(m)
	if err != nil {
		d.log.WithError(err).Error("❌ Could not read attachment, email not sent")
		return err
	}

	recipients := msg.Recipients()
	log := d.log.WithFields(logrus.Fields{
		"transport":  d.transport.Name(),
		"message_id": msg.MessageID,
	})

	if err := d.transport.Send(ctx, msg); err != nil {
		log.WithError(err).Errorf("❌ Failed to send email to [%s]", strings.Join(recipients, ", "))
		return &DeliveryError{Transport: d.transport.Name(), Recipients: recipients, Err: err}
	}

	log.Infof("✅ Email sent to: %s", strings.Join(recipients, ", "))
	return nil
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "<> ")
	}
	return "localhost"
}
