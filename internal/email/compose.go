package email

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/gomail.v2"
)

var nowFunc = time.Now

// Compose converts an Email into a gomail message ready to be written or
// submitted. The HTML body wins over the text body; when both are present the
// text body becomes the plain alternative.
func Compose(e *Email) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))

	m.SetHeader("From", e.From)
	if len(e.To) > 0 {
		m.SetHeader("To", e.To...)
	}
	if len(e.Cc) > 0 {
		m.SetHeader("Cc", e.Cc...)
	}
	m.SetHeader("Subject", e.Subject)
	m.SetDateHeader("Date", nowFunc())
	if e.MessageID != "" {
		m.SetHeader("Message-ID", e.MessageID)
	}

	// Stable header order keeps the rendered message deterministic.
	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetHeader(k, e.Headers[k])
	}

	switch {
	case e.HtmlBody != "" && e.TextBody != "":
		m.SetBody("text/plain", e.TextBody)
		m.AddAlternative("text/html", e.HtmlBody)
	case e.HtmlBody != "":
		m.SetBody("text/html", e.HtmlBody)
	default:
		m.SetBody("text/plain", e.TextBody)
	}

	for _, att := range e.Attachments {
		content := att.Content
		contentType := att.ContentType
		if contentType == "" {
			contentType = DefaultAttachmentType
		}
		m.Attach(att.Filename,
			gomail.SetHeader(map[string][]string{
				"Content-Type": {fmt.Sprintf("%s; name=%q", contentType, att.Filename)},
			}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		)
	}

	return m
}

// WriteMIME writes the RFC 5322 representation of e to w.
func WriteMIME(w io.Writer, e *Email) error {
	if _, err := Compose(e).WriteTo(w); err != nil {
		return fmt.Errorf("failed to write MIME message: %w", err)
	}
	return nil
}
