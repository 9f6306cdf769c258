package parser

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", msg.From)
	assert.Equal(t, []string{"recipient@example.com"}, msg.To)
	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, "<test123@example.com>", msg.MessageID)
	assert.Equal(t, "Hello, this is a plain text email.", msg.TextBody)
	assert.Empty(t, msg.HtmlBody)
	assert.Empty(t, msg.Attachments)
}

func TestParseMultipartWithAttachment(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Infosec <sender@example.com>",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: =?UTF-8?Q?Repos_=E2=80=93_report?=",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=b1",
		"",
		"--b1",
		"Content-Type: text/html; charset=UTF-8",
		"",
		"<p>Hi All,</p>",
		"--b1",
		"Content-Type: application/octet-stream; name=\"repos.xlsx\"",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: attachment; filename=\"repos.xlsx\"",
		"",
		"cGF5bG9hZA==",
		"--b1--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", msg.From)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, msg.To)
	assert.Equal(t, []string{"carol@example.com"}, msg.Cc)
	assert.Equal(t, "Repos – report", msg.Subject)
	assert.Equal(t, "<p>Hi All,</p>", msg.HtmlBody)

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "repos.xlsx", msg.Attachments[0].Filename)
	assert.Equal(t, "application/octet-stream", msg.Attachments[0].ContentType)
	assert.Equal(t, []byte("payload"), msg.Attachments[0].Content)
}

func TestParseComposedMessage(t *testing.T) {
	t.Parallel()

	in := &email.Email{
		From:     "infosec@example.com",
		To:       []string{"owner@example.com"},
		Cc:       []string{"lead@example.com"},
		Subject:  "Non-Compliant Repos",
		HtmlBody: "<table><tr><td>repo-a</td></tr></table>",
		Attachments: []email.Attachment{{
			Filename: "NonCompliant.xlsx",
			Content:  []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0xff},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, email.WriteMIME(&buf, in))

	out, err := Parse(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, in.To, out.To)
	assert.Equal(t, in.Cc, out.Cc)
	assert.Equal(t, in.HtmlBody, out.HtmlBody)
	require.Len(t, out.Attachments, 1)
	assert.Equal(t, "NonCompliant.xlsx", out.Attachments[0].Filename)
	assert.Equal(t, in.Attachments[0].Content, out.Attachments[0].Content)
}

func TestParseMalformedHeader(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("this is not a header line\r\n"))
	assert.Error(t, err)
}

func TestFallbackFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "report.xlsx", fallbackFilename("report.xlsx", "application/octet-stream"))
	assert.Equal(t, "attachment.pdf", fallbackFilename("", "application/pdf"))
	assert.Equal(t, "attachment", fallbackFilename("", ""))
}
