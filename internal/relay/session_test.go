package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infosec-automation/compliance-mailer/internal/certs"
	"github.com/infosec-automation/compliance-mailer/internal/email"
)

// mockSink records every message the relay hands over.
type mockSink struct {
	mu      sync.Mutex
	msgs    []*email.Email
	sendErr error
}

func (m *mockSink) Send(_ context.Context, msg *email.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return m.sendErr
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) last() *email.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs) == 0 {
		return nil
	}
	return m.msgs[len(m.msgs)-1]
}

// testClient drives a session over a real TCP connection.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) read() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

// ehlo sends EHLO and returns every capability line.
func (c *testClient) ehlo() []string {
	c.t.Helper()
	c.send("EHLO client.test.com")
	var lines []string
	for {
		line := c.read()
		lines = append(lines, line)
		if !strings.HasPrefix(line, "250-") {
			return lines
		}
	}
}

func (c *testClient) expect(cmd, code string) string {
	c.t.Helper()
	c.send(cmd)
	resp := c.read()
	assert.True(c.t, strings.HasPrefix(resp, code+" "), "%s: got %q, want %s", cmd, resp, code)
	return resp
}

func (c *testClient) startTLS() {
	c.t.Helper()
	c.expect("STARTTLS", "220")
	tlsConn := tls.Client(c.conn, &tls.Config{InsecureSkipVerify: true, ServerName: "localhost"})
	require.NoError(c.t, tlsConn.Handshake())
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
}

// startSession wires a session to a loopback connection and returns the
// client side after consuming the greeting.
func startSession(t *testing.T, cfg Config, user, pass string) *testClient {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok, "accept failed")

	if cfg.Hostname == "" {
		cfg.Hostname = "mail.test.com"
	}
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})

	go NewSession(server, NewAuthenticator(user, pass), cfg, logrus.NewEntry(logger)).Handle(ctx)

	c := &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	greeting := c.read()
	require.True(t, strings.HasPrefix(greeting, "220 "), "greeting: %q", greeting)
	assert.Contains(t, greeting, cfg.Hostname)
	return c
}

const reportMessage = "From: infosec@example.com\r\n" +
	"To: dev-leads@example.com\r\n" +
	"Cc: sec-leads@example.com\r\n" +
	"Subject: Non-Compliant NonFS Repos\r\n" +
	"Content-Type: text/html; charset=UTF-8\r\n" +
	"\r\n" +
	"<p>Hi All,</p>\r\n" +
	"..leading dot\r\n" +
	"."

func TestSession_EHLOCapabilities(t *testing.T) {
	t.Parallel()

	c := startSession(t, Config{Sink: &mockSink{}, MaxMessageSize: 1024}, "user", "pass")
	lines := strings.Join(c.ehlo(), "\n")

	assert.Contains(t, lines, "AUTH PLAIN LOGIN")
	assert.Contains(t, lines, "SIZE 1024")
	assert.NotContains(t, lines, "STARTTLS")
}

func TestSession_SimpleCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  string
		code string
	}{
		{cmd: "HELO client.test.com", code: "250"},
		{cmd: "EHLO", code: "501"},
		{cmd: "NOOP", code: "250"},
		{cmd: "INVALID", code: "500"},
		{cmd: "STARTTLS", code: "454"},
		{cmd: "QUIT", code: "221"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			t.Parallel()
			c := startSession(t, Config{Sink: &mockSink{}}, "", "")
			c.expect(tt.cmd, tt.code)
		})
	}
}

func TestSession_MailTransactionRecordsEnvelope(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	c := startSession(t, Config{Sink: sink}, "", "")
	c.ehlo()

	c.expect("MAIL FROM:<infosec@example.com> BODY=8BITMIME", "250")
	c.expect("RCPT TO:<dev-leads@example.com>", "250")
	c.expect("RCPT TO:<sec-leads@example.com>", "250")
	c.expect("DATA", "354")
	c.expect(reportMessage, "250")

	msg := sink.last()
	require.NotNil(t, msg)
	assert.Equal(t, "Non-Compliant NonFS Repos", msg.Subject)
	assert.Equal(t, "infosec@example.com", msg.Envelope.From)
	assert.Equal(t, []string{"dev-leads@example.com", "sec-leads@example.com"}, msg.Envelope.To)
	assert.Contains(t, msg.HtmlBody, ".leading dot")
	assert.NotContains(t, msg.HtmlBody, "..leading dot")
}

func TestSession_SinkFailure(t *testing.T) {
	t.Parallel()

	c := startSession(t, Config{Sink: &mockSink{sendErr: errors.New("disk full")}}, "", "")
	c.ehlo()
	c.expect("MAIL FROM:<infosec@example.com>", "250")
	c.expect("RCPT TO:<dev-leads@example.com>", "250")
	c.expect("DATA", "354")
	c.expect(reportMessage, "451")

	// The transaction is reset; a new one has to start with MAIL.
	c.expect("RCPT TO:<dev-leads@example.com>", "503")
}

func TestSession_MessageTooLarge(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	c := startSession(t, Config{Sink: sink, MaxMessageSize: 64}, "", "")
	c.ehlo()
	c.expect("MAIL FROM:<infosec@example.com>", "250")
	c.expect("RCPT TO:<dev-leads@example.com>", "250")
	c.expect("DATA", "354")
	c.expect(reportMessage, "552")

	assert.Nil(t, sink.last())
}

func TestSession_RSET(t *testing.T) {
	t.Parallel()

	c := startSession(t, Config{Sink: &mockSink{}}, "", "")
	c.ehlo()
	c.expect("MAIL FROM:<infosec@example.com>", "250")
	c.expect("RSET", "250")
	c.expect("RCPT TO:<dev-leads@example.com>", "503")
}

func TestSession_StateOrderEnforcement(t *testing.T) {
	t.Parallel()

	c := startSession(t, Config{Sink: &mockSink{}}, "user", "pass")

	c.expect("AUTH PLAIN dGVzdA==", "503")
	c.expect("MAIL FROM:<infosec@example.com>", "503")
	c.ehlo()
	c.expect("MAIL FROM:<infosec@example.com>", "530")
	c.expect("RCPT TO:<dev-leads@example.com>", "503")
	c.expect("DATA", "503")
}

func TestSession_AuthPlainThenSend(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	c := startSession(t, Config{Sink: sink}, "infosec@example.com", "s3cret")
	c.ehlo()

	c.expect("AUTH PLAIN "+b64("\x00infosec@example.com\x00wrong"), "535")
	c.expect("AUTH PLAIN "+b64("\x00infosec@example.com\x00s3cret"), "235")
	c.expect("MAIL FROM:<infosec@example.com>", "250")
	c.expect("RCPT TO:<dev-leads@example.com>", "250")
	c.expect("DATA", "354")
	c.expect(reportMessage, "250")
	assert.NotNil(t, sink.last())
}

func TestSession_AuthLogin(t *testing.T) {
	t.Parallel()

	c := startSession(t, Config{Sink: &mockSink{}}, "infosec@example.com", "s3cret")
	c.ehlo()

	assert.Equal(t, "334 VXNlcm5hbWU6", c.expect("AUTH LOGIN", "334"))
	assert.Equal(t, "334 UGFzc3dvcmQ6", c.expect(b64("infosec@example.com"), "334"))
	c.expect(b64("s3cret"), "235")
}

func TestSession_AuthRequiresTLS(t *testing.T) {
	t.Parallel()

	tlsConfig, err := certs.ServerConfig("", "")
	require.NoError(t, err)

	sink := &mockSink{}
	c := startSession(t, Config{Sink: sink, TLSConfig: tlsConfig}, "infosec@example.com", "s3cret")

	caps := strings.Join(c.ehlo(), "\n")
	assert.Contains(t, caps, "STARTTLS")
	assert.NotContains(t, caps, "AUTH")
	c.expect("AUTH PLAIN "+b64("\x00infosec@example.com\x00s3cret"), "538")

	c.startTLS()

	// State is discarded by the upgrade.
	c.expect("MAIL FROM:<infosec@example.com>", "503")
	caps = strings.Join(c.ehlo(), "\n")
	assert.NotContains(t, caps, "STARTTLS")
	assert.Contains(t, caps, "AUTH PLAIN LOGIN")

	c.expect("AUTH PLAIN "+b64("\x00infosec@example.com\x00s3cret"), "235")
	c.expect("MAIL FROM:<infosec@example.com>", "250")
	c.expect("RCPT TO:<dev-leads@example.com>", "250")
	c.expect("DATA", "354")
	c.expect(reportMessage, "250")
	assert.NotNil(t, sink.last())
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		wantCmd string
		wantArg string
	}{
		{"EHLO client.test.com", "EHLO", "client.test.com"},
		{"MAIL FROM:<user@example.com>", "MAIL", "FROM:<user@example.com>"},
		{"DATA", "DATA", ""},
		{"ehlo client.test.com", "EHLO", "client.test.com"},
		{"AUTH PLAIN dGVzdA==", "AUTH", "PLAIN dGVzdA=="},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			cmd, arg := parseCommand(tt.input)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"<user@example.com>", "user@example.com", true},
		{"  <user@example.com> SIZE=1000", "user@example.com", true},
		{"user@example.com BODY=8BITMIME", "user@example.com", true},
		{"<>", "", true},
		{"<user@example.com", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, ok := extractAddress(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
