package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/parser"
	"github.com/infosec-automation/compliance-mailer/internal/transport"
)

// phase is how far a client has progressed through a mail transaction.
type phase int

const (
	phaseNew phase = iota
	phaseGreeted
	phaseAuthenticated
	phaseMail
	phaseRcpt
)

const (
	idleTimeout = 60 * time.Second

	// defaultMaxMessageSize is 25 MB, the Office 365 submission limit.
	defaultMaxMessageSize = 25 * 1024 * 1024

	// Base64 of "Username:" and "Password:".
	loginUserPrompt = "VXNlcm5hbWU6"
	loginPassPrompt = "UGFzc3dvcmQ6"
)

var (
	errMessageTooLarge = errors.New("message exceeds size limit")
	errAuthCancelled   = errors.New("authentication cancelled")
)

// envelope is the SMTP-level sender and recipients of one transaction.
type envelope struct {
	from  string
	rcpts []string
}

func (e *envelope) reset() { *e = envelope{} }

type handler func(s *Session, ctx context.Context, arg string) (quit bool)

var handlers = map[string]handler{
	"EHLO":     func(s *Session, _ context.Context, arg string) bool { s.greet("EHLO", arg); return false },
	"HELO":     func(s *Session, _ context.Context, arg string) bool { s.greet("HELO", arg); return false },
	"STARTTLS": func(s *Session, _ context.Context, _ string) bool { s.startTLS(); return false },
	"AUTH":     func(s *Session, _ context.Context, arg string) bool { s.authenticate(arg); return false },
	"MAIL":     func(s *Session, _ context.Context, arg string) bool { s.mailFrom(arg); return false },
	"RCPT":     func(s *Session, _ context.Context, arg string) bool { s.rcptTo(arg); return false },
	"DATA":     func(s *Session, ctx context.Context, _ string) bool { s.data(ctx); return false },
	"RSET": func(s *Session, _ context.Context, _ string) bool {
		s.endTransaction()
		s.reply(250, "OK")
		return false
	},
	"NOOP": func(s *Session, _ context.Context, _ string) bool { s.reply(250, "OK"); return false },
	"QUIT": func(s *Session, _ context.Context, _ string) bool { s.reply(221, "Bye"); return true },
}

// Session is a single client connection.
type Session struct {
	conn net.Conn
	rw   *bufio.ReadWriter
	log  *logrus.Entry

	auth     *Authenticator
	sink     transport.Transport
	hostname string
	maxSize  int64

	tlsConfig *tls.Config
	secure    bool

	phase phase
	env   envelope
}

// NewSession creates a session for conn. Zero values in cfg fall back to
// the relay defaults.
func NewSession(conn net.Conn, auth *Authenticator, cfg Config, log *logrus.Entry) *Session {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{
		auth:      auth,
		sink:      cfg.Sink,
		hostname:  cfg.Hostname,
		maxSize:   cfg.MaxMessageSize,
		tlsConfig: cfg.TLSConfig,
		log:       log.WithField("remote", conn.RemoteAddr().String()),
	}
	s.attach(conn)
	return s
}

func (s *Session) attach(conn net.Conn) {
	s.conn = conn
	s.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
}

// Handle serves commands until the client quits, the connection fails or
// ctx is cancelled.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.reply(220, "%s ESMTP compliance-mailer relay", s.hostname)

	for ctx.Err() == nil {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.log.WithError(err).Error("failed to set connection deadline")
			return
		}

		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Debug("connection read error")
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseCommand(line)
		h, ok := handlers[verb]
		if !ok {
			s.reply(500, "Unrecognized command")
			continue
		}
		if h(s, ctx, arg) {
			return
		}
	}

	s.reply(421, "Service shutting down")
}

func (s *Session) greet(verb, arg string) {
	if arg == "" {
		s.reply(501, "Syntax: %s hostname", verb)
		return
	}
	s.phase = phaseGreeted

	if verb == "HELO" {
		s.reply(250, "%s Hello %s", s.hostname, arg)
		return
	}

	lines := []string{fmt.Sprintf("%s Hello %s", s.hostname, arg)}
	if s.tlsConfig != nil && !s.secure {
		lines = append(lines, "STARTTLS")
	}
	if s.auth.Enabled() && s.canAuthenticate() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", s.maxSize), "OK")
	s.replyLines(250, lines)
}

// canAuthenticate reports whether credentials may cross this connection:
// always when no TLS is configured, otherwise only after STARTTLS.
func (s *Session) canAuthenticate() bool {
	return s.tlsConfig == nil || s.secure
}

func (s *Session) startTLS() {
	switch {
	case s.tlsConfig == nil:
		s.reply(454, "TLS not available")
		return
	case s.secure:
		s.reply(454, "TLS already active")
		return
	}

	s.reply(220, "Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.WithError(err).Error("TLS handshake failed")
		return
	}

	// RFC 3207: the client must greet again and nothing learned before the
	// handshake survives it.
	s.attach(tlsConn)
	s.secure = true
	s.phase = phaseNew
	s.env.reset()
}

func (s *Session) authenticate(arg string) {
	switch {
	case s.phase < phaseGreeted:
		s.reply(503, "Send EHLO/HELO first")
		return
	case !s.auth.Enabled():
		s.reply(503, "AUTH not available")
		return
	case !s.canAuthenticate():
		s.reply(538, "Encryption required for requested authentication mechanism")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.reply(504, "Unrecognized authentication type")
		return
	}

	switch {
	case err == nil:
		s.phase = phaseAuthenticated
		s.reply(235, "Authentication successful")
	case errors.Is(err, errAuthCancelled):
		s.reply(501, "Authentication cancelled")
	case errors.Is(err, io.EOF), isNetError(err):
		s.log.WithError(err).Error("connection lost during AUTH")
	default:
		s.log.WithField("mechanism", strings.ToUpper(mechanism)).WithError(err).Warn("AUTH rejected")
		s.reply(535, "Authentication failed")
	}
}

func (s *Session) authPlain(initial string) error {
	if initial == "" {
		var err error
		if initial, err = s.challenge(""); err != nil {
			return err
		}
	}
	return s.auth.VerifyPlain(initial)
}

func (s *Session) authLogin() error {
	user, err := s.challenge(loginUserPrompt)
	if err != nil {
		return err
	}
	pass, err := s.challenge(loginPassPrompt)
	if err != nil {
		return err
	}
	return s.auth.VerifyLogin(user, pass)
}

// challenge sends a 334 continuation and reads the client's answer.
func (s *Session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.reply(334, "")
	} else {
		s.reply(334, "%s", prompt)
	}
	answer, err := s.readLine()
	if err != nil {
		return "", err
	}
	if answer == "*" {
		return "", errAuthCancelled
	}
	return answer, nil
}

func (s *Session) mailFrom(arg string) {
	switch {
	case s.phase < phaseGreeted:
		s.reply(503, "Send EHLO/HELO first")
		return
	case s.auth.Enabled() && s.phase < phaseAuthenticated:
		s.reply(530, "Authentication required")
		return
	}

	rest, ok := cutPrefixFold(arg, "FROM:")
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}
	addr, ok := extractAddress(rest)
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}

	s.env = envelope{from: addr}
	s.phase = phaseMail
	s.reply(250, "OK")
}

func (s *Session) rcptTo(arg string) {
	if s.phase < phaseMail {
		s.reply(503, "Send MAIL FROM first")
		return
	}

	rest, ok := cutPrefixFold(arg, "TO:")
	if !ok {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}
	addr, ok := extractAddress(rest)
	if !ok || addr == "" {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}

	s.env.rcpts = append(s.env.rcpts, addr)
	s.phase = phaseRcpt
	s.reply(250, "OK")
}

// data receives the message, parses it and hands it to the sink with the
// envelope attached. The transaction ends whatever the outcome.
func (s *Session) data(ctx context.Context) {
	if s.phase < phaseRcpt {
		s.reply(503, "Send RCPT TO first")
		return
	}
	defer s.endTransaction()

	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	raw, err := s.readData()
	switch {
	case errors.Is(err, errMessageTooLarge):
		s.reply(552, "Message size exceeds fixed maximum message size")
		return
	case err != nil:
		s.log.WithError(err).Error("error reading DATA")
		return
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		s.log.WithError(err).Error("failed to parse message")
		s.reply(550, "Failed to process message")
		return
	}
	msg.Envelope.From = s.env.from
	msg.Envelope.To = append([]string(nil), s.env.rcpts...)

	if err := s.sink.Send(ctx, msg); err != nil {
		s.log.WithError(err).WithField("sink", s.sink.Name()).Error("sink delivery failed")
		s.reply(451, "Temporary failure, please try again later")
		return
	}

	s.log.WithFields(logrus.Fields{
		"from":       s.env.from,
		"recipients": len(s.env.rcpts),
		"bytes":      len(raw),
	}).Info("message accepted")
	s.reply(250, "OK message accepted")
}

// readData reads up to the lone "." terminator and undoes dot-stuffing.
// An oversized message is still drained so the session stays in sync.
func (s *Session) readData() ([]byte, error) {
	var buf []byte
	tooLarge := false

	for {
		line, err := s.rw.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		line = strings.TrimPrefix(line, ".")

		if tooLarge || int64(len(buf)+len(line)) > s.maxSize {
			tooLarge = true
			continue
		}
		buf = append(buf, line...)
	}

	if tooLarge {
		return nil, errMessageTooLarge
	}
	return buf, nil
}

// endTransaction drops the envelope and keeps greeting and authentication.
func (s *Session) endTransaction() {
	s.env.reset()
	switch {
	case s.auth.Enabled() && s.phase >= phaseAuthenticated:
		s.phase = phaseAuthenticated
	case s.phase >= phaseGreeted:
		s.phase = phaseGreeted
	}
}

func (s *Session) readLine() (string, error) {
	line, err := s.rw.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Session) reply(code int, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if text == "" {
		s.write(fmt.Sprintf("%d", code))
		return
	}
	s.write(fmt.Sprintf("%d %s", code, text))
}

// replyLines writes a multiline reply: "250-a", "250-b", "250 c".
func (s *Session) replyLines(code int, lines []string) {
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		s.write(fmt.Sprintf("%d%s%s", code, sep, l))
	}
}

func (s *Session) write(line string) {
	if _, err := s.rw.WriteString(line + "\r\n"); err != nil {
		s.log.WithError(err).Error("failed to write to client")
		return
	}
	if err := s.rw.Flush(); err != nil {
		s.log.WithError(err).Error("failed to flush to client")
	}
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

// cutPrefixFold is strings.CutPrefix ignoring ASCII case.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// parseCommand splits a command line into its upper-cased verb and argument.
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), arg
}

// extractAddress returns the address of a MAIL/RCPT parameter given as
// "<addr>" or bare, ignoring trailing ESMTP parameters. The null
// reverse-path "<>" yields an empty address.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if rest, ok := strings.CutPrefix(s, "<"); ok {
		addr, _, found := strings.Cut(rest, ">")
		return addr, found
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0], true
	}
	return "", false
}
