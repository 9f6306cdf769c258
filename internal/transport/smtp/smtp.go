// Package smtp implements a Transport that submits reports to an SMTP relay
// over a STARTTLS-upgraded, authenticated session.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

// Stage names the point of the SMTP session at which a failure happened.
type Stage string

const (
	StageConnect Stage = "connect"
	StageSend    Stage = "send"
	StageQuit    Stage = "quit"
)

// Error is returned for any failure during the SMTP session.
type Error struct {
	Stage Stage
	Addr  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("smtp %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds the relay endpoint and the credentials used to log in.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	LocalName          string
	InsecureSkipVerify bool
}

// dialer opens an authenticated session. *gomail.Dialer satisfies it.
type dialer interface {
	Dial() (gomail.SendCloser, error)
}

// Transport sends messages through a gomail dialer.
type Transport struct {
	addr   string
	dialer dialer
	log    *logrus.Entry
}

// New creates an SMTP Transport. Every session must upgrade with STARTTLS
// and then log in; a server that allows neither fails at StageConnect
// before any message data is sent.
func New(cfg Config, log *logrus.Entry) *Transport {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.LocalName = cfg.LocalName
	d.Auth = newRequiredAuth(cfg.Host, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.InsecureSkipVerify {
		log.Warn("TLS certificate verification is disabled for the SMTP relay")
	}

	return &Transport{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		dialer: d,
		log:    log.WithField("transport", "smtp"),
	}
}

// Send opens one session, submits msg to its recipients and quits. The
// session is closed on every path.
func (t *Transport) Send(ctx context.Context, msg *email.Email) (err error) {
	if err := ctx.Err(); err != nil {
		return &Error{Stage: StageConnect, Addr: t.addr, Err: err}
	}

	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return &Error{Stage: StageSend, Addr: t.addr, Err: errors.New("no recipients")}
	}

	t.log.WithField("addr", t.addr).Info("🔌 Connecting to SMTP server (STARTTLS, login)")
	sc, err := t.dialer.Dial()
	if err != nil {
		return &Error{Stage: StageConnect, Addr: t.addr, Err: err}
	}
	t.log.Info("🔒 Session established, TLS negotiated and logged in")

	defer func() {
		if cerr := sc.Close(); cerr != nil && err == nil {
			err = &Error{Stage: StageQuit, Addr: t.addr, Err: cerr}
		}
	}()

	t.log.WithField("recipients", len(recipients)).Info("📤 Sending message")
	if err := sc.Send(msg.From, recipients, email.Compose(msg)); err != nil {
		return &Error{Stage: StageSend, Addr: t.addr, Err: err}
	}

	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}
