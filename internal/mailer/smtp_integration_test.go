package mailer_test

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infosec-automation/compliance-mailer/internal/certs"
	"github.com/infosec-automation/compliance-mailer/internal/email"
	"github.com/infosec-automation/compliance-mailer/internal/mailer"
	"github.com/infosec-automation/compliance-mailer/internal/relay"
	"github.com/infosec-automation/compliance-mailer/internal/transport/smtp"
)

type sink struct {
	mu   sync.Mutex
	msgs []*email.Email
}

func (s *sink) Send(_ context.Context, msg *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sink) Name() string { return "sink" }

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestDispatcher_SMTPAuthFailureIsReturned(t *testing.T) {
	t.Parallel()

	tlsConfig, err := certs.ServerConfig("", "")
	require.NoError(t, err)

	relayLog, _ := test.NewNullLogger()
	received := &sink{}
	srv := relay.New(relay.Config{
		Sink:         received,
		TLSConfig:    tlsConfig,
		AuthUsername: "infosec@example.com",
		AuthPassword: "right",
		Logger:       logrus.NewEntry(relayLog),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	port := ln.Addr().(*net.TCPAddr).Port
	logger, hook := test.NewNullLogger()
	tr := smtp.New(smtp.Config{
		Host:               "127.0.0.1",
		Port:               port,
		Username:           "infosec@example.com",
		Password:           "wrong",
		InsecureSkipVerify: true,
	}, logrus.NewEntry(logger))

	d := mailer.New("infosec@example.com", tr, logrus.NewEntry(logger))
	err = d.Send(context.Background(), mailer.Message{
		To:       []string{"a@x.com"},
		Cc:       []string{"b@x.com"},
		Subject:  "Non-Compliant NonFS Repos",
		HTMLBody: "<p>Hi All,</p>",
	})

	var delivery *mailer.DeliveryError
	require.ErrorAs(t, err, &delivery)
	var smtpErr *smtp.Error
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, smtp.StageConnect, smtpErr.Stage)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), smtpErr.Addr)
	assert.Zero(t, received.count())

	var failure *logrus.Entry
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "❌") {
			failure = e
		}
	}
	require.NotNil(t, failure)
	assert.Contains(t, failure.Message, "a@x.com")
	assert.Contains(t, failure.Message, "b@x.com")
}
