// Package relay implements a small capture SMTP relay with STARTTLS and
// AUTH PLAIN/LOGIN. Every accepted message is parsed and handed to a sink
// transport, which makes the relay useful for previewing reports locally and
// as the receiving end of the SMTP transport's tests.
package relay

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/transport"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Config holds the configuration for a relay.
type Config struct {
	// Hostname is the server hostname used in the greeting and EHLO responses.
	Hostname string

	// Sink receives every accepted message.
	Sink transport.Transport

	// TLSConfig enables STARTTLS. When set, AUTH is refused until the
	// session has been upgraded.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If both are empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// MaxMessageSize is advertised in EHLO and enforced on DATA.
	MaxMessageSize int64

	Logger *logrus.Entry
}

// Server accepts SMTP connections and hands messages to the sink.
type Server struct {
	config Config
	auth   *Authenticator
	log    *logrus.Entry

	mu       sync.Mutex
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a relay Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
		log:    log.WithField("component", "relay"),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation
// it stops accepting and waits up to 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"addr":         ln.Addr().String(),
		"sink":         s.config.Sink.Name(),
		"auth_enabled": s.auth.Enabled(),
		"tls_enabled":  s.config.TLSConfig != nil,
	}).Info("relay listening")

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down relay")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForSessions()
				return nil
			default:
				s.log.WithError(err).Error("accept error")
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(conn, s.auth, s.config, s.log).Handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		s.log.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
