package smtp

import (
	"errors"
	"fmt"
	netsmtp "net/smtp"
	"slices"
)

var (
	// ErrTLSRequired is returned when the server did not upgrade the session
	// with STARTTLS before authentication.
	ErrTLSRequired = errors.New("server did not negotiate STARTTLS")

	// ErrAuthUnsupported is returned when the server offers no usable AUTH
	// mechanism.
	ErrAuthUnsupported = errors.New("server offers no PLAIN or LOGIN authentication")
)

// requiredAuth is set as the dialer's Auth so that login always happens and
// only over TLS. gomail otherwise skips STARTTLS and AUTH when the server
// does not advertise them.
type requiredAuth struct {
	host     string
	username string
	password string
}

func newRequiredAuth(host, username, password string) *requiredAuth {
	return &requiredAuth{host: host, username: username, password: password}
}

func (a *requiredAuth) Start(server *netsmtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, ErrTLSRequired
	}

	switch {
	case slices.Contains(server.Auth, "PLAIN"):
		return netsmtp.PlainAuth("", a.username, a.password, a.host).Start(server)
	case slices.Contains(server.Auth, "LOGIN"):
		return "LOGIN", nil, nil
	default:
		return "", nil, ErrAuthUnsupported
	}
}

// Next answers the LOGIN challenges. PLAIN sends everything in Start, so a
// further challenge is an error for it as well.
func (a *requiredAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:":
		return []byte(a.username), nil
	case "Password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
	}
}
