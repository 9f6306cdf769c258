package relay

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

var errAuthFailed = errors.New("authentication failed")

// Authenticator checks SMTP AUTH credentials against a single configured
// account. The zero account disables authentication.
type Authenticator struct {
	username []byte
	password []byte
}

func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: []byte(username), password: []byte(password)}
}

// Enabled reports whether both a username and a password are configured.
func (a *Authenticator) Enabled() bool {
	return len(a.username) > 0 && len(a.password) > 0
}

// VerifyPlain checks an AUTH PLAIN response, base64(authzid NUL authcid NUL
// password). The authorization identity is ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := decode("response", encoded)
	if err != nil {
		return err
	}

	fields := bytes.SplitN(decoded, []byte{0}, 3)
	if len(fields) != 3 {
		return errors.New("malformed AUTH PLAIN response")
	}
	return a.check(fields[1], fields[2])
}

// VerifyLogin checks the two base64 answers of an AUTH LOGIN exchange.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := decode("username", encodedUser)
	if err != nil {
		return err
	}
	pass, err := decode("password", encodedPass)
	if err != nil {
		return err
	}
	return a.check(user, pass)
}

func decode(what, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 %s: %w", what, err)
	}
	return b, nil
}

// check compares both values in constant time, evaluating both before
// deciding.
func (a *Authenticator) check(user, pass []byte) error {
	userOK := subtle.ConstantTimeCompare(user, a.username)
	passOK := subtle.ConstantTimeCompare(pass, a.password)
	if userOK&passOK != 1 {
		return errAuthFailed
	}
	return nil
}
