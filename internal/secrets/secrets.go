// Package secrets resolves the sender credentials from a secret store.
//
// Stores are reached through the Provider interface so the mailer never
// depends on a particular vault: Azure Key Vault and AWS Secrets Manager live
// in sub-packages, while environment variables, a local YAML file and the OS
// keychain are implemented here.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAuth is returned when the calling identity cannot authenticate to
	// the secret store.
	ErrAuth = errors.New("secret store authentication failed")

	// ErrNotFound is returned when a named secret does not exist.
	ErrNotFound = errors.New("secret not found")
)

// Provider is the interface that secret stores must implement.
type Provider interface {
	// GetSecret returns the current value of the named secret.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name returns the human-readable name of the store.
	Name() string
}

// Names identifies the two secrets holding the sender credentials.
type Names struct {
	Address  string
	Password string
}

// Credentials is the sender address and password pair. It is held in memory
// for the lifetime of a run and never formatted in clear.
type Credentials struct {
	Address  string
	Password string
}

const redacted = "[REDACTED]"

// String implements fmt.Stringer without revealing either value.
func (c Credentials) String() string { return "Credentials{" + redacted + "}" }

// GoString implements fmt.GoStringer so %#v is redacted as well.
func (c Credentials) GoString() string { return c.String() }

// Resolve fetches the address secret and then the password secret. Errors
// keep ErrAuth and ErrNotFound in their chain.
func Resolve(ctx context.Context, p Provider, names Names, log *logrus.Entry) (Credentials, error) {
	log = log.WithField("store", p.Name())
	log.Info("🔐 Fetching sender credentials from secret store")

	address, err := p.GetSecret(ctx, names.Address)
	if err != nil {
		log.WithField("secret", names.Address).WithError(err).Error("❌ Failed to fetch sender address")
		return Credentials{}, fmt.Errorf("failed to fetch secret %q from %s: %w", names.Address, p.Name(), err)
	}

	password, err := p.GetSecret(ctx, names.Password)
	if err != nil {
		log.WithField("secret", names.Password).WithError(err).Error("❌ Failed to fetch sender password")
		return Credentials{}, fmt.Errorf("failed to fetch secret %q from %s: %w", names.Password, p.Name(), err)
	}

	log.Info("✅ Sender credentials resolved")
	return Credentials{Address: address, Password: password}, nil
}
