package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// EnvProvider reads secrets from environment variables. A secret named
// "infosec-email" is read from <Prefix>INFOSEC_EMAIL.
type EnvProvider struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvProvider creates an EnvProvider reading the process environment.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix, lookup: os.LookupEnv}
}

// GetSecret implements Provider.
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := p.Key(name)
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, key)
	}
	return v, nil
}

// Key returns the environment variable a secret name maps to.
func (p *EnvProvider) Key(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
	return p.Prefix + mapped
}

// Name implements Provider.
func (p *EnvProvider) Name() string { return "env" }

// FileProvider reads secrets from a flat YAML mapping of name to value.
// The file is read on every lookup so rotated values are picked up.
type FileProvider struct {
	Path string
}

// NewFileProvider creates a FileProvider for the YAML file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// GetSecret implements Provider.
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return "", fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return "", fmt.Errorf("failed to read secrets file: %w", err)
	}

	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return "", fmt.Errorf("failed to parse secrets file: %w", err)
	}

	v, ok := values[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q not present in %s", ErrNotFound, name, p.Path)
	}
	return v, nil
}

// Name implements Provider.
func (p *FileProvider) Name() string { return "file" }

// KeyringProvider reads secrets from the OS keychain (macOS Keychain,
// Secret Service on Linux, Windows Credential Manager). Each secret is an
// entry of Service keyed by the secret name.
type KeyringProvider struct {
	Service string
}

// NewKeyringProvider creates a KeyringProvider for the given service name.
func NewKeyringProvider(service string) *KeyringProvider {
	return &KeyringProvider{Service: service}
}

// GetSecret implements Provider.
func (p *KeyringProvider) GetSecret(_ context.Context, name string) (string, error) {
	v, err := keyring.Get(p.Service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %q in keyring service %q", ErrNotFound, name, p.Service)
		}
		return "", fmt.Errorf("%w: keyring: %v", ErrAuth, err)
	}
	return v, nil
}

// Name implements Provider.
func (p *KeyringProvider) Name() string { return "keyring" }
