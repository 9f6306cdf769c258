// Package azurekv implements a secrets.Provider backed by Azure Key Vault,
// authenticating with the ambient DefaultAzureCredential chain
// (environment, workload identity, managed identity, Azure CLI).
package azurekv

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/infosec-automation/compliance-mailer/internal/secrets"
)

// GetSecretAPI is the subset of the azsecrets client used by the provider.
// Used for testing with mock implementations.
type GetSecretAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// Provider resolves secrets from a single vault.
type Provider struct {
	vaultURL string
	client   GetSecretAPI
}

// New creates a Provider for vaultURL using DefaultAzureCredential.
func New(vaultURL string) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create default Azure credential: %v", secrets.ErrAuth, err)
	}

	client, err := azsecrets.NewClient(vaultURL, tokenCredential{cred}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}

	return &Provider{vaultURL: vaultURL, client: client}, nil
}

// tokenCredential marks every token acquisition failure as secrets.ErrAuth.
// With no usable identity, DefaultAzureCredential fails with a chain error
// that is not an AuthenticationFailedError.
type tokenCredential struct {
	azcore.TokenCredential
}

func (c tokenCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.TokenCredential.GetToken(ctx, opts)
	if err != nil {
		return tok, fmt.Errorf("%w: failed to acquire token: %w", secrets.ErrAuth, err)
	}
	return tok, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(vaultURL string, client GetSecretAPI) *Provider {
	return &Provider{vaultURL: vaultURL, client: client}
}

// GetSecret returns the latest version of the named secret.
func (p *Provider) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := p.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", classify(name, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("%w: %q has no value", secrets.ErrNotFound, name)
	}
	return *resp.Value, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "azure-keyvault"
}

// classify maps Key Vault and identity errors onto the secrets sentinels.
func classify(name string, err error) error {
	if errors.Is(err, secrets.ErrAuth) {
		return err
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%w: %v", secrets.ErrAuth, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %q (%s)", secrets.ErrNotFound, name, respErr.ErrorCode)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", secrets.ErrAuth, respErr.ErrorCode)
		}
	}

	return fmt.Errorf("key vault request failed: %w", err)
}
