// Package awssm implements a secrets.Provider backed by AWS Secrets Manager.
package awssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/infosec-automation/compliance-mailer/internal/secrets"
)

// GetSecretValueAPI is the interface for the Secrets Manager GetSecretValue
// operation. Used for testing with mock implementations.
type GetSecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Provider resolves secrets by name or ARN.
type Provider struct {
	client GetSecretValueAPI
}

// New creates a Provider using the default AWS credential chain. An empty
// region falls back to the chain's region resolution.
func New(ctx context.Context, region string) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client GetSecretValueAPI) *Provider {
	return &Provider{client: client}
}

// GetSecret returns the current string value of the secret.
func (p *Provider) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", classify(name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: %q has no string value", secrets.ErrNotFound, name)
	}
	return *out.SecretString, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "aws-secretsmanager"
}

var authErrorCodes = map[string]bool{
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"InvalidSignatureException":   true,
	"ExpiredTokenException":       true,
}

func classify(name string, err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %q", secrets.ErrNotFound, name)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %s", secrets.ErrAuth, apiErr.ErrorCode())
	}

	return fmt.Errorf("secrets manager request failed: %w", err)
}
