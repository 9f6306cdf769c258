package report

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/config"
	"github.com/infosec-automation/compliance-mailer/internal/secrets"
	"github.com/infosec-automation/compliance-mailer/internal/secrets/awssm"
	"github.com/infosec-automation/compliance-mailer/internal/secrets/azurekv"
	"github.com/infosec-automation/compliance-mailer/internal/transport"
	"github.com/infosec-automation/compliance-mailer/internal/transport/graph"
	"github.com/infosec-automation/compliance-mailer/internal/transport/ses"
	"github.com/infosec-automation/compliance-mailer/internal/transport/smtp"
	"github.com/infosec-automation/compliance-mailer/internal/transport/stdout"
)

// NewSecretProvider creates the secret store selected by sc.Provider.
func NewSecretProvider(ctx context.Context, sc config.SecretsConfig) (secrets.Provider, error) {
	switch sc.Provider {
	case config.SecretsAzureKeyVault:
		return azurekv.New(sc.VaultURL)
	case config.SecretsAWS:
		return awssm.New(ctx, sc.AWSRegion)
	case config.SecretsEnv:
		return secrets.NewEnvProvider(sc.EnvPrefix), nil
	case config.SecretsFile:
		return secrets.NewFileProvider(sc.File), nil
	case config.SecretsKeyring:
		return secrets.NewKeyringProvider(sc.KeyringService), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", sc.Provider)
	}
}

// NewTransport creates the delivery transport selected by cfg.Transport.
// The SMTP transport logs in with the resolved sender credentials; the
// other transports authenticate with their own configuration.
func NewTransport(ctx context.Context, cfg config.Config, creds secrets.Credentials, log *logrus.Entry) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSMTP:
		return smtp.New(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           creds.Address,
			Password:           creds.Password,
			LocalName:          cfg.SMTP.LocalName,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}, log), nil

	case config.TransportSES:
		return ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		}, log)

	case config.TransportGraph:
		return graph.New(ctx, graph.Config{
			TenantID:        cfg.Graph.TenantID,
			ClientID:        cfg.Graph.ClientID,
			ClientSecret:    cfg.Graph.ClientSecret,
			SaveToSentItems: cfg.Graph.SaveToSentItems,
		}, log), nil

	case config.TransportStdout:
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
