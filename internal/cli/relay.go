package cli

import (
	"crypto/tls"

	"github.com/spf13/cobra"

	"github.com/infosec-automation/compliance-mailer/internal/certs"
	"github.com/infosec-automation/compliance-mailer/internal/relay"
	"github.com/infosec-automation/compliance-mailer/internal/report"
	"github.com/infosec-automation/compliance-mailer/internal/transport/stdout"
)

func newRelayCommand(rt *runtimeState) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local SMTP relay that prints every message it receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.loadConfig(false)
			if err != nil {
				return err
			}
			log, err := rt.logger(cfg)
			if err != nil {
				return err
			}

			addr := cfg.Relay.Listen
			if listen != "" {
				addr = listen
			}

			var tlsConfig *tls.Config
			tlsMode := "disabled"
			if !cfg.Relay.DisableTLS {
				tlsConfig, err = certs.ServerConfig(cfg.Relay.CertFile, cfg.Relay.KeyFile, certs.DefaultHosts...)
				if err != nil {
					return &ExitError{Code: report.ExitConfig, Err: err}
				}
				tlsMode = "self-signed"
				if cfg.Relay.CertFile != "" {
					tlsMode = "file"
				}
			}

			srv := relay.New(relay.Config{
				Hostname:       cfg.Relay.Hostname,
				Sink:           stdout.NewWithWriter(rt.out, cfg.Relay.Raw),
				TLSConfig:      tlsConfig,
				AuthUsername:   cfg.Relay.Username,
				AuthPassword:   cfg.Relay.Password,
				MaxMessageSize: cfg.Relay.MaxMessageSize,
				Logger:         log,
			})

			log.WithField("tls_mode", tlsMode).Info("Starting capture relay")
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return &ExitError{Code: report.ExitConfig, Err: err}
			}
			log.Info("Capture relay stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides relay.listen)")
	return cmd
}
