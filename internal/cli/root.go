// Package cli defines the compliance-mailer command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/infosec-automation/compliance-mailer/internal/config"
	"github.com/infosec-automation/compliance-mailer/internal/logging"
	"github.com/infosec-automation/compliance-mailer/internal/metrics"
	"github.com/infosec-automation/compliance-mailer/internal/report"
	"github.com/infosec-automation/compliance-mailer/internal/secrets"
	"github.com/infosec-automation/compliance-mailer/internal/source"
	"github.com/infosec-automation/compliance-mailer/internal/transport"
	"github.com/infosec-automation/compliance-mailer/internal/transport/stdout"
)

// Options configure the command tree. Zero writers default to os.Stdout.
type Options struct {
	Out    io.Writer
	LogOut io.Writer
}

type runtimeState struct {
	configPath string
	input      string
	transport  string
	dryRun     bool

	out    io.Writer
	logOut io.Writer
}

// ExitError carries the process exit status for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// NewRootCommand builds the command tree. Running the root without a
// subcommand performs one send.
func NewRootCommand(opts Options) *cobra.Command {
	rt := &runtimeState{out: opts.Out, logOut: opts.LogOut}
	if rt.out == nil {
		rt.out = os.Stdout
	}
	if rt.logOut == nil {
		rt.logOut = os.Stdout
	}

	root := &cobra.Command{
		Use:           "compliance-mailer",
		Short:         "Mail the non-compliant repositories report",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.send(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&rt.input, "input", "", "Spreadsheet path or gs://bucket/object (overrides report.input)")
	root.PersistentFlags().StringVar(&rt.transport, "transport", "", "Delivery transport: smtp, ses, graph, stdout")
	root.PersistentFlags().BoolVar(&rt.dryRun, "dry-run", false, "Print the message instead of sending it")

	root.AddCommand(
		newSendCommand(rt),
		newScheduleCommand(rt),
		newRelayCommand(rt),
		newRenderCommand(rt),
	)
	return root
}

// Execute runs the command tree with signal handling and returns the
// process exit status.
func Execute(args []string, opts Options) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(opts)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return report.ExitOK
	}

	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return report.ExitConfig
}

// loadConfig reads the configuration and applies command-line overrides.
// The returned value is not modified afterwards.
func (rt *runtimeState) loadConfig(validate bool) (config.Config, error) {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return config.Config{}, &ExitError{Code: report.ExitConfig, Err: err}
	}

	if rt.input != "" {
		cfg.Report.Input = rt.input
	}
	if rt.transport != "" {
		cfg.Transport = rt.transport
	}
	if rt.dryRun {
		cfg.Transport = config.TransportStdout
	}

	if validate {
		if err := cfg.Validate(); err != nil {
			return config.Config{}, &ExitError{Code: report.ExitConfig, Err: err}
		}
	}
	return cfg, nil
}

func (rt *runtimeState) logger(cfg config.Config) (*logrus.Entry, error) {
	logger, err := logging.NewWithOutput(cfg.Logging, rt.logOut)
	if err != nil {
		return nil, &ExitError{Code: report.ExitConfig, Err: err}
	}
	return logrus.NewEntry(logger), nil
}

// newRunner wires the report runner for cfg. The returned close function
// releases the input source.
func (rt *runtimeState) newRunner(ctx context.Context, cfg config.Config, log *logrus.Entry, m *metrics.Metrics) (*report.Runner, func(), error) {
	provider, err := report.NewSecretProvider(ctx, cfg.Secrets)
	if err != nil {
		return nil, nil, &ExitError{Code: report.ExitCredentials, Err: err}
	}

	resolver := source.NewResolver(source.NewGCSOpener, log)
	closeFn := func() {
		if err := resolver.Close(); err != nil {
			log.WithError(err).Warn("Failed to close input source")
		}
	}

	runner := report.NewRunner(cfg, report.Deps{
		Secrets: provider,
		Source:  resolver,
		NewTransport: func(ctx context.Context, creds secrets.Credentials) (transport.Transport, error) {
			if cfg.Transport == config.TransportStdout {
				return stdout.NewWithWriter(rt.out, false), nil
			}
			return report.NewTransport(ctx, cfg, creds, log)
		},
		Metrics: m,
		Logger:  log,
	})
	return runner, closeFn, nil
}

func runError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: report.ExitCode(err), Err: err}
}
