// Package report runs the compliance report: it resolves the sender
// credentials, loads and renders the spreadsheet, and mails the result.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/config"
	"github.com/infosec-automation/compliance-mailer/internal/mailer"
	"github.com/infosec-automation/compliance-mailer/internal/metrics"
	"github.com/infosec-automation/compliance-mailer/internal/secrets"
	"github.com/infosec-automation/compliance-mailer/internal/table"
	"github.com/infosec-automation/compliance-mailer/internal/transport"
)

// Exit codes returned by ExitCode.
const (
	ExitOK          = 0
	ExitConfig      = 1
	ExitCredentials = 2
	ExitInput       = 3
	ExitAttachment  = 4
	ExitDelivery    = 5
)

// InputError reports a spreadsheet that could not be fetched or read.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("failed to read report input %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// CredentialsError reports a failure to obtain the sender credentials.
type CredentialsError struct {
	Err error
}

func (e *CredentialsError) Error() string { return e.Err.Error() }

func (e *CredentialsError) Unwrap() error { return e.Err }

// Fetcher turns an input location into a local file path.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, func(), error)
}

// TransportFactory creates the transport once credentials are known.
type TransportFactory func(ctx context.Context, creds secrets.Credentials) (transport.Transport, error)

// Deps are the collaborators of a Runner.
type Deps struct {
	Secrets      secrets.Provider
	Source       Fetcher
	NewTransport TransportFactory
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// Runner executes report runs for one configuration.
type Runner struct {
	cfg   config.Config
	deps  Deps
	log   *logrus.Entry
	now   func() time.Time
	newID func() string
}

// NewRunner creates a Runner. cfg is copied and never modified.
func NewRunner(cfg config.Config, deps Deps) *Runner {
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		cfg:   cfg,
		deps:  deps,
		log:   log.WithField("component", "report"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Run performs one complete report run. Failures are logged and returned;
// ExitCode maps them to a process status.
func (r *Runner) Run(ctx context.Context) (err error) {
	started := r.now()
	runID := r.newID()
	log := r.log.WithField("run_id", runID)

	defer func() {
		r.finish(ctx, log, err, started)
	}()

	log.Info("🚀 Starting compliance report run")

	creds, err := secrets.Resolve(ctx, r.deps.Secrets, secrets.Names{
		Address:  r.cfg.Secrets.AddressSecret,
		Password: r.cfg.Secrets.PasswordSecret,
	}, log)
	if err != nil {
		return &CredentialsError{Err: err}
	}

	path, cleanup, tableHTML, err := r.render(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := r.deps.NewTransport(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	msg := mailer.Message{
		To:       r.cfg.Mail.To,
		Cc:       r.cfg.Mail.Cc,
		Subject:  r.cfg.Mail.Subject,
		HTMLBody: BuildBody(r.cfg.Report, tableHTML),
		RunID:    runID,
	}
	if r.cfg.Report.Attach {
		msg.AttachmentPath = path
	}

	err = mailer.New(creds.Address, t, log).Send(ctx, msg)

	var attErr *mailer.AttachmentError
	if r.deps.Metrics != nil && !errors.As(err, &attErr) {
		r.deps.Metrics.ObserveSend(t.Name(), err)
	}
	return err
}

// Render fetches the configured spreadsheet and returns its HTML table.
func (r *Runner) Render(ctx context.Context) (string, error) {
	_, cleanup, tableHTML, err := r.render(ctx, r.log)
	if err != nil {
		return "", err
	}
	cleanup()
	return tableHTML, nil
}

func (r *Runner) render(ctx context.Context, log *logrus.Entry) (string, func(), string, error) {
	input := r.cfg.Report.Input

	path, cleanup, err := r.deps.Source.Fetch(ctx, input)
	if err != nil {
		log.WithError(err).WithField("input", input).Error("❌ Could not fetch spreadsheet")
		return "", nil, "", &InputError{Path: input, Err: err}
	}

	log.WithField("path", path).Info("📄 Reading spreadsheet")
	ds, err := table.ReadFile(path, table.ReadOptions{
		SheetIndex: r.cfg.Report.SheetIndex,
		SheetName:  r.cfg.Report.SheetName,
	})
	if err != nil {
		cleanup()
		log.WithError(err).WithField("path", path).Error("❌ Could not read spreadsheet")
		return "", nil, "", &InputError{Path: input, Err: err}
	}

	tableHTML := table.Render(ds, table.RenderOptions{Raw: r.cfg.Report.RawCells})
	log.WithFields(logrus.Fields{
		"rows":    ds.NumRows(),
		"columns": len(ds.Columns()),
	}).Info("🧮 Rendered HTML table")

	if r.deps.Metrics != nil {
		r.deps.Metrics.ReportRows.Set(float64(ds.NumRows()))
	}
	return path, cleanup, tableHTML, nil
}

func (r *Runner) finish(ctx context.Context, log *logrus.Entry, err error, started time.Time) {
	finished := r.now()
	log = log.WithField("duration", finished.Sub(started).String())
	if err != nil {
		log.WithField("outcome", Outcome(err)).Error("🛑 Report run failed")
	} else {
		log.Info("🏁 Report run complete")
	}

	m := r.deps.Metrics
	if m == nil {
		return
	}
	m.ObserveRun(Outcome(err), started, finished)

	url := r.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	if perr := m.Push(ctx, url, r.cfg.Metrics.Job); perr != nil {
		log.WithError(perr).Warn("⚠️ Could not push metrics")
	}
}

// Outcome names the kind of err for metrics labels.
func Outcome(err error) string {
	switch ExitCode(err) {
	case ExitOK:
		return metrics.OutcomeSuccess
	case ExitCredentials:
		return metrics.OutcomeCredentials
	case ExitInput:
		return metrics.OutcomeInput
	case ExitAttachment:
		return metrics.OutcomeAttachment
	case ExitDelivery:
		return metrics.OutcomeDelivery
	default:
		return metrics.OutcomeConfig
	}
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		credErr     *CredentialsError
		inputErr    *InputError
		attErr      *mailer.AttachmentError
		deliveryErr *mailer.DeliveryError
	)
	switch {
	case errors.As(err, &credErr),
		errors.Is(err, secrets.ErrAuth),
		errors.Is(err, secrets.ErrNotFound):
		return ExitCredentials
	case errors.As(err, &inputErr):
		return ExitInput
	case errors.As(err, &attErr):
		return ExitAttachment
	case errors.As(err, &deliveryErr):
		return ExitDelivery
	default:
		return ExitConfig
	}
}
