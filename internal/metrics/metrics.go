// Package metrics records per-run report metrics and optionally pushes them
// to a Prometheus Pushgateway when a run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run outcomes, used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeConfig      = "config_error"
	OutcomeCredentials = "credentials_error"
	OutcomeInput       = "input_error"
	OutcomeAttachment  = "attachment_error"
	OutcomeDelivery    = "delivery_error"
)

// Metrics holds the collectors in a private registry so runs inside one
// process (the scheduler) accumulate without touching the global registry.
type Metrics struct {
	Registry *prometheus.Registry

	Runs                 *prometheus.CounterVec
	MailSendSuccess      *prometheus.CounterVec
	MailSendFailure      *prometheus.CounterVec
	ReportRows           prometheus.Gauge
	LastSuccessTimestamp prometheus.Gauge
	RunDuration          prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_mailer_runs_total",
			Help: "Total number of report runs by outcome",
		}, []string{"outcome"}),
		MailSendSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_mailer_mail_send_success_total",
			Help: "Total number of successful report sends",
		}, []string{"transport"}),
		MailSendFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_mailer_mail_send_failure_total",
			Help: "Total number of failed report sends",
		}, []string{"transport"}),
		ReportRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compliance_mailer_report_rows",
			Help: "Number of data rows rendered in the last report",
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compliance_mailer_last_success_timestamp_seconds",
			Help: "Unix time of the last successfully delivered report",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compliance_mailer_run_duration_seconds",
			Help: "Duration of the last report run",
		}),
	}

	m.Registry.MustRegister(
		m.Runs,
		m.MailSendSuccess,
		m.MailSendFailure,
		m.ReportRows,
		m.LastSuccessTimestamp,
		m.RunDuration,
	)
	return m
}

// ObserveRun records the end of a run.
func (m *Metrics) ObserveRun(outcome string, started, finished time.Time) {
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Set(finished.Sub(started).Seconds())
	if outcome == OutcomeSuccess {
		m.LastSuccessTimestamp.Set(float64(finished.Unix()))
	}
}

// ObserveSend records a delivery attempt.
func (m *Metrics) ObserveSend(transport string, err error) {
	if err != nil {
		m.MailSendFailure.WithLabelValues(transport).Inc()
		return
	}
	m.MailSendSuccess.WithLabelValues(transport).Inc()
}

// Push sends the registry to a Pushgateway, replacing the job's metrics.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
