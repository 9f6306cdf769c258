package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/infosec-automation/compliance-mailer/internal/metrics"
	"github.com/infosec-automation/compliance-mailer/internal/report"
	"github.com/infosec-automation/compliance-mailer/internal/scheduler"
)

func newSendCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Render the report and mail it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.send(cmd.Context())
		},
	}
}

func (rt *runtimeState) send(ctx context.Context) error {
	cfg, err := rt.loadConfig(true)
	if err != nil {
		return err
	}
	log, err := rt.logger(cfg)
	if err != nil {
		return err
	}

	runner, closeFn, err := rt.newRunner(ctx, cfg, log, metrics.New())
	if err != nil {
		return err
	}
	defer closeFn()

	return runError(runner.Run(ctx))
}

func newScheduleCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Send the report on the configured cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := rt.loadConfig(true)
			if err != nil {
				return err
			}
			if cfg.Schedule.Cron == "" {
				return &ExitError{Code: report.ExitConfig, Err: errors.New("schedule.cron must be set for the schedule command")}
			}
			log, err := rt.logger(cfg)
			if err != nil {
				return err
			}

			runner, closeFn, err := rt.newRunner(ctx, cfg, log, metrics.New())
			if err != nil {
				return err
			}
			defer closeFn()

			s, err := scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Timezone, runner.Run, log)
			if err != nil {
				return &ExitError{Code: report.ExitConfig, Err: err}
			}

			if err := s.Run(ctx); err != nil {
				return err
			}
			log.Info("Scheduler stopped")
			return nil
		},
	}
}
