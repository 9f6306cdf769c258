package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infosec-automation/compliance-mailer/internal/report"
	"github.com/infosec-automation/compliance-mailer/internal/source"
)

func newRenderCommand(rt *runtimeState) *cobra.Command {
	var body bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the HTML table for the report spreadsheet without sending mail",
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

			resolver := source.NewResolver(source.NewGCSOpener, log)
			defer resolver.Close()

			runner := report.NewRunner(cfg, report.Deps{Source: resolver, Logger: log})
			out, err := runner.Render(cmd.Context())
			if err != nil {
				return runError(err)
			}
			if body {
				out = report.BuildBody(cfg.Report, out)
			}

			_, err = fmt.Fprintln(rt.out, out)
			return err
		},
	}

	cmd.Flags().BoolVar(&body, "body", false, "Print the complete email body around the table")
	return cmd
}
