package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"practice-insights/internal/common/camunda"
	"practice-insights/internal/common/config"
	refreshbulkexport "practice-insights/internal/workers/data-export/refresh-bulk-export"
)

// ExportProcessID is the BPMN process that wraps the refresh-bulk-export task.
const ExportProcessID = "practice-bulk-export"

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		input    refreshbulkexport.Input
		workflow bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Refresh the bulk appointment export",
		Long: `Refresh the bulk appointment export.

By default the export runs in this process. With --workflow a
practice-bulk-export process instance is started on the Zeebe broker and
its key is printed; the worker manager picks the job up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflow {
				cfg, err := opts.loadConfig()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				return startExportProcess(cmd, cfg, input)
			}

			a, _, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.ExportHandler().Execute(cmd.Context(), &input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&input.From, "from", "", "first local start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&input.To, "to", "", "last local start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&input.RunID, "run-id", "", "reuse a run ID (default: generated)")
	cmd.Flags().BoolVar(&workflow, "workflow", false, "start the export through the workflow engine")
	return cmd
}

func startExportProcess(cmd *cobra.Command, cfg *config.Config, input refreshbulkexport.Input) error {
	client, err := camunda.NewClient(camunda.ConfigFrom(cfg.Camunda))
	if err != nil {
		return err
	}
	defer client.Close()

	key, err := client.StartProcess(cmd.Context(), ExportProcessID, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "started %s instance %d\n", ExportProcessID, key)
	return nil
}
