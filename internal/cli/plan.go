package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"practice-insights/internal/planner"
)

func newPlanCmd() *cobra.Command {
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "plan <question>",
		Short: "Classify a question and print its data plan",
		Long: `Classify a question and print the intent and data plan the assistant
would run for it. Nothing is fetched.

  practicectl plan "who no-showed lately?" --param since=2025-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := make(map[string]interface{}, len(params))
			for k, v := range params {
				filters[k] = v
			}
			intent, plan := planner.PlanQuestion(question(args), filters)
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"intent": intent,
				"plan":   plan,
			})
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "plan filter as key=value (repeatable)")
	return cmd
}

func newIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List every intent and the data source it reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tSOURCE")
			for _, intent := range planner.AllIntents() {
				fmt.Fprintf(w, "%s\t%s\n", intent, planner.ChooseDataSource(intent))
			}
			return w.Flush()
		},
	}
}
