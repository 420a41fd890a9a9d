package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"practice-insights/internal/executor"
	"practice-insights/internal/export"
	"practice-insights/internal/planner"
	answerquestion "practice-insights/internal/workers/ai-conversation/answer-question"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		fileIDs []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a practice question end to end",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.AnswerHandler().Execute(cmd.Context(), &answerquestion.Input{
				Question: question(args),
				FileIDs:  fileIDs,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
			if out.Fallback {
				fmt.Fprintln(cmd.ErrOrStderr(), "(answered from demo data)")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fileIDs, "file", nil, "uploaded file ID to analyze (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer payload")
	return cmd
}

func newCSVCmd(opts *rootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "csv <question>",
		Short: "Run a question's data plan and write the rows as CSV",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			intent, plan := planner.PlanQuestion(question(args), nil)

			res, err := executor.Run(ctx, a.Practice, a.Executor, intent, plan)
			if err != nil {
				return err
			}

			body, err := export.CSV(res.Rows, export.Columns(res.Rows)...)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = export.Filename("practice-"+string(intent), time.Now())
			}
			if err := os.WriteFile(outPath, body, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(res.Rows), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: practice-<intent>-<timestamp>.csv)")
	return cmd
}
