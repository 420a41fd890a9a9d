// Package cli implements practicectl, the operator command line for the
// practice assistant.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"practice-insights/internal/app"
	"practice-insights/internal/common/config"
	"practice-insights/internal/common/logger"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the practicectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "practicectl",
		Short: "Plan, answer and export practice questions from the terminal",
		Long: `practicectl drives the practice assistant without the HTTP API.

plan and intents need no backends. ask, csv and export connect to the
practice API, Postgres and Redis using the same configuration as the
servers.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: configs/config.yaml)")

	root.AddCommand(
		newVersionCmd(),
		newPlanCmd(),
		newIntentsCmd(),
		newAskCmd(opts),
		newCSVCmd(opts),
		newExportCmd(opts),
		newRegistryCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "practicectl %s\ncommit: %s\n", appVersion, appCommit)
		},
	}
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFromFile(o.configPath)
	}
	return config.Load()
}

// connect loads configuration and opens every backend.
func (o *rootOptions) connect(cmd *cobra.Command) (*app.App, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	zapLog := logger.New(cfg.Logging.Level, "console")
	a, err := app.Build(cmd.Context(), cfg, zapLog, "practicectl")
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func question(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
