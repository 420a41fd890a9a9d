package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"practice-insights/pkg/registry"
)

func newRegistryCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and edit the activity registry",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "configs/activity-registry.json", "path to registry file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK TYPE\tCATEGORY\tSTATUS\tTIMEOUT")
			for _, a := range reg.Activities {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.TaskType, a.Category, a.ImplementationStatus, a.Timeout)
			}
			return w.Flush()
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			if err := reg.Validate(); err != nil {
				return fmt.Errorf("registry validation failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registry validation passed. Found %d activities.\n", len(reg.Activities))
			return nil
		},
	}

	update := &cobra.Command{
		Use:   "update <id> <field> <value>",
		Short: "Update one field of an activity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			if err := reg.Update(args[0], args[1], args[2], time.Now().UTC()); err != nil {
				return err
			}
			if err := registry.Save(reg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated activity %s, field %s to %s\n", args[0], args[1], args[2])
			return nil
		},
	}

	cmd.AddCommand(list, validate, update)
	return cmd
}
