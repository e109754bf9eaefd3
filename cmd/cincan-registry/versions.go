package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var (
	versionsOnlyUpdates  bool
	versionsForceRefresh bool
)

var versionsCmd = &cobra.Command{
	Use:   "versions [tool]",
	Short: "Reconcile tool versions against the registry and upstream sources",
	Long: "Without arguments, every tool in the remote namespace is reconciled.\n" +
		"With a bare tool name, only that tool is checked.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context(), versionsForceRefresh)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 1 {
			summary, err := app.reconciler.ListVersionsSingle(cmd.Context(), args[0], versionsOnlyUpdates)
			if err != nil {
				return err
			}
			if summary.Name == "" {
				// filtered out by --only-updates
				return nil
			}
			return enc.Encode(summary)
		}

		report, err := app.reconciler.ListVersions(cmd.Context(), versionsOnlyUpdates)
		if err != nil {
			return err
		}
		return enc.Encode(report)
	},
}

func init() {
	versionsCmd.Flags().BoolVarP(&versionsOnlyUpdates, "only-updates", "u", false,
		"only report tools with a pending update")
	versionsCmd.Flags().BoolVarP(&versionsForceRefresh, "force-refresh", "f", false,
		"bypass cached versions and query every source")
	rootCmd.AddCommand(versionsCmd)
}
