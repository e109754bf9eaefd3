package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	listTag  string
	listJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools available locally and in the remote registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		rows, err := app.reconciler.ListTools(cmd.Context(), listTag)
		if err != nil {
			return err
		}
		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tLOCAL\tREMOTE\tSIZE\tDESCRIPTION")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				row.Name, row.LocalVersion, row.RemoteVersion,
				row.CompressedSize, row.Description)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVarP(&listTag, "tag", "t", "",
		"only list versions carrying this tag")
	listCmd.Flags().BoolVar(&listJSON, "json", false,
		"print the listing as JSON")
	rootCmd.AddCommand(listCmd)
}
