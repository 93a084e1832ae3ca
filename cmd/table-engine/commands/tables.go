package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/table-engine/cmd/table-engine/ui"
	"github.com/spherical-ai/table-engine/internal/schema"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the table kinds the engine can extract",
	Run: func(cmd *cobra.Command, args []string) {
		registry := schema.NewRegistry()
		ids := registry.IDs()
		sort.Strings(ids)

		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			s, err := registry.Lookup(id)
			if err != nil {
				continue
			}
			rows = append(rows, []string{id, string(s.Kind), s.Name})
		}
		ui.Table([]string{"Table", "Kind", "Description"}, rows)
	},
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}
