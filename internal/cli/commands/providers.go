package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridstream/internal/channel"
)

// NewProvidersCommand creates the providers command.
func NewProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered stream providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx := FromCommand(cmd)

			registry := channel.NewProviderRegistry(cctx.Cfg.ProvidersPath, cctx.Logger)
			providers := registry.List()
			sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })

			if cctx.Cfg.Output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(providers)
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "URL", "Source", "Key Column"})
			for _, p := range providers {
				t.AppendRow(table.Row{p.ID, p.Name, p.URL, p.SourceID, p.KeyColumn})
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}
