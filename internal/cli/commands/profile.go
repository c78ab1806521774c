package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// NewProfileCommand creates the profile command group.
func NewProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved view profiles",
		Long: `Manage saved view profiles: named bundles of column layout, filters,
grouping and data-source selection that can be re-applied to a surface.`,
	}

	cmd.AddCommand(newProfileListCommand())
	cmd.AddCommand(newProfileSaveCommand())
	cmd.AddCommand(newProfileShowCommand())
	cmd.AddCommand(newProfileDeleteCommand())
	cmd.AddCommand(newProfileExportCommand())
	cmd.AddCommand(newProfileImportCommand())

	return cmd
}

func newProfileListCommand() *cobra.Command {
	var (
		query          string
		source         string
		includeDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx := FromCommand(cmd)
			eng, teardown, err := newEngine(cmd.Context(), cctx)
			if err != nil {
				return err
			}
			defer teardown()

			profiles := eng.ListProfiles(cmd.Context(), core.ProfileFilter{
				NameContains:   query,
				DataSourceID:   source,
				IncludeDeleted: includeDeleted,
			})

			if cctx.Cfg.Output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(profiles)
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "Source", "Default", "Updated", "Deleted"})
			for _, p := range profiles {
				deleted := ""
				if p.DeletedAt != nil {
					deleted = p.DeletedAt.Format("2006-01-02 15:04")
				}
				t.AppendRow(table.Row{
					p.ID, p.Name, p.DataSourceID, p.IsDefault,
					p.UpdatedAt.Format("2006-01-02 15:04"), deleted,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Filter by name substring")
	cmd.Flags().StringVar(&source, "source", "", "Filter by data source id")
	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "Include soft-deleted profiles")

	return cmd
}

func newProfileSaveCommand() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Create a baseline profile",
		Long: `Create a named profile from a default surface, optionally bound to a
data source. Layout and filters are captured later by saving from a live
view or through the API.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := FromCommand(cmd)
			eng, teardown, err := newEngine(cmd.Context(), cctx)
			if err != nil {
				return err
			}
			defer teardown()

			surf := surface.NewMemory(cctx.Cfg.KeyColumn, nil)
			surf.SetReady(true)
			eng.AttachSurface(surf)

			id, err := eng.SaveProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if source != "" {
				err = eng.Profiles().Update(cmd.Context(), id, func(p *core.Profile) {
					p.DataSourceID = source
				})
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved profile %s (%s)\n", args[0], id)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Data source id to bind")

	return cmd
}

func newProfileShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := FromCommand(cmd)
			eng, teardown, err := newEngine(cmd.Context(), cctx)
			if err != nil {
				return err
			}
			defer teardown()

			p := eng.Profiles().Get(cmd.Context(), args[0])
			if p == nil {
				return fmt.Errorf("profile %s not found", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func newProfileDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := FromCommand(cmd)
			eng, teardown, err := newEngine(cmd.Context(), cctx)
			if err != nil {
				return err
			}
			defer teardown()

			if err := eng.DeleteProfile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted profile %s\n", args[0])
			return nil
		},
	}
}

func newProfileExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <id>",
		Short: "Export a profile to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := FromCommand(cmd)
			eng, teardown, err := newEngine(cmd.Context(), cctx)
			if err != nil {
				return err
			}
			defer teardown()

			path, err := eng.ExportProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", path)
			return nil
		},
	}
}

func newProfileImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a previously exported profile",
		Long: `Import a profile export file. The profile keeps its original id, so
importing a file exported from this store overwrites the original.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := FromCommand(cmd)
			eng, teardown, err := newEngine(cmd.Context(), cctx)
			if err != nil {
				return err
			}
			defer teardown()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open profile file: %w", err)
			}
			defer func() { _ = f.Close() }()

			p, err := eng.ImportProfile(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported profile %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
}
