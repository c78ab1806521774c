// Package cli provides the command-line interface for gridstream.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridstream/internal/cli/commands"
	"github.com/leapstack-labs/gridstream/internal/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gridstream",
		Short: "Gridstream - Grid State Synchronization Engine",
		Long: `Gridstream synchronizes live streaming data with an interactive grid
surface: it reconciles high-volume record streams into a stable row set
and persists named view profiles (columns, filters, grouping, layout)
that can be re-applied to any surface.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))

			cmd.SetContext(commands.NewContext(cmd.Context(), cfg, logger))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Grid State Synchronization Engine
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gridstream.yaml)")
	rootCmd.PersistentFlags().String("state", "", "Path to state database")
	rootCmd.PersistentFlags().String("state-driver", "", "State store backend (sqlite|postgres)")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "Postgres DSN when state-driver is postgres")
	rootCmd.PersistentFlags().String("providers-path", "", "Path to provider definitions file")
	rootCmd.PersistentFlags().String("instance-id", "", "Surface instance id")
	rootCmd.PersistentFlags().String("key-column", "", "Row identity column")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (table|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewViewCommand())
	rootCmd.AddCommand(commands.NewConnectCommand())
	rootCmd.AddCommand(commands.NewProfileCommand())
	rootCmd.AddCommand(commands.NewProvidersCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
