package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/internal/surface/term"
)

// ViewOptions holds options for the view command.
type ViewOptions struct {
	Provider string
	Profile  string
}

// NewViewCommand creates the view command.
func NewViewCommand() *cobra.Command {
	opts := &ViewOptions{}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Open the terminal grid view",
		Long: `Open an interactive terminal grid over a streaming provider.

Keys:
  up/down  move the cursor (selection is captured into profile saves)
  R        reset the surface to its default state
  q        quit`,
		Example: `  # View a provider's stream
  gridstream view --provider trades

  # View with a saved profile applied
  gridstream view --provider trades --profile 4f7c...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runView(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Provider to connect to")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "Profile id to apply on startup")

	return cmd
}

func runView(cmd *cobra.Command, opts *ViewOptions) error {
	cctx := FromCommand(cmd)
	ctx := cmd.Context()

	eng, teardown, err := newEngine(ctx, cctx)
	if err != nil {
		return err
	}
	defer teardown()

	// Columns are derived from the first records to arrive; the view
	// starts with an empty layout.
	surf := surface.NewMemory(cctx.Cfg.KeyColumn, nil)
	eng.AttachSurface(surf)

	if opts.Profile != "" {
		// Not ready yet: the application defers and flushes when the view
		// starts.
		if err := eng.LoadProfile(ctx, opts.Profile); err != nil {
			return err
		}
	}
	if opts.Provider != "" {
		if err := eng.Connect(ctx, opts.Provider); err != nil {
			return err
		}
	}

	return term.New(eng, surf).Run(ctx)
}
