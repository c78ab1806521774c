package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridstream/internal/server"
	"github.com/leapstack-labs/gridstream/internal/surface"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr    string
	Connect string
	Watch   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gridstream API server",
		Long: `Start the HTTP API server over a headless in-memory surface.

The API provides:
- Profile CRUD, apply, export and import
- Provider listing and stream connect/disconnect
- Grid state extraction and reset
- A live status stream for the status panel`,
		Example: `  # Start on the configured address
  gridstream serve

  # Start on a custom address and connect immediately
  gridstream serve --addr :9000 --connect trades`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&opts.Connect, "connect", "", "Provider to connect on startup")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Reload providers file on change")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cctx := FromCommand(cmd)
	ctx := cmd.Context()

	eng, teardown, err := newEngine(ctx, cctx)
	if err != nil {
		return err
	}
	defer teardown()

	// Headless surface: ready from the start so profile applications and
	// snapshot handoffs never defer.
	surf := surface.NewMemory(cctx.Cfg.KeyColumn, nil)
	surf.SetReady(true)
	eng.AttachSurface(surf)

	if opts.Connect != "" {
		if err := eng.Connect(ctx, opts.Connect); err != nil {
			return err
		}
	}

	addr := cctx.Cfg.ListenAddr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	srv := server.NewServer(server.Config{
		Engine:        eng,
		Addr:          addr,
		SessionSecret: cctx.Cfg.SessionSecret,
		Watch:         opts.Watch,
		Logger:        cctx.Logger,
	})
	return srv.Serve(ctx)
}
