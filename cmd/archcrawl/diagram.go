package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/archcrawl/internal/export"
	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/manifest"
)

func newDiagramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagram [manifest]",
		Short: "Print a Mermaid diagram of a manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := manifest.DefaultFileName
			if len(args) > 0 {
				path = args[0]
			}
			m, err := manifest.Load(path)
			if err != nil {
				return fmt.Errorf("%w\nRun 'archcrawl scan' first to produce a manifest", err)
			}

			ctx := cmd.Context()
			store := graph.NewMemStore()
			defer store.Close()
			if err := graph.Persist(ctx, m.ToGraph(), store); err != nil {
				return err
			}

			mermaid, err := export.GenerateMermaid(ctx, store)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), mermaid)
			return nil
		},
	}
}
