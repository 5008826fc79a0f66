package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/archcrawl/internal/config"
	"github.com/dusk-indust/archcrawl/internal/graph"
)

func newDepsCmd() *cobra.Command {
	var (
		root      string
		graphPath string
		direction string
		depth     int
	)

	cmd := &cobra.Command{
		Use:   "deps <service>",
		Short: "Show dependency chains from the persisted graph",
		Long: `Deps reads the graph stored by 'archcrawl scan --persist-graph' and
prints every dependency chain starting at <service>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := graph.ParseDirection(direction)
			if err != nil {
				return err
			}
			abs, err := absRoot(root)
			if err != nil {
				return err
			}
			if graphPath == "" {
				cfg, err := config.Load(abs)
				if err != nil {
					return err
				}
				cfg.Normalize(abs)
				graphPath = cfg.Graph.Path
			}
			if _, err := os.Stat(graphPath); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no graph found at %s\nRun 'archcrawl scan --persist-graph' first", graphPath)
				}
				return err
			}

			store, err := openGraph(graphPath)
			if err != nil {
				return fmt.Errorf("open graph: %w", err)
			}
			defer store.Close()

			chains, err := store.GetDependencies(cmd.Context(), args[0], dir, depth)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chains) == 0 {
				fmt.Fprintf(out, "%s has no %s dependencies\n", args[0], dir)
				return nil
			}
			for _, c := range chains {
				fmt.Fprintln(out, strings.Join(c.Nodes, " -> "))
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&root, "root", ".", "repository root holding archcrawl.yml")
	fl.StringVar(&graphPath, "graph", "", "graph path (default from archcrawl.yml)")
	fl.StringVar(&direction, "direction", string(graph.DirectionDownstream), "downstream or upstream")
	fl.IntVar(&depth, "depth", 5, "maximum chain length")
	return cmd
}
