package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/archcrawl/internal/scan"
)

func newScanCmd() *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan <root> [output]",
		Short: "Scan a repository and write the architecture manifest",
		Long: `Scan walks <root>, analyzes every supported source file and writes the
manifest to [output] (default architecture.json, or "output" from
archcrawl.yml). Unchanged files are skipped using the change cache
unless --no-cache is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := absRoot(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadSettings(cmd, root, &flags)
			if err != nil {
				return err
			}
			output := cfg.Output
			if len(args) > 1 {
				output = args[1]
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx, cfg, root, slog.Default())
			if err != nil {
				return err
			}
			defer sess.Close()

			opts := sess.scanOptions()
			opts.Baseline = sess.baseline(output)
			res, err := sess.scanner.Scan(ctx, root, opts)
			if err != nil {
				return err
			}
			if err := sess.finish(ctx, res, output); err != nil {
				return err
			}
			printSummary(cmd, res, output)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func printSummary(cmd *cobra.Command, res *scan.Result, output string) {
	stats := res.Graph.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanned %s in %s\n", res.Root, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  files:     %d analyzed, %d skipped, %d failed\n",
		res.FilesAnalyzed, res.FilesSkipped, len(res.Failures))
	fmt.Fprintf(out, "  services:  %d\n", stats.ServiceCount)
	fmt.Fprintf(out, "  endpoints: %d\n", stats.EndpointCount)
	fmt.Fprintf(out, "  edges:     %d\n", stats.EdgeCount)
	fmt.Fprintf(out, "Manifest written to %s\n", output)
}
