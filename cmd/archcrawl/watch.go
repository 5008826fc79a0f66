package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/archcrawl/internal/scan"
	"github.com/dusk-indust/archcrawl/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var flags scanFlags
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <root> [output]",
		Short: "Rescan a repository whenever its files change",
		Args:  cobra.RangeArgs(1, 2),
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
			logger := slog.Default()
			sess, err := openSession(ctx, cfg, root, logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			// The watcher rewrites the manifest; the cache and the
			// persisted graph are updated after each scan here.
			w, err := watch.New(sess.scanner, watch.Options{
				Root:           root,
				Output:         output,
				Repo:           sess.repo(),
				CrawlerVersion: version,
				Debounce:       debounce,
				Scan:           sess.scanOptions(),
				Baseline:       sess.baseline(output),
				OnScan: func(res *scan.Result, err error) {
					if err != nil {
						return
					}
					sess.saveCache()
					if cfg.Graph.Persist {
						if err := persistGraph(ctx, res.Graph, cfg.Graph.Path); err != nil {
							logger.Warn("failed to persist graph", "error", err)
						}
					}
				},
			}, logger)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a rescan")
	return cmd
}
