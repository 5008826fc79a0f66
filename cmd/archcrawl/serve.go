package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/archcrawl/internal/config"
	"github.com/dusk-indust/archcrawl/internal/mcptools"
	"github.com/dusk-indust/archcrawl/internal/scan"
)

func newServeMCPCmd() *cobra.Command {
	var (
		httpAddr string
		queryDir string
		store    string
		poolSize int
	)

	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve scan and query tools over the Model Context Protocol",
		Long: `Serve-mcp exposes scan_repository, list_services, list_endpoints and
get_dependencies as MCP tools. It speaks stdio unless --http is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var factory mcptools.StoreFactory
			switch store {
			case "memory":
			case "kuzu":
				factory = openMemoryGraph
			default:
				return fmt.Errorf("unknown store %q", store)
			}
			if queryDir != "" {
				abs, err := filepath.Abs(queryDir)
				if err != nil {
					return fmt.Errorf("resolve query dir: %w", err)
				}
				queryDir = abs
			}

			ctx := cmd.Context()
			logger := slog.Default()
			scanner, err := scan.New(ctx, scan.Config{PoolSize: poolSize, QueryDir: queryDir, Logger: logger})
			if err != nil {
				return err
			}
			defer scanner.Close()

			svc := mcptools.NewArchService(scanner, factory, logger)
			defer svc.Close()

			if httpAddr != "" {
				logger.Info("serving MCP over HTTP", "addr", httpAddr)
				return mcptools.RunHTTP(ctx, svc, httpAddr)
			}
			return mcptools.RunStdio(ctx, svc)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	fl.StringVar(&queryDir, "query-dir", "", "directory with .scm files overriding the built-in queries")
	fl.StringVar(&store, "store", "memory", "graph store backing queries: memory or kuzu")
	fl.IntVar(&poolSize, "pool-size", config.DefaultPoolSize, "parsers per language")
	return cmd
}
