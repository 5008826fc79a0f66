package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// SetVersion overrides the version reported to MCP clients and recorded in
// manifests written by scan_repository.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// NewArchMCPServer creates an MCP server with the archcrawl tools
// registered.
func NewArchMCPServer(svc *ArchService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "archcrawl",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_repository",
		Description: "Scan a repository and build its service graph. Walks the file tree, parses Python sources with tree-sitter, extracts HTTP routes, outbound HTTP calls and cross-service imports. Optionally writes a JSON manifest.",
	}, svc.ScanRepository)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_services",
		Description: "List every service discovered by the last scan with its language, path and files.",
	}, svc.ListServices)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_endpoints",
		Description: "List HTTP endpoints exposed by services. Optionally filter by service name and HTTP method.",
	}, svc.ListEndpoints)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_dependencies",
		Description: "Traverse service dependencies downstream (what a service calls) or upstream (who calls it). Returns dependency chains up to the given depth.",
	}, svc.GetDependencies)

	return server
}

// RunStdio serves the tools over stdio until stdin closes or ctx is
// cancelled.
func RunStdio(ctx context.Context, svc *ArchService) error {
	return NewArchMCPServer(svc).Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the tools over streamable HTTP on addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, svc *ArchService, addr string) error {
	server := NewArchMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
