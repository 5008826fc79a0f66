package mcptools

import "github.com/dusk-indust/archcrawl/internal/graph"

// --- MCP Tool Input Types ---
// The MCP Go SDK generates each tool's JSON schema from these struct tags.

// ScanRepositoryInput is the input for the scan_repository MCP tool.
type ScanRepositoryInput struct {
	RepoPath    string `json:"repoPath" jsonschema:"the absolute path to the repository to scan"`
	ServiceName string `json:"serviceName,omitempty" jsonschema:"use this service name for every file instead of inferring it from the parent directory"`
	Output      string `json:"output,omitempty" jsonschema:"optional path to write the JSON manifest to"`
}

// ScanRepositoryOutput is the result of the scan_repository MCP tool.
type ScanRepositoryOutput struct {
	Stats         graph.Stats `json:"stats"`
	FilesAnalyzed int         `json:"filesAnalyzed"`
	FilesSkipped  int         `json:"filesSkipped"`
	FilesFailed   int         `json:"filesFailed"`
	DurationMS    int64       `json:"durationMs"`
	Manifest      string      `json:"manifest,omitempty"`
}

// ListServicesInput is the input for the list_services MCP tool.
type ListServicesInput struct{}

// ListServicesOutput is the result of the list_services MCP tool.
type ListServicesOutput struct {
	Services []graph.Service `json:"services"`
	Total    int             `json:"total"`
}

// ListEndpointsInput is the input for the list_endpoints MCP tool.
type ListEndpointsInput struct {
	Service string `json:"service,omitempty" jsonschema:"only list endpoints of this service (default: all services)"`
	Method  string `json:"method,omitempty" jsonschema:"filter by HTTP method, e.g. GET or POST"`
}

// ListEndpointsOutput is the result of the list_endpoints MCP tool.
type ListEndpointsOutput struct {
	Endpoints []graph.Endpoint `json:"endpoints"`
	Total     int              `json:"total"`
}

// GetDependenciesInput is the input for the get_dependencies MCP tool.
type GetDependenciesInput struct {
	Service   string `json:"service" jsonschema:"service name to start from"`
	Direction string `json:"direction,omitempty" jsonschema:"downstream (what the service depends on) or upstream (what depends on it). Default: downstream"`
	MaxDepth  int    `json:"maxDepth,omitempty" jsonschema:"maximum traversal depth (default: 5)"`
}

// GetDependenciesOutput is the result of the get_dependencies MCP tool.
type GetDependenciesOutput struct {
	Chains []graph.DependencyChain `json:"chains"`
}
