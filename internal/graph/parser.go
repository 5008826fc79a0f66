package graph

// ParseResult holds the entities a language plugin extracted from one file.
// It is consumed by Graph.Merge and discarded afterwards.
type ParseResult struct {
	Service   *Service   `json:"service,omitempty"`
	Endpoints []Endpoint `json:"endpoints"`
	Edges     []Edge     `json:"edges"`
	Imports   []string   `json:"imports"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}

// Failed returns a ParseResult that records msg as the failure reason.
func Failed(msg string) *ParseResult {
	return &ParseResult{Error: msg}
}
