package graph

import "strings"

// --- Enums ---

// HTTPMethod is the verb of an endpoint or an outbound HTTP call.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodDelete  HTTPMethod = "DELETE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
	MethodUnknown HTTPMethod = "UNKNOWN"
)

var httpMethods = []HTTPMethod{
	MethodGet, MethodPost, MethodPut, MethodDelete,
	MethodPatch, MethodHead, MethodOptions,
}

// ParseHTTPMethod converts s to an HTTPMethod, ignoring case.
// Unrecognized values map to MethodUnknown.
func ParseHTTPMethod(s string) HTTPMethod {
	for _, m := range httpMethods {
		if strings.EqualFold(s, string(m)) {
			return m
		}
	}
	return MethodUnknown
}

// EdgeType classifies a dependency between a service and its target.
type EdgeType string

const (
	EdgeHTTPCall     EdgeType = "HTTP_CALL"
	EdgeImport       EdgeType = "IMPORT"
	EdgeRPC          EdgeType = "RPC"
	EdgeDatabase     EdgeType = "DATABASE"
	EdgeMessageQueue EdgeType = "MESSAGE_QUEUE"
	EdgeUnknown      EdgeType = "UNKNOWN"
)

var edgeTypes = []EdgeType{EdgeHTTPCall, EdgeImport, EdgeRPC, EdgeDatabase, EdgeMessageQueue}

// ParseEdgeType converts s to an EdgeType, ignoring case.
// Unrecognized values map to EdgeUnknown.
func ParseEdgeType(s string) EdgeType {
	for _, t := range edgeTypes {
		if strings.EqualFold(s, string(t)) {
			return t
		}
	}
	return EdgeUnknown
}

// Language identifies the source language a service was discovered in.
type Language string

const LangPython Language = "python"

// Confidence levels assigned by extractors.
const (
	ConfidenceCertain    = 1.0
	ConfidenceImport     = 0.9
	ConfidenceHTTPClient = 0.8
	ConfidenceLibrary    = 0.6
)

// --- Models ---

// Service is a deployable unit discovered in the repository. Services are
// keyed by Name; two declarations with the same name merge.
type Service struct {
	Name     string   `json:"name"`
	Language Language `json:"language"`
	Path     string   `json:"path"`
	Files    []string `json:"files"`
}

// Endpoint is an HTTP route exposed by a service.
type Endpoint struct {
	ServiceName string     `json:"service"`
	Path        string     `json:"path"`
	Method      HTTPMethod `json:"method"`
	Handler     string     `json:"handler,omitempty"`
	File        string     `json:"file,omitempty"`
	Line        int        `json:"line,omitempty"`
}

// Edge is a directed dependency from a service to a target. To holds a
// service name, a raw URL, or a symbolic target such as a library name.
type Edge struct {
	From       string     `json:"from"`
	To         string     `json:"to"`
	Type       EdgeType   `json:"type"`
	Method     HTTPMethod `json:"method,omitempty"`
	Endpoint   string     `json:"endpoint,omitempty"`
	File       string     `json:"file,omitempty"`
	Line       int        `json:"line,omitempty"`
	Confidence float64    `json:"confidence"`
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Stats summarizes a service graph.
type Stats struct {
	ServiceCount  int `json:"serviceCount"`
	EndpointCount int `json:"endpointCount"`
	EdgeCount     int `json:"edgeCount"`
}

// DependencyChain is an ordered sequence of services forming a dependency path.
type DependencyChain struct {
	Nodes []string `json:"nodes"`
	Depth int      `json:"depth"`
}

// --- Ordering ---

// LessService orders services by name.
func LessService(a, b Service) bool { return a.Name < b.Name }

// LessEndpoint orders endpoints by service, path, then method.
func LessEndpoint(a, b Endpoint) bool {
	if a.ServiceName != b.ServiceName {
		return a.ServiceName < b.ServiceName
	}
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.Method != b.Method {
		return a.Method < b.Method
	}
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Line < b.Line
}

// LessEdge orders edges by source, target, type, then location.
func LessEdge(a, b Edge) bool {
	if a.From != b.From {
		return a.From < b.From
	}
	if a.To != b.To {
		return a.To < b.To
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Line < b.Line
}
