//go:build !cgo

package main

import (
	"context"
	"errors"

	"github.com/dusk-indust/archcrawl/internal/graph"
)

var errNoGraphSupport = errors.New("graph persistence requires a cgo build")

func persistGraph(context.Context, *graph.Graph, string) error { return errNoGraphSupport }

func openGraph(string) (graph.Store, error) { return nil, errNoGraphSupport }

func openMemoryGraph() (graph.Store, error) { return nil, errNoGraphSupport }
