// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph models the stack's static service dependency DAG.
//
// Startup ordering is a property of data, checkable for acyclicity at
// construction, rather than an artifact of statement order in the
// bootstrap code. Nodes are constructed once at orchestrator startup
// and consumed read-only during a run.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/coveline/hivectl/cmd/hivectl/internal/probe"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate service node")

	// ErrUnknownDependency is returned when a node depends on a name
	// that is not in the graph.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle is returned when the dependency edges form a cycle.
	ErrCycle = errors.New("dependency cycle")
)

// =============================================================================
// Node
// =============================================================================

// Tier partitions the graph into the base infrastructure brought up
// before schema verification and the query layer brought up after.
type Tier string

const (
	// TierBase holds the metadata store and filesystem head node.
	TierBase Tier = "base"

	// TierQuery holds the scheduler, metadata service, and query server.
	TierQuery Tier = "query"
)

// Node is one named service in the dependency DAG. Identity is the
// name; the graph is static (no runtime mutation).
type Node struct {
	// Name is the service identity, matching the supervisor's name.
	Name string

	// DependsOn lists names that must report Ready before this node
	// may be started or probed.
	DependsOn []string

	// Tier assigns the node to the base or query startup phase.
	Tier Tier

	// Probe is the readiness check for this node.
	Probe probe.Prober

	// MaxWait bounds how long the orchestrator waits for this node to
	// become ready after starting it.
	MaxWait time.Duration

	// Endpoint is the advertised address included in status reports.
	Endpoint string
}

// =============================================================================
// Graph
// =============================================================================

// Graph is a validated, immutable service dependency DAG.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
}

// New validates the node set (unique names, known dependencies, no
// cycles) and returns an immutable Graph. Node order is preserved only
// as a tiebreaker; execution order comes from the edges.
func New(nodes []*Node) (*Graph, error) {
	byName := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byName[n.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.Name)
		}
		byName[n.Name] = n
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, n.Name, dep)
			}
		}
	}

	g := &Graph{nodes: nodes, byName: byName}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs a three-color DFS over the dependency edges.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case gray:
			return fmt.Errorf("%w: %s", ErrCycle, joinPath(append(path, name)))
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range g.byName[name].DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, n := range g.nodes {
		if err := visit(n.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Lookup returns the node with the given name, or nil.
func (g *Graph) Lookup(name string) *Node {
	return g.byName[name]
}

// Tier returns the nodes in the given tier, declaration order.
func (g *Graph) Tier(t Tier) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Tier == t {
			out = append(out, n)
		}
	}
	return out
}

// Subgraph returns a validated graph containing only the given nodes,
// with dependency edges into excluded nodes dropped (they are assumed
// already satisfied by an earlier stage).
func (g *Graph) Subgraph(nodes []*Node) (*Graph, error) {
	keep := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		keep[n.Name] = true
	}
	trimmed := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		copied := *n
		copied.DependsOn = nil
		for _, dep := range n.DependsOn {
			if keep[dep] {
				copied.DependsOn = append(copied.DependsOn, dep)
			}
		}
		trimmed = append(trimmed, &copied)
	}
	return New(trimmed)
}

// =============================================================================
// Ordered Walk
// =============================================================================

// VisitFunc processes one node during a walk. It typically starts the
// service and blocks until its probe reports ready (or a retry budget
// is exhausted).
type VisitFunc func(ctx context.Context, node *Node) error

// Walk visits every node honoring dependency order: a node's VisitFunc
// is invoked only after the VisitFunc of all its dependencies returned
// nil. Nodes with no dependency relation may be visited concurrently,
// bounded by maxParallel workers.
//
// # Description
//
// The walk maintains a pending-dependency count per node; a node is
// dispatched the moment its count reaches zero. The first visit error
// cancels the walk context, abandoning in-flight visits without
// awaiting their results beyond group teardown. This is the ordering
// invariant of the whole bootstrap: for every edge a <- b, a is Ready
// before b starts.
//
// # Inputs
//
//   - ctx: Cancelled on the first error or caller deadline.
//   - maxParallel: Worker bound; values < 1 are treated as 1.
//   - visit: Invoked once per node in dependency order.
//
// # Outputs
//
//   - error: The first visit error, or ctx's error on cancellation.
func (g *Graph) Walk(ctx context.Context, maxParallel int64, visit VisitFunc) error {
	if maxParallel < 1 {
		maxParallel = 1
	}

	pending := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		pending[n.Name] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	eg, walkCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(maxParallel)

	var mu sync.Mutex
	var dispatch func(n *Node)
	dispatch = func(n *Node) {
		eg.Go(func() error {
			if err := sem.Acquire(walkCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := visit(walkCtx, n); err != nil {
				return fmt.Errorf("%s: %w", n.Name, err)
			}

			mu.Lock()
			defer mu.Unlock()
			for _, depName := range dependents[n.Name] {
				pending[depName]--
				if pending[depName] == 0 {
					dispatch(g.byName[depName])
				}
			}
			return nil
		})
	}

	mu.Lock()
	for _, n := range g.nodes {
		if pending[n.Name] == 0 {
			dispatch(n)
		}
	}
	mu.Unlock()

	return eg.Wait()
}
