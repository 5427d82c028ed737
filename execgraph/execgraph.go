// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package execgraph builds the dependency DAG over a sequence of commands
// from their declared buffer and resource uses.
//
// Nodes are command indices in declaration order. An edge (i -> j), i < j,
// exists when command j conflicts with command i and no earlier edge already
// enforces that ordering transitively. Since edges only ever run forward
// through declaration order, the graph is acyclic by construction, and
// declaration order is always a valid topological order.
package execgraph

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/resources"
)

// NodeDef declares what one command touches. The uses must be the stable
// answers returned by the command itself.
type NodeDef struct {
	BufferUses   []buffers.Use
	ResourceUses []resources.Use
}

// Graph is the immutable dependency DAG over a command sequence.
type Graph struct {
	numNodes int

	// deps[j] are direct predecessors of j, sorted ascending.
	deps [][]int

	// dependents[i] are direct successors of i, sorted ascending.
	dependents [][]int

	numEdges int
}

// conflicts reports whether two nodes have a data or resource conflict.
func conflicts(a, b *NodeDef) bool {
	for _, ua := range a.BufferUses {
		for _, ub := range b.BufferUses {
			if ua.Conflicts(ub) {
				return true
			}
		}
	}
	for _, ra := range a.ResourceUses {
		for _, rb := range b.ResourceUses {
			if ra.Conflicts(rb) {
				return true
			}
		}
	}
	return false
}

// bitset over node indices.
type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (b bitset) set(i int) { b[i/64] |= 1 << (uint(i) % 64) }
func (b bitset) test(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }

func (b bitset) or(other bitset) {
	for w := range other {
		b[w] |= other[w]
	}
}

// Build constructs the minimal (transitively reduced) dependency graph for
// the given node definitions.
func Build(defs []NodeDef) (*Graph, error) {
	n := len(defs)
	g := &Graph{
		numNodes:   n,
		deps:       make([][]int, n),
		dependents: make([][]int, n),
	}

	// reachable[j] is the set of nodes j transitively depends on.
	reachable := make([]bitset, n)
	for j := 0; j < n; j++ {
		reachable[j] = newBitset(n)

		// Scan candidates from the latest to the earliest: a later conflicting
		// node may already transitively order j after an earlier one, in which
		// case the earlier edge is redundant.
		for i := j - 1; i >= 0; i-- {
			if reachable[j].test(i) {
				continue
			}
			if !conflicts(&defs[i], &defs[j]) {
				continue
			}
			g.deps[j] = append(g.deps[j], i)
			g.dependents[i] = append(g.dependents[i], j)
			g.numEdges++
			reachable[j].set(i)
			reachable[j].or(reachable[i])
		}
		reverseInts(g.deps[j])
	}
	return g, nil
}

// BuildSerialized constructs the chain graph over n nodes: every consecutive
// pair is connected, forcing full serialization in declaration order.
func BuildSerialized(n int) *Graph {
	g := &Graph{
		numNodes:   n,
		deps:       make([][]int, n),
		dependents: make([][]int, n),
	}
	for j := 1; j < n; j++ {
		g.deps[j] = []int{j - 1}
		g.dependents[j-1] = []int{j}
		g.numEdges++
	}
	return g
}

func reverseInts(s []int) {
	for l, r := 0, len(s)-1; l < r; l, r = l+1, r-1 {
		s[l], s[r] = s[r], s[l]
	}
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return g.numNodes }

// NumEdges returns the number of direct (non-transitive) edges.
func (g *Graph) NumEdges() int { return g.numEdges }

func (g *Graph) checkNode(id int) error {
	if id < 0 || id >= g.numNodes {
		return errors.Errorf("node %d out of range, graph has %d nodes", id, g.numNodes)
	}
	return nil
}

// Dependencies returns the direct predecessors of the node, sorted ascending.
// The returned slice is owned by the graph and must not be modified.
func (g *Graph) Dependencies(id int) []int { return g.deps[id] }

// Dependents returns the direct successors of the node, sorted ascending.
// The returned slice is owned by the graph and must not be modified.
func (g *Graph) Dependents(id int) []int { return g.dependents[id] }

// IsSource reports whether the node has no predecessors.
func (g *Graph) IsSource(id int) bool { return len(g.deps[id]) == 0 }

// IsSink reports whether the node has no successors.
func (g *Graph) IsSink(id int) bool { return len(g.dependents[id]) == 0 }

// Sources returns all nodes without predecessors, in declaration order.
func (g *Graph) Sources() []int {
	var out []int
	for id := 0; id < g.numNodes; id++ {
		if g.IsSource(id) {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns all nodes without successors, in declaration order.
func (g *Graph) Sinks() []int {
	var out []int
	for id := 0; id < g.numNodes; id++ {
		if g.IsSink(id) {
			out = append(out, id)
		}
	}
	return out
}

// Ordered reports whether execution of node i is guaranteed to happen before
// node j, directly or transitively.
func (g *Graph) Ordered(i, j int) (bool, error) {
	if err := g.checkNode(i); err != nil {
		return false, err
	}
	if err := g.checkNode(j); err != nil {
		return false, err
	}
	if i >= j {
		return false, nil
	}
	// DFS backwards from j; edges only point at smaller indices so this
	// terminates quickly.
	stack := append([]int(nil), g.deps[j]...)
	seen := newBitset(g.numNodes)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == i {
			return true, nil
		}
		if id < i || seen.test(id) {
			continue
		}
		seen.set(id)
		stack = append(stack, g.deps[id]...)
	}
	return false, nil
}
