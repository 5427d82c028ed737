// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package execgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/resources"
)

func sliceAt(index buffers.Index, offset, size int64) buffers.Slice {
	return buffers.Slice{Index: index, Offset: offset, Size: size}
}

func writeNode(s buffers.Slice) NodeDef {
	return NodeDef{BufferUses: []buffers.Use{buffers.Write(s)}}
}

func readNode(s buffers.Slice) NodeDef {
	return NodeDef{BufferUses: []buffers.Use{buffers.Read(s)}}
}

func TestBuildWritersChain(t *testing.T) {
	s := sliceAt(0, 0, 64)
	g, err := Build([]NodeDef{writeNode(s), writeNode(s), writeNode(s)})
	require.NoError(t, err)

	// Writers to the same slice serialize, and only direct edges remain:
	// 0->2 is implied by 0->1->2.
	require.Equal(t, 2, g.NumEdges())
	require.Empty(t, g.Dependencies(0))
	require.Equal(t, []int{0}, g.Dependencies(1))
	require.Equal(t, []int{1}, g.Dependencies(2))

	ordered, err := g.Ordered(0, 2)
	require.NoError(t, err)
	require.True(t, ordered)
}

func TestBuildIndependentNodes(t *testing.T) {
	g, err := Build([]NodeDef{
		writeNode(sliceAt(0, 0, 64)),
		writeNode(sliceAt(1, 0, 64)),
		writeNode(sliceAt(2, 0, 64)),
	})
	require.NoError(t, err)

	require.Zero(t, g.NumEdges())
	require.Equal(t, []int{0, 1, 2}, g.Sources())
	require.Equal(t, []int{0, 1, 2}, g.Sinks())

	ordered, err := g.Ordered(0, 1)
	require.NoError(t, err)
	require.False(t, ordered)
}

func TestBuildReadersDoNotConflict(t *testing.T) {
	s := sliceAt(0, 0, 64)
	g, err := Build([]NodeDef{
		writeNode(s), // 0: producer
		readNode(s),  // 1: consumer
		readNode(s),  // 2: concurrent consumer
		writeNode(s), // 3: overwrites, must wait for both readers
	})
	require.NoError(t, err)

	require.Equal(t, []int{0}, g.Dependencies(1))
	require.Equal(t, []int{0}, g.Dependencies(2))

	// Node 3 depends on the readers only; the edge to node 0 is
	// transitively implied.
	require.Equal(t, []int{1, 2}, g.Dependencies(3))
	ordered, err := g.Ordered(0, 3)
	require.NoError(t, err)
	require.True(t, ordered)
}

func TestBuildDisjointSlicesOfSameAllocation(t *testing.T) {
	g, err := Build([]NodeDef{
		writeNode(sliceAt(0, 0, 32)),
		writeNode(sliceAt(0, 32, 32)),
		writeNode(sliceAt(0, 16, 32)), // overlaps both
	})
	require.NoError(t, err)

	require.Empty(t, g.Dependencies(1))
	require.Equal(t, []int{0, 1}, g.Dependencies(2))
}

func TestBuildResourceConflicts(t *testing.T) {
	comm := resources.New(resources.KindCollectiveComm)
	node := func(index buffers.Index) NodeDef {
		return NodeDef{
			BufferUses:   []buffers.Use{buffers.Write(sliceAt(index, 0, 64))},
			ResourceUses: []resources.Use{resources.Write(comm)},
		}
	}

	// Disjoint buffers, but the shared communicator serializes them.
	g, err := Build([]NodeDef{node(0), node(1)})
	require.NoError(t, err)
	require.Equal(t, 1, g.NumEdges())
	require.Equal(t, []int{0}, g.Dependencies(1))

	// A different communicator does not.
	other := resources.New(resources.KindCollectiveComm)
	g, err = Build([]NodeDef{node(0), {
		BufferUses:   []buffers.Use{buffers.Write(sliceAt(1, 0, 64))},
		ResourceUses: []resources.Use{resources.Write(other)},
	}})
	require.NoError(t, err)
	require.Zero(t, g.NumEdges())
}

func TestBuildSerialized(t *testing.T) {
	g := BuildSerialized(4)
	require.Equal(t, 3, g.NumEdges())
	require.Equal(t, []int{0}, g.Sources())
	require.Equal(t, []int{3}, g.Sinks())
	for j := 1; j < 4; j++ {
		require.Equal(t, []int{j - 1}, g.Dependencies(j))
	}
}

func TestOrderedChecksBounds(t *testing.T) {
	g := BuildSerialized(2)
	_, err := g.Ordered(0, 5)
	require.Error(t, err)
	_, err = g.Ordered(-1, 1)
	require.Error(t, err)
}
