// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/backends/backendtest"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
)

func TestExecutorRecordAndExecute(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	seq := Sequence{
		NewMemset32Cmd(0, fullSlice(0, size), 0x2a2a2a2a),
		NewMemcpyDeviceToDeviceCmd(0, fullSlice(1, size), fullSlice(0, size), size),
	}
	e, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)
	require.Equal(t, 2, e.Size())
	require.False(t, e.Empty())
	require.False(t, e.RequiresInitialization())

	// Fill then copy conflict on allocation 0, so they are ordered.
	require.Equal(t, 1, e.Graph().NumEdges())
	require.Equal(t, []buffers.Index{0, 1}, e.AllocsIndices())

	allocs := env.allocate(size, size)
	cb := env.recordAndRun(e, allocs)
	requireAllBytes(t, env.bytesOf(allocs, 1), 0x2a)

	nodes := cb.Nodes()
	require.Len(t, nodes, 2)
	require.Equal(t, []*backendtest.Node{nodes[0]}, nodes[1].Deps)
}

func TestExecutorSerializeMode(t *testing.T) {
	// Disjoint buffers still chain up under serialization.
	seq := Sequence{
		NewMemset32Cmd(0, fullSlice(0, 16), 1),
		NewMemset32Cmd(0, fullSlice(1, 16), 2),
		NewMemset32Cmd(0, fullSlice(2, 16), 3),
	}
	e, err := NewExecutor(seq, SynchronizationSerialize)
	require.NoError(t, err)
	require.Equal(t, 2, e.Graph().NumEdges())

	auto, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)
	require.Zero(t, auto.Graph().NumEdges())
}

func TestExecutorUpdateOnlyChangedCommands(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	seq := Sequence{
		NewMemset32Cmd(0, fullSlice(0, size), 0x2a2a2a2a),
		NewMemcpyDeviceToDeviceCmd(0, fullSlice(1, size), fullSlice(0, size), size),
	}
	e, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(size, size)
	cb := env.recordAndRun(e, allocs)

	// Re-point allocation 1 at fresh memory; only the copy touches it.
	dst := env.backend.Arena().Allocate(size)
	updatedAllocs := buffers.NewAllocations([]buffers.DeviceMemory{
		mustMemory(t, allocs, 0),
		dst,
	})
	env.updateAndRun(e, updatedAllocs, cb, 1)

	requireAllBytes(t, env.bytesOf(updatedAllocs, 1), 0x2a)
	nodes := cb.Nodes()
	require.Zero(t, nodes[0].UpdateCount, "fill only touches allocation 0, expected it skipped")
	require.Equal(t, 1, nodes[1].UpdateCount)
}

func TestExecutorUpdateNoChangesSkipsEverything(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	seq := Sequence{
		NewMemset32Cmd(0, fullSlice(0, size), 7),
		NewMemcpyDeviceToDeviceCmd(0, fullSlice(1, size), fullSlice(0, size), size),
	}
	e, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(size, size)
	cb := env.recordAndRun(e, allocs)
	env.updateAndRun(e, allocs, cb)

	for i, node := range cb.Nodes() {
		require.Zerof(t, node.UpdateCount, "node #%d", i)
	}
}

func TestExecutorInitializationPassNeverSkips(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	seq := Sequence{
		NewMemset32Cmd(0, fullSlice(0, size), 7),
		NewMemcpyDeviceToDeviceCmd(0, fullSlice(1, size), fullSlice(0, size), size),
	}
	e, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(size, size)
	cb := env.recordAndRun(e, allocs)

	// An initialization-time pass into an update-state buffer records
	// every command, even with no tracked allocation changes.
	params := RecordParams{State: env.state, TrackedUpdates: true, IsInitialization: true}
	require.NoError(t, cb.BeginUpdate())
	require.NoError(t, e.Record(env.execParams(allocs), params, cb))
	require.NoError(t, cb.Finalize())
	for i, node := range cb.Nodes() {
		require.Equalf(t, 1, node.UpdateCount, "node #%d", i)
	}
}

func TestExecutorUntrackedUpdateRecordsEverything(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	seq := Sequence{NewMemset32Cmd(0, fullSlice(0, size), 7)}
	e, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(size)
	cb := env.recordAndRun(e, allocs)

	require.NoError(t, cb.BeginUpdate())
	require.NoError(t, e.Record(env.execParams(allocs), RecordParams{State: env.state}, cb))
	require.NoError(t, cb.Finalize())
	require.Equal(t, 1, cb.Nodes()[0].UpdateCount)
}

func TestExecutorCollectiveAlwaysUpdated(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	config := collectives.Config{
		Key:      collectives.CliqueKey{Ranks: "0", StreamId: collectives.StreamId(false, 0)},
		Rank:     0,
		NumRanks: 1,
	}
	pairs := []collectives.BufferPair{{Send: fullSlice(0, size), Recv: fullSlice(1, size)}}
	seq := Sequence{
		NewAllReduceCmd(0, 0, config, collectives.ReductionSum, pairs),
		NewMemset32Cmd(0, fullSlice(2, size), 5),
	}
	e, err := NewExecutor(seq, SynchronizationAutomatic)
	require.NoError(t, err)
	require.True(t, e.RequiresInitialization())

	requests := &backendtest.CliqueRequests{}
	require.NoError(t, e.Prepare(requests))
	require.Equal(t, []collectives.CliqueKey{config.Key}, requests.Keys)

	allocs := env.allocate(size, size, size)
	send := env.bytesOf(allocs, 0)
	for i := range send {
		send[i] = 9
	}
	cb := env.recordAndRun(e, allocs)
	requireAllBytes(t, env.bytesOf(allocs, 1), 9)

	// Nothing changed, but the collective must still be re-recorded: ranks
	// that saw changes will update too, and recordings must stay in sync.
	env.updateAndRun(e, allocs, cb)
	nodes := cb.Nodes()
	require.Equal(t, 1, nodes[0].UpdateCount, "collective")
	require.Zero(t, nodes[1].UpdateCount, "fill")
}

func TestExecutorSinkHandlesChainSequences(t *testing.T) {
	env := newTestEnv(t)
	const size = 64

	first, err := NewExecutor(Sequence{NewMemset32Cmd(0, fullSlice(0, size), 1)}, SynchronizationAutomatic)
	require.NoError(t, err)
	second, err := NewExecutor(Sequence{NewMemset32Cmd(0, fullSlice(1, size), 2)}, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(size, size)
	cb := env.newCommandBuffer()
	sinks, err := first.RecordCreate(env.execParams(allocs), env.createParams(), cb, nil)
	require.NoError(t, err)
	require.Len(t, sinks, 1)

	_, err = second.RecordCreate(env.execParams(allocs), env.createParams(), cb, sinks)
	require.NoError(t, err)

	// The second sequence's node is ordered after the first's sink even
	// though their buffers don't conflict.
	nodes := cb.Nodes()
	require.Len(t, nodes, 2)
	require.Equal(t, []*backendtest.Node{nodes[0]}, nodes[1].Deps)
}

func TestExecutorRecordStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	e, err := NewExecutor(Sequence{NewEmptyCmd(0)}, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate()
	cb := env.newCommandBuffer()
	require.NoError(t, cb.Finalize())

	// A finalized buffer accepts neither creates nor updates.
	require.Error(t, e.Record(env.execParams(allocs), env.createParams(), cb))
	_, err = e.RecordCreate(env.execParams(allocs), env.createParams(), cb, nil)
	require.Error(t, err)
	require.Error(t, e.RecordUpdate(env.execParams(allocs), env.updateParams(), cb))
}

func mustMemory(t *testing.T, allocs *buffers.Allocations, index buffers.Index) buffers.DeviceMemory {
	mem, err := allocs.Memory(index)
	require.NoError(t, err)
	return mem
}
