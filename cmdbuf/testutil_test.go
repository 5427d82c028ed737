// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/backends/backendtest"
	"github.com/gomlx/gpucmd/buffers"
)

// testEnv bundles the in-memory backend pieces most tests need.
type testEnv struct {
	t       *testing.T
	backend *backendtest.Backend
	exec    *backendtest.Executor
	stream  backends.Stream
	state   *StateManager
}

func newTestEnv(t *testing.T) *testEnv {
	backend := backendtest.New(1)
	exec := must.M1(backend.Executor(0)).(*backendtest.Executor)
	return &testEnv{
		t:       t,
		backend: backend,
		exec:    exec,
		stream:  exec.NewStream(),
		state:   &StateManager{},
	}
}

// allocate builds an allocations snapshot with one arena buffer per size.
func (env *testEnv) allocate(sizes ...int64) *buffers.Allocations {
	mems := make([]buffers.DeviceMemory, len(sizes))
	for i, size := range sizes {
		mems[i] = env.backend.Arena().Allocate(size)
	}
	return buffers.NewAllocations(mems)
}

func (env *testEnv) bytesOf(allocs *buffers.Allocations, index buffers.Index) []byte {
	mem := must.M1(allocs.Memory(index))
	return must.M1(env.backend.Arena().Bytes(mem))
}

func (env *testEnv) execParams(allocs *buffers.Allocations) ExecuteParams {
	return ExecuteParams{
		Executor:    env.exec,
		Stream:      env.stream,
		Allocations: allocs,
		Comms:       backendtest.LoopbackComms{},
	}
}

func (env *testEnv) createParams() RecordParams {
	return RecordParams{State: env.state, IsInitialization: true}
}

func (env *testEnv) updateParams(updated ...buffers.Index) RecordParams {
	return RecordParams{State: env.state, TrackedUpdates: true, UpdatedAllocs: updated}
}

func (env *testEnv) newCommandBuffer() *backendtest.CommandBuffer {
	return must.M1(env.exec.CreateCommandBuffer()).(*backendtest.CommandBuffer)
}

// recordAndRun creates the command buffer contents from the executor,
// finalizes and executes it.
func (env *testEnv) recordAndRun(e *Executor, allocs *buffers.Allocations) *backendtest.CommandBuffer {
	cb := env.newCommandBuffer()
	require.NoError(env.t, e.Record(env.execParams(allocs), env.createParams(), cb))
	require.NoError(env.t, cb.Finalize())
	require.NoError(env.t, cb.Execute())
	return cb
}

// updateAndRun re-opens the command buffer, patches it and executes again.
func (env *testEnv) updateAndRun(e *Executor, allocs *buffers.Allocations,
	cb *backendtest.CommandBuffer, updated ...buffers.Index) {
	require.NoError(env.t, cb.BeginUpdate())
	require.NoError(env.t, e.Record(env.execParams(allocs), env.updateParams(updated...), cb))
	require.NoError(env.t, cb.Finalize())
	require.NoError(env.t, cb.Execute())
}

func fullSlice(index buffers.Index, size int64) buffers.Slice {
	return buffers.Slice{Index: index, Offset: 0, Size: size}
}

func requireAllBytes(t *testing.T, data []byte, want byte) {
	for i, b := range data {
		require.Equalf(t, want, b, "byte #%d", i)
	}
}
