// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"encoding/binary"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/backends/backendtest"
	"github.com/gomlx/gpucmd/buffers"
)

// registerAddI32 installs a kernel adding args[0] and args[1] element-wise
// into args[2], with one element per thread.
func registerAddI32(backend *backendtest.Backend) {
	backend.RegisterKernel("add_i32", func(arena *backendtest.Arena, dims backends.LaunchDims, args []buffers.DeviceMemory) error {
		lhs := must.M1(arena.Bytes(args[0]))
		rhs := must.M1(arena.Bytes(args[1]))
		out := must.M1(arena.Bytes(args[2]))
		for i := uint64(0); i < dims.ThreadCounts[0]; i++ {
			sum := binary.LittleEndian.Uint32(lhs[4*i:]) + binary.LittleEndian.Uint32(rhs[4*i:])
			binary.LittleEndian.PutUint32(out[4*i:], sum)
		}
		return nil
	})
}

func TestLaunchCmd(t *testing.T) {
	env := newTestEnv(t)
	registerAddI32(env.backend)
	const elements = 4
	const size = 4 * elements

	launch, err := NewLaunchCmd(0, "add_i32",
		[]buffers.Slice{fullSlice(0, size), fullSlice(1, size), fullSlice(2, size)},
		[]buffers.MemoryAccess{buffers.AccessRead, buffers.AccessRead, buffers.AccessWrite},
		backends.NewLaunchDims(1, elements), 0)
	require.NoError(t, err)
	require.Len(t, launch.BufferUses(), 3)

	e, err := NewExecutor(Sequence{launch}, SynchronizationAutomatic)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(InitializeParams{Executor: env.exec}, env.state))

	allocs := env.allocate(size, size, size)
	for i := 0; i < elements; i++ {
		binary.LittleEndian.PutUint32(env.bytesOf(allocs, 0)[4*i:], uint32(i))
		binary.LittleEndian.PutUint32(env.bytesOf(allocs, 1)[4*i:], uint32(10*i))
	}
	env.recordAndRun(e, allocs)

	out := env.bytesOf(allocs, 2)
	for i := 0; i < elements; i++ {
		require.Equal(t, uint32(11*i), binary.LittleEndian.Uint32(out[4*i:]))
	}
}

func TestLaunchCmdArgsMismatch(t *testing.T) {
	_, err := NewLaunchCmd(0, "add_i32",
		[]buffers.Slice{fullSlice(0, 16)},
		[]buffers.MemoryAccess{buffers.AccessRead, buffers.AccessWrite},
		backends.NewLaunchDims(1, 1), 0)
	require.Error(t, err)
}

func TestLaunchCmdRequiresInitialize(t *testing.T) {
	env := newTestEnv(t)
	launch, err := NewLaunchCmd(0, "add_i32",
		[]buffers.Slice{fullSlice(0, 16)},
		[]buffers.MemoryAccess{buffers.AccessWrite},
		backends.NewLaunchDims(1, 1), 0)
	require.NoError(t, err)

	allocs := env.allocate(16)
	cb := env.newCommandBuffer()
	_, err = launch.Record(env.execParams(allocs), env.createParams(), RecordCreate{}, cb)
	require.ErrorContains(t, err, "Initialize")
}

func TestCustomKernelLaunchCmd(t *testing.T) {
	env := newTestEnv(t)
	registerAddI32(env.backend)
	const elements = 2
	const size = 4 * elements

	spec := CustomKernelSpec{
		Name:   "add_i32",
		Binary: []byte{0xde, 0xad},
		Dims:   backends.NewLaunchDims(1, elements),
	}
	launch, err := NewCustomKernelLaunchCmd(0, spec,
		[]buffers.Slice{fullSlice(0, size), fullSlice(1, size), fullSlice(2, size)},
		[]buffers.MemoryAccess{buffers.AccessRead, buffers.AccessRead, buffers.AccessWrite})
	require.NoError(t, err)

	e, err := NewExecutor(Sequence{launch}, SynchronizationAutomatic)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(InitializeParams{Executor: env.exec}, env.state))

	allocs := env.allocate(size, size, size)
	binary.LittleEndian.PutUint32(env.bytesOf(allocs, 0), 40)
	binary.LittleEndian.PutUint32(env.bytesOf(allocs, 1), 2)
	env.recordAndRun(e, allocs)
	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(env.bytesOf(allocs, 2)))
}
