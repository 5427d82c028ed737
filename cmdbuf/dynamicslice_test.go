// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/buffers"
)

func TestDynamicSliceFusionCmd(t *testing.T) {
	env := newTestEnv(t)
	const (
		argSize    = 16
		windowSize = 8
	)

	// The embedded sequence copies its whole first argument window into
	// its second.
	copyCmd := NewMemcpyDeviceToDeviceCmd(0, fullSlice(1, windowSize), fullSlice(0, windowSize), windowSize)
	embedded, err := NewExecutor(Sequence{copyCmd}, SynchronizationAutomatic)
	require.NoError(t, err)

	offsetSlice := fullSlice(2, 8)
	fusion, err := NewDynamicSliceFusionCmd(0, embedded, []SlicedArgument{
		{
			Argument:      fullSlice(0, argSize),
			Access:        buffers.AccessRead,
			EmbeddedIndex: 0,
			SlicedSize:    windowSize,
			Offset:        &offsetSlice,
			ByteStride:    1,
		},
		{
			Argument:      fullSlice(1, windowSize),
			Access:        buffers.AccessWrite,
			EmbeddedIndex: 1,
			SlicedSize:    windowSize,
		},
	})
	require.NoError(t, err)
	require.True(t, fusion.IsNestedCommandBuffer())
	require.True(t, fusion.RequiresInitialization())
	require.Len(t, fusion.BufferUses(), 3)

	e, err := NewExecutor(Sequence{fusion}, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(argSize, windowSize, 8)
	arg := env.bytesOf(allocs, 0)
	for i := range arg {
		arg[i] = byte(i)
	}
	binary.LittleEndian.PutUint64(env.bytesOf(allocs, 2), 4)

	cb := env.recordAndRun(e, allocs)
	require.Equal(t, arg[4:12], env.bytesOf(allocs, 1))

	// Moving the device-resident offset re-records the embedded sequence
	// even though no allocation address changed.
	binary.LittleEndian.PutUint64(env.bytesOf(allocs, 2), 8)
	env.updateAndRun(e, allocs, cb)
	require.Equal(t, arg[8:16], env.bytesOf(allocs, 1))
	require.Len(t, cb.Nodes(), 1)
	require.Equal(t, 1, cb.Nodes()[0].UpdateCount)
}

func TestDynamicSliceFusionClampsOffsets(t *testing.T) {
	env := newTestEnv(t)
	const argSize = 16
	const windowSize = 8

	copyCmd := NewMemcpyDeviceToDeviceCmd(0, fullSlice(1, windowSize), fullSlice(0, windowSize), windowSize)
	embedded, err := NewExecutor(Sequence{copyCmd}, SynchronizationAutomatic)
	require.NoError(t, err)

	offsetSlice := fullSlice(2, 8)
	fusion, err := NewDynamicSliceFusionCmd(0, embedded, []SlicedArgument{
		{Argument: fullSlice(0, argSize), Access: buffers.AccessRead, EmbeddedIndex: 0,
			SlicedSize: windowSize, Offset: &offsetSlice, ByteStride: 1},
		{Argument: fullSlice(1, windowSize), Access: buffers.AccessWrite, EmbeddedIndex: 1,
			SlicedSize: windowSize},
	})
	require.NoError(t, err)
	e, err := NewExecutor(Sequence{fusion}, SynchronizationAutomatic)
	require.NoError(t, err)

	allocs := env.allocate(argSize, windowSize, 8)
	arg := env.bytesOf(allocs, 0)
	for i := range arg {
		arg[i] = byte(i)
	}

	// An offset past the end clamps to the last whole window.
	binary.LittleEndian.PutUint64(env.bytesOf(allocs, 2), 1000)
	env.recordAndRun(e, allocs)
	require.Equal(t, arg[8:16], env.bytesOf(allocs, 1))
}

func TestDynamicSliceFusionValidation(t *testing.T) {
	embedded, err := NewExecutor(Sequence{NewEmptyCmd(0)}, SynchronizationAutomatic)
	require.NoError(t, err)

	// Window larger than the argument.
	_, err = NewDynamicSliceFusionCmd(0, embedded, []SlicedArgument{
		{Argument: fullSlice(0, 8), SlicedSize: 16},
	})
	require.Error(t, err)

	// Dynamic offset without a stride.
	offset := fullSlice(1, 8)
	_, err = NewDynamicSliceFusionCmd(0, embedded, []SlicedArgument{
		{Argument: fullSlice(0, 16), SlicedSize: 8, Offset: &offset},
	})
	require.Error(t, err)
}
