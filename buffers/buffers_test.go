// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceOverlaps(t *testing.T) {
	a := Slice{Index: 0, Offset: 0, Size: 64}
	require.True(t, a.Overlaps(Slice{Index: 0, Offset: 32, Size: 64}))
	require.True(t, a.Overlaps(a))

	// Adjacent ranges do not overlap.
	require.False(t, a.Overlaps(Slice{Index: 0, Offset: 64, Size: 64}))

	// Same range of another allocation does not overlap.
	require.False(t, a.Overlaps(Slice{Index: 1, Offset: 0, Size: 64}))
}

func TestUseConflicts(t *testing.T) {
	s := Slice{Index: 0, Offset: 0, Size: 64}
	require.False(t, Read(s).Conflicts(Read(s)))
	require.True(t, Read(s).Conflicts(Write(s)))
	require.True(t, Write(s).Conflicts(Read(s)))
	require.True(t, Write(s).Conflicts(Write(s)))
	require.True(t, ReadWrite(s).Conflicts(Read(s)))
	require.False(t, Write(s).Conflicts(Write(Slice{Index: 1, Offset: 0, Size: 64})))
}

func TestAllocationsResolve(t *testing.T) {
	allocs := NewAllocations([]DeviceMemory{
		{Opaque: 0x1000, Size: 128},
		{Opaque: 0x2000, Size: 64},
	})
	require.Equal(t, 2, allocs.Len())

	mem, err := allocs.Resolve(Slice{Index: 0, Offset: 32, Size: 64})
	require.NoError(t, err)
	require.Equal(t, DeviceMemory{Opaque: 0x1020, Size: 64}, mem)

	mem, err = allocs.Memory(1)
	require.NoError(t, err)
	require.Equal(t, DeviceMemory{Opaque: 0x2000, Size: 64}, mem)

	_, err = allocs.Resolve(Slice{Index: 1, Offset: 32, Size: 64})
	require.Error(t, err, "slice past the end of its allocation")
	_, err = allocs.Memory(2)
	require.Error(t, err)
	_, err = allocs.Memory(-1)
	require.Error(t, err)
}
