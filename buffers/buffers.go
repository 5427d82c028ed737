// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package buffers models the memory side of command recording: symbolic
// buffer allocations, slices into them, declared accesses (reads/writes) and
// the per-execution mapping from symbolic allocation indices to concrete
// device addresses.
//
// Allocation indices are symbolic on purpose: the same recorded program is
// replayed many times, and between replays the runtime may re-assign the
// device memory backing an allocation. The engine only learns about that
// through the Allocations snapshot passed to each record call.
package buffers

import (
	"fmt"

	"github.com/pkg/errors"
)

// Index identifies a buffer allocation. It is assigned by the buffer
// assignment phase of the surrounding runtime and is stable for the lifetime
// of a compiled program.
type Index int

// Allocation is a symbolic buffer allocation: an index plus its size in bytes.
type Allocation struct {
	Index Index
	Size  int64
}

// Slice is a range of bytes within an allocation. Commands declare the slices
// they touch; the concrete device address is only resolved at record time.
type Slice struct {
	Index  Index
	Offset int64
	Size   int64
}

// NewSlice returns a slice covering [offset, offset+size) of the allocation.
func NewSlice(alloc Allocation, offset, size int64) Slice {
	return Slice{Index: alloc.Index, Offset: offset, Size: size}
}

// FullSlice returns a slice covering the whole allocation.
func FullSlice(alloc Allocation) Slice {
	return Slice{Index: alloc.Index, Offset: 0, Size: alloc.Size}
}

// String implements fmt.Stringer.
func (s Slice) String() string {
	return fmt.Sprintf("{index:%d, offset:%d, size:%d}", s.Index, s.Offset, s.Size)
}

// Overlaps reports whether two slices refer to intersecting byte ranges of
// the same allocation.
func (s Slice) Overlaps(other Slice) bool {
	if s.Index != other.Index {
		return false
	}
	return s.Offset < other.Offset+other.Size && other.Offset < s.Offset+s.Size
}

// MemoryAccess describes how a command accesses a slice.
type MemoryAccess int

const (
	// AccessRead is a read-only access.
	AccessRead MemoryAccess = iota

	// AccessWrite is a write-only access.
	AccessWrite

	// AccessReadWrite both reads and writes the slice.
	AccessReadWrite
)

var memoryAccessNames = [...]string{"read", "write", "read-write"}

// String implements fmt.Stringer.
func (a MemoryAccess) String() string {
	if a < 0 || int(a) >= len(memoryAccessNames) {
		return fmt.Sprintf("MemoryAccess(%d)", int(a))
	}
	return memoryAccessNames[a]
}

// IsWrite reports whether the access mutates the slice.
func (a MemoryAccess) IsWrite() bool { return a == AccessWrite || a == AccessReadWrite }

// Use is a declared access of a slice by a command. Two uses conflict if they
// overlap and at least one of them is a write.
type Use struct {
	Slice  Slice
	Access MemoryAccess
}

// Read declares a read-only use of the slice.
func Read(s Slice) Use { return Use{Slice: s, Access: AccessRead} }

// Write declares a write use of the slice.
func Write(s Slice) Use { return Use{Slice: s, Access: AccessWrite} }

// ReadWrite declares a read-write use of the slice.
func ReadWrite(s Slice) Use { return Use{Slice: s, Access: AccessReadWrite} }

// Conflicts reports whether two uses must be ordered relative to each other.
func (u Use) Conflicts(other Use) bool {
	if !u.Access.IsWrite() && !other.Access.IsWrite() {
		return false
	}
	return u.Slice.Overlaps(other.Slice)
}

// String implements fmt.Stringer.
func (u Use) String() string {
	return fmt.Sprintf("{slice:%s, access:%s}", u.Slice, u.Access)
}

// DeviceMemory is an opaque concrete device address range. It is comparable:
// the traced-command cache relies on exact equality of resolved addresses.
type DeviceMemory struct {
	// Opaque is the backend's address representation, typically the raw
	// device pointer value.
	Opaque uintptr

	// Size in bytes of the addressed range.
	Size int64
}

// IsNull reports whether the memory refers to no device address.
func (m DeviceMemory) IsNull() bool { return m.Opaque == 0 }

// String implements fmt.Stringer.
func (m DeviceMemory) String() string {
	return fmt.Sprintf("0x%x[%d]", m.Opaque, m.Size)
}

// Allocations is the per-execution snapshot mapping allocation indices to the
// device memory currently backing them. It is built by the owning runtime
// before each execution and is read-only from the engine's perspective.
type Allocations struct {
	allocs []DeviceMemory
}

// NewAllocations creates a snapshot from device memory ranges indexed by
// allocation index.
func NewAllocations(allocs []DeviceMemory) *Allocations {
	return &Allocations{allocs: allocs}
}

// Memory returns the device memory backing the allocation with the given index.
func (a *Allocations) Memory(index Index) (DeviceMemory, error) {
	if index < 0 || int(index) >= len(a.allocs) {
		return DeviceMemory{}, errors.Errorf("invalid allocation index %d, only %d allocations available", index, len(a.allocs))
	}
	return a.allocs[index], nil
}

// Resolve returns the concrete device memory for the given slice.
func (a *Allocations) Resolve(s Slice) (DeviceMemory, error) {
	base, err := a.Memory(s.Index)
	if err != nil {
		return DeviceMemory{}, err
	}
	if s.Offset < 0 || s.Size < 0 || s.Offset+s.Size > base.Size {
		return DeviceMemory{}, errors.Errorf("slice %s out of bounds of allocation #%d (%d bytes)", s, s.Index, base.Size)
	}
	return DeviceMemory{Opaque: base.Opaque + uintptr(s.Offset), Size: s.Size}, nil
}

// Len returns the number of allocations in the snapshot.
func (a *Allocations) Len() int { return len(a.allocs) }
