// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/gpucmd/buffers"
)

// Command is an opaque handle to a node recorded into a CommandBuffer. It is
// returned by the Create* calls, passed as a dependency to later Create*
// calls and as the target of Update* calls.
//
// It is owned by the backend: the engine never destroys it, only stops
// referring to it when the native command buffer is discarded.
type Command any

// State of a native command buffer.
type State int

const (
	// StateCreate means the buffer is accepting new nodes.
	StateCreate State = iota

	// StateUpdate means the buffer structure is frozen and existing nodes
	// accept parameter patches.
	StateUpdate

	// StateFinalized means the buffer is executable and accepts neither
	// new nodes nor patches.
	StateFinalized
)

var stateNames = [...]string{"create", "update", "finalized"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// StreamPriority hints the backend's scheduling of independent nodes. It
// never changes the recorded dependency structure.
type StreamPriority int

const (
	PriorityDefault StreamPriority = iota
	PriorityLowest
	PriorityHighest
)

var priorityNames = [...]string{"default", "lowest", "highest"}

// String implements fmt.Stringer.
func (p StreamPriority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("StreamPriority(%d)", int(p))
	}
	return priorityNames[p]
}

// BodyFn records the body of a conditional construct into a backend-provided
// nested command buffer.
type BodyFn func(cb CommandBuffer) error

// CommandBuffer is the native command buffer primitive owned by the backend.
//
// Dependencies passed to Create* calls establish the execution DAG; they can
// only be set while the buffer is in create state. Once the buffer
// transitions to update state (backend-controlled, typically after
// finalization and re-opening for update), only the Update* calls are legal
// and they may change node parameters but never the DAG structure.
//
// A command buffer must not be recorded into from more than one goroutine at
// a time; that discipline is the caller's, not the backend's.
type CommandBuffer interface {
	// State returns the current buffer state.
	State() State

	// Finalize transitions the buffer from create or update state to
	// finalized, making it executable. Required before the buffer can be
	// referenced by CreateNested or submitted to a stream.
	Finalize() error

	// BeginUpdate re-opens a finalized buffer for update. The node
	// structure is frozen; only Update* calls are legal until the next
	// Finalize.
	BeginUpdate() error

	// CreateEmpty adds a node with no device work, used for barriers and
	// no-op commands.
	CreateEmpty(deps []Command, priority StreamPriority) (Command, error)

	// CreateLaunch adds a kernel launch node.
	CreateLaunch(deps []Command, kernel Kernel, dims LaunchDims, shmemBytes int64, args []buffers.DeviceMemory, priority StreamPriority) (Command, error)

	// UpdateLaunch patches a kernel launch node with new arguments.
	UpdateLaunch(cmd Command, kernel Kernel, dims LaunchDims, shmemBytes int64, args []buffers.DeviceMemory) error

	// CreateMemcpyD2D adds a device-to-device copy node.
	CreateMemcpyD2D(deps []Command, dst, src buffers.DeviceMemory, numBytes int64, priority StreamPriority) (Command, error)

	// UpdateMemcpyD2D patches a copy node with new addresses.
	UpdateMemcpyD2D(cmd Command, dst, src buffers.DeviceMemory, numBytes int64) error

	// CreateMemset32 adds a 4-byte-pattern fill node.
	CreateMemset32(deps []Command, dst buffers.DeviceMemory, pattern uint32, priority StreamPriority) (Command, error)

	// UpdateMemset32 patches a fill node with a new address and pattern.
	UpdateMemset32(cmd Command, dst buffers.DeviceMemory, pattern uint32) error

	// CreateNested adds a node that executes another, finalized command
	// buffer (typically one captured by tracing).
	CreateNested(deps []Command, nested CommandBuffer, priority StreamPriority) (Command, error)

	// UpdateNested re-points a nested node at a different command buffer.
	UpdateNested(cmd Command, nested CommandBuffer) error

	// CreateCase adds a conditional node that selects one of the branches
	// based on the value stored at index. If indexIsBool the value is a
	// predicate selecting between exactly two branches; otherwise it is an
	// int32 selector and out-of-range values clamp to the last branch.
	// Each branch body is recorded into a backend-provided nested buffer.
	CreateCase(deps []Command, index buffers.DeviceMemory, indexIsBool bool, branches []BodyFn, priority StreamPriority) (Command, error)

	// UpdateCase patches the index address and replays the branch bodies
	// against their nested buffers in update state.
	UpdateCase(cmd Command, index buffers.DeviceMemory, branches []BodyFn) error

	// CreateWhile adds a loop node that evaluates cond, then repeatedly
	// executes body while the predicate stored at pred is true.
	CreateWhile(deps []Command, pred buffers.DeviceMemory, cond, body BodyFn, priority StreamPriority) (Command, error)

	// UpdateWhile patches the predicate address and replays cond and body
	// against their nested buffers in update state.
	UpdateWhile(cmd Command, pred buffers.DeviceMemory, cond, body BodyFn) error
}

// InvalidStateError is returned when a command buffer is asked to perform an
// operation incompatible with its current state.
type InvalidStateError struct {
	Expected, Actual State
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("command buffer in state %q, expected state %q", e.Actual, e.Expected)
}
