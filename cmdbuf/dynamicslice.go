// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// SlicedArgument binds one argument of an embedded sequence to a window into
// a real allocation. The window start is either fixed at construction time or
// read from a device-resident offset buffer on every recording.
type SlicedArgument struct {
	// Argument is the full buffer the window slides over.
	Argument buffers.Slice

	// Access mode of the embedded sequence on this argument.
	Access buffers.MemoryAccess

	// EmbeddedIndex is the allocation index the embedded sequence uses to
	// refer to this argument.
	EmbeddedIndex buffers.Index

	// SlicedSize is the window size in bytes.
	SlicedSize int64

	// Offset, if non-nil, is an 8-byte device buffer holding the window's
	// element offset, read back at record time. Otherwise OffsetBytes is
	// used directly.
	Offset *buffers.Slice

	// ByteStride converts a dynamic element offset to bytes. Ignored when
	// Offset is nil.
	ByteStride int64

	// OffsetBytes is the fixed window start when Offset is nil.
	OffsetBytes int64
}

// DynamicSliceFusionCmd runs an embedded command sequence over windows into
// its arguments, with window offsets read from the device on every recording.
//
// Unlike traced commands the embedded buffer is engine-managed: it is created
// once per (command, command buffer), then re-opened for update whenever an
// offset or address changes, instead of being re-traced from scratch.
type DynamicSliceFusionCmd struct {
	cmdBase
	embedded *Executor
	args     []SlicedArgument
}

type embeddedState struct {
	commandBuffer backends.CommandBuffer
}

// NewDynamicSliceFusionCmd creates a dynamic-slice fusion command around the
// embedded sequence.
func NewDynamicSliceFusionCmd(streamId collectives.ExecutionStreamId, embedded *Executor,
	args []SlicedArgument, resourceUses ...resources.Use) (*DynamicSliceFusionCmd, error) {
	for i, arg := range args {
		if arg.SlicedSize > arg.Argument.Size {
			return nil, errors.Errorf("argument #%d window of %d bytes exceeds its %d-byte buffer", i, arg.SlicedSize, arg.Argument.Size)
		}
		if arg.Offset != nil && arg.ByteStride <= 0 {
			return nil, errors.Errorf("argument #%d has a dynamic offset but no byte stride", i)
		}
	}
	return &DynamicSliceFusionCmd{
		cmdBase:  newCmdBase(CmdTypeDynamicSliceFusion, streamId, resourceUses),
		embedded: embedded,
		args:     args,
	}, nil
}

// BufferUses implements Command. The embedded sequence's own uses are not
// reported: they refer to the embedded allocation index space, which the
// arguments fully cover.
func (c *DynamicSliceFusionCmd) BufferUses() []buffers.Use {
	uses := make([]buffers.Use, 0, 2*len(c.args))
	for _, arg := range c.args {
		uses = append(uses, buffers.Use{Slice: arg.Argument, Access: arg.Access})
		if arg.Offset != nil {
			uses = append(uses, buffers.Read(*arg.Offset))
		}
	}
	return uses
}

// RequiresInitialization implements Command: window offsets live in device
// memory and can change without any allocation address changing, so this
// command can never be skipped during updates.
func (c *DynamicSliceFusionCmd) RequiresInitialization() bool { return true }

// IsNestedCommandBuffer implements Command.
func (c *DynamicSliceFusionCmd) IsNestedCommandBuffer() bool { return true }

// Prepare implements Command.
func (c *DynamicSliceFusionCmd) Prepare(requests collectives.ResourceRequests) error {
	return c.embedded.Prepare(requests)
}

// Initialize implements Command.
func (c *DynamicSliceFusionCmd) Initialize(params InitializeParams, state *StateManager) error {
	return c.embedded.Initialize(params, state)
}

// Record implements Command.
func (c *DynamicSliceFusionCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	embeddedAllocs, err := c.resolveWindows(execParams)
	if err != nil {
		return nil, err
	}

	embeddedExecParams := execParams
	embeddedExecParams.Allocations = embeddedAllocs

	// Window offsets can change without any allocation address changing,
	// so the embedded sequence never skips updates.
	embeddedRecordParams := recordParams
	embeddedRecordParams.TrackedUpdates = false
	embeddedRecordParams.UpdatedAllocs = nil

	var createErr error
	state := GetOrCreate(recordParams.State, c, cb, StateKindEmbeddedCommandBuffer,
		func() *embeddedState {
			child, err := execParams.Executor.CreateCommandBuffer()
			if err != nil {
				createErr = err
				return &embeddedState{}
			}
			return &embeddedState{commandBuffer: child}
		})
	if createErr != nil {
		return nil, errors.WithMessage(createErr, "creating embedded command buffer")
	}
	child := state.commandBuffer

	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			if _, err := c.embedded.RecordCreate(embeddedExecParams, embeddedRecordParams, child, nil); err != nil {
				return nil, err
			}
			if err := child.Finalize(); err != nil {
				return nil, errors.WithMessage(err, "finalizing embedded command buffer")
			}
			return cb.CreateNested(deps, child, c.priority)
		},
		func(cmd backends.Command) error {
			if err := child.BeginUpdate(); err != nil {
				return errors.WithMessage(err, "re-opening embedded command buffer")
			}
			if err := c.embedded.RecordUpdate(embeddedExecParams, embeddedRecordParams, child); err != nil {
				return err
			}
			if err := child.Finalize(); err != nil {
				return errors.WithMessage(err, "finalizing embedded command buffer")
			}
			return cb.UpdateNested(cmd, child)
		})
}

// resolveWindows computes the concrete window addresses and packages them as
// the embedded sequence's allocations, ordered by embedded index.
func (c *DynamicSliceFusionCmd) resolveWindows(execParams ExecuteParams) (*buffers.Allocations, error) {
	maxIndex := buffers.Index(-1)
	for _, arg := range c.args {
		if arg.EmbeddedIndex > maxIndex {
			maxIndex = arg.EmbeddedIndex
		}
	}
	mems := make([]buffers.DeviceMemory, maxIndex+1)
	for i, arg := range c.args {
		base, err := execParams.Allocations.Resolve(arg.Argument)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving argument #%d", i)
		}
		offset := arg.OffsetBytes
		if arg.Offset != nil {
			offset, err = c.readOffset(execParams, arg)
			if err != nil {
				return nil, errors.WithMessagef(err, "reading dynamic offset of argument #%d", i)
			}
		}
		// Out-of-range offsets clamp to the last whole window.
		if maxOffset := arg.Argument.Size - arg.SlicedSize; offset > maxOffset {
			offset = maxOffset
		}
		if offset < 0 {
			offset = 0
		}
		mems[arg.EmbeddedIndex] = buffers.DeviceMemory{
			Opaque: base.Opaque + uintptr(offset),
			Size:   arg.SlicedSize,
		}
	}
	return buffers.NewAllocations(mems), nil
}

// readOffset copies the argument's 8-byte offset value from the device and
// converts it to bytes. The copy synchronizes with the stream, stalling the
// record pass; that is the price of device-chosen offsets.
func (c *DynamicSliceFusionCmd) readOffset(execParams ExecuteParams, arg SlicedArgument) (int64, error) {
	offsetMem, err := execParams.Allocations.Resolve(*arg.Offset)
	if err != nil {
		return 0, err
	}
	var raw [8]byte
	if err := execParams.Stream.MemcpyDeviceToHost(raw[:], offsetMem); err != nil {
		return 0, err
	}
	elements := int64(binary.LittleEndian.Uint64(raw[:]))
	return elements * arg.ByteStride, nil
}
