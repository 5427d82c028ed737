// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// MemcpyDeviceToDeviceCmd records a device-to-device copy of numBytes from
// src to dst.
type MemcpyDeviceToDeviceCmd struct {
	cmdBase
	dst, src buffers.Slice
	numBytes int64
}

// NewMemcpyDeviceToDeviceCmd creates a device-to-device copy command.
func NewMemcpyDeviceToDeviceCmd(streamId collectives.ExecutionStreamId, dst, src buffers.Slice,
	numBytes int64, resourceUses ...resources.Use) *MemcpyDeviceToDeviceCmd {
	return &MemcpyDeviceToDeviceCmd{
		cmdBase:  newCmdBase(CmdTypeMemcpyD2D, streamId, resourceUses),
		dst:      dst,
		src:      src,
		numBytes: numBytes,
	}
}

// BufferUses implements Command.
func (c *MemcpyDeviceToDeviceCmd) BufferUses() []buffers.Use {
	return []buffers.Use{buffers.Write(c.dst), buffers.Read(c.src)}
}

// Record implements Command.
func (c *MemcpyDeviceToDeviceCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	dst, err := execParams.Allocations.Resolve(c.dst)
	if err != nil {
		return nil, err
	}
	src, err := execParams.Allocations.Resolve(c.src)
	if err != nil {
		return nil, err
	}
	if c.numBytes > dst.Size || c.numBytes > src.Size {
		return nil, errors.Errorf("memcpy of %d bytes out of bounds: dst %s, src %s", c.numBytes, dst, src)
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateMemcpyD2D(deps, dst, src, c.numBytes, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateMemcpyD2D(cmd, dst, src, c.numBytes)
		})
}

// MemzeroCmd records a fill of the destination slice with zeros.
type MemzeroCmd struct {
	cmdBase
	dst buffers.Slice
}

// NewMemzeroCmd creates a zero-fill command.
func NewMemzeroCmd(streamId collectives.ExecutionStreamId, dst buffers.Slice,
	resourceUses ...resources.Use) *MemzeroCmd {
	return &MemzeroCmd{
		cmdBase: newCmdBase(CmdTypeMemzero, streamId, resourceUses),
		dst:     dst,
	}
}

// BufferUses implements Command.
func (c *MemzeroCmd) BufferUses() []buffers.Use {
	return []buffers.Use{buffers.Write(c.dst)}
}

// Record implements Command.
func (c *MemzeroCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	dst, err := execParams.Allocations.Resolve(c.dst)
	if err != nil {
		return nil, err
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateMemset32(deps, dst, 0, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateMemset32(cmd, dst, 0)
		})
}

// Memset32Cmd records a fill of the destination slice with a 4-byte pattern.
// See the Pattern* helpers for building patterns from narrower literals.
type Memset32Cmd struct {
	cmdBase
	dst        buffers.Slice
	bitPattern uint32
}

// NewMemset32Cmd creates a pattern-fill command.
func NewMemset32Cmd(streamId collectives.ExecutionStreamId, dst buffers.Slice,
	bitPattern uint32, resourceUses ...resources.Use) *Memset32Cmd {
	return &Memset32Cmd{
		cmdBase:    newCmdBase(CmdTypeMemset32, streamId, resourceUses),
		dst:        dst,
		bitPattern: bitPattern,
	}
}

// BufferUses implements Command.
func (c *Memset32Cmd) BufferUses() []buffers.Use {
	return []buffers.Use{buffers.Write(c.dst)}
}

// Record implements Command.
func (c *Memset32Cmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	dst, err := execParams.Allocations.Resolve(c.dst)
	if err != nil {
		return nil, err
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateMemset32(deps, dst, c.bitPattern, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateMemset32(cmd, dst, c.bitPattern)
		})
}
