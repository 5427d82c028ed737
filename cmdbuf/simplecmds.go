// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// EmptyCmd records a node with no device work. Useful as an anchor for
// dependencies of sequences that would otherwise be empty.
type EmptyCmd struct {
	cmdBase
}

// NewEmptyCmd creates an empty command.
func NewEmptyCmd(streamId collectives.ExecutionStreamId, resourceUses ...resources.Use) *EmptyCmd {
	return &EmptyCmd{cmdBase: newCmdBase(CmdTypeEmpty, streamId, resourceUses)}
}

// BufferUses implements Command.
func (c *EmptyCmd) BufferUses() []buffers.Use { return nil }

// Record implements Command.
func (c *EmptyCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateEmpty(deps, c.priority)
		},
		nil) // Nothing to patch on update.
}

// BarrierCmd records an empty node whose only purpose is to join all its
// dependencies, so later commands can depend on a single handle.
type BarrierCmd struct {
	cmdBase
}

// NewBarrierCmd creates a barrier command.
func NewBarrierCmd(streamId collectives.ExecutionStreamId, resourceUses ...resources.Use) *BarrierCmd {
	return &BarrierCmd{cmdBase: newCmdBase(CmdTypeBarrier, streamId, resourceUses)}
}

// BufferUses implements Command.
func (c *BarrierCmd) BufferUses() []buffers.Use { return nil }

// Record implements Command.
func (c *BarrierCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateEmpty(deps, c.priority)
		},
		nil)
}

// ComputationIdKind selects which logical id a ComputationIdCmd writes.
type ComputationIdKind int

const (
	// ComputationIdReplica writes the replica id.
	ComputationIdReplica ComputationIdKind = iota

	// ComputationIdPartition writes the partition id.
	ComputationIdPartition
)

// ComputationIdCmd writes the execution's replica or partition id into its
// destination slice as a 32-bit value.
type ComputationIdCmd struct {
	cmdBase
	dest buffers.Slice
	kind ComputationIdKind
}

// NewComputationIdCmd creates a computation-id command writing into dest.
func NewComputationIdCmd(streamId collectives.ExecutionStreamId, dest buffers.Slice,
	kind ComputationIdKind, resourceUses ...resources.Use) *ComputationIdCmd {
	return &ComputationIdCmd{
		cmdBase: newCmdBase(CmdTypeComputationId, streamId, resourceUses),
		dest:    dest,
		kind:    kind,
	}
}

// BufferUses implements Command.
func (c *ComputationIdCmd) BufferUses() []buffers.Use {
	return []buffers.Use{buffers.Write(c.dest)}
}

// Record implements Command.
func (c *ComputationIdCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	dst, err := execParams.Allocations.Resolve(c.dest)
	if err != nil {
		return nil, err
	}
	var value uint32
	switch c.kind {
	case ComputationIdReplica:
		value = uint32(execParams.ReplicaId)
	case ComputationIdPartition:
		value = uint32(execParams.PartitionId)
	default:
		return nil, errors.Errorf("invalid computation id kind %d", c.kind)
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateMemset32(deps, dst, value, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateMemset32(cmd, dst, value)
		})
}
