// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// CallFrame carries the resolved device addresses of a custom call invocation.
// A hole (nil operand or result slice) resolves to the zero DeviceMemory.
type CallFrame struct {
	Operands []buffers.DeviceMemory
	Results  []buffers.DeviceMemory

	// Opaque is the backend-specific payload registered with the target.
	Opaque string
}

// CustomCallTarget is a user-registered function invoked against a tracing
// stream; all device work it issues is captured into the command buffer.
type CustomCallTarget func(stream backends.Stream, frame *CallFrame) error

// CustomCallCmd records a user-registered custom operation. The target runs
// on the host during tracing; whatever it enqueues on the stream becomes the
// recorded nested command buffer.
type CustomCallCmd struct {
	cmdBase
	targetName string
	target     CustomCallTarget

	// nil entries are holes: arguments the call signature declares but
	// this invocation leaves unbound.
	operands []*buffers.Slice
	results  []*buffers.Slice
	opaque   string
}

// NewCustomCallCmd creates a custom call command. Operand and result entries
// may be nil to leave a hole in the call frame.
func NewCustomCallCmd(streamId collectives.ExecutionStreamId, targetName string,
	target CustomCallTarget, operands, results []*buffers.Slice, opaque string,
	resourceUses ...resources.Use) (*CustomCallCmd, error) {
	if target == nil {
		return nil, errors.Errorf("custom call %q has no target function", targetName)
	}
	return &CustomCallCmd{
		cmdBase:    newCmdBase(CmdTypeCustomCall, streamId, resourceUses),
		targetName: targetName,
		target:     target,
		operands:   operands,
		results:    results,
		opaque:     opaque,
	}, nil
}

// BufferUses implements Command. Holes contribute no uses.
func (c *CustomCallCmd) BufferUses() []buffers.Use {
	uses := make([]buffers.Use, 0, len(c.operands)+len(c.results))
	for _, operand := range c.operands {
		if operand != nil {
			uses = append(uses, buffers.Read(*operand))
		}
	}
	for _, result := range c.results {
		if result != nil {
			uses = append(uses, buffers.Write(*result))
		}
	}
	return uses
}

// IsNestedCommandBuffer implements Command.
func (c *CustomCallCmd) IsNestedCommandBuffer() bool { return true }

// Record implements Command.
func (c *CustomCallCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	frame := &CallFrame{
		Operands: make([]buffers.DeviceMemory, len(c.operands)),
		Results:  make([]buffers.DeviceMemory, len(c.results)),
		Opaque:   c.opaque,
	}
	var err error
	for i, operand := range c.operands {
		if operand == nil {
			continue
		}
		frame.Operands[i], err = execParams.Allocations.Resolve(*operand)
		if err != nil {
			return nil, errors.WithMessagef(err, "custom call %q operand #%d", c.targetName, i)
		}
	}
	for i, result := range c.results {
		if result == nil {
			continue
		}
		frame.Results[i], err = execParams.Allocations.Resolve(*result)
		if err != nil {
			return nil, errors.WithMessagef(err, "custom call %q result #%d", c.targetName, i)
		}
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			if err := c.target(stream, frame); err != nil {
				return errors.WithMessagef(err, "custom call %q", c.targetName)
			}
			return nil
		})
}
