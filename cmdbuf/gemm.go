// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// GemmCmd records a library-backed matrix multiplication. The library call is
// issued against a tracing stream and captured into a nested command buffer,
// cached by the concrete operand addresses.
type GemmCmd struct {
	cmdBase
	config        backends.GemmConfig
	lhs, rhs, out buffers.Slice
	workspace     *buffers.Slice
}

// NewGemmCmd creates a matmul command out = alpha*lhs*rhs + beta*out.
// workspace may be nil when the backend library needs no scratch space.
func NewGemmCmd(streamId collectives.ExecutionStreamId, config backends.GemmConfig,
	lhs, rhs, out buffers.Slice, workspace *buffers.Slice, resourceUses ...resources.Use) *GemmCmd {
	return &GemmCmd{
		cmdBase:   newCmdBase(CmdTypeGemm, streamId, resourceUses),
		config:    config,
		lhs:       lhs,
		rhs:       rhs,
		out:       out,
		workspace: workspace,
	}
}

// BufferUses implements Command.
func (c *GemmCmd) BufferUses() []buffers.Use {
	uses := []buffers.Use{
		buffers.Read(c.lhs),
		buffers.Read(c.rhs),
		buffers.Write(c.out),
	}
	if c.workspace != nil {
		uses = append(uses, buffers.Write(*c.workspace))
	}
	return uses
}

// IsNestedCommandBuffer implements Command.
func (c *GemmCmd) IsNestedCommandBuffer() bool { return true }

// Record implements Command.
func (c *GemmCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	lhs, err := execParams.Allocations.Resolve(c.lhs)
	if err != nil {
		return nil, err
	}
	rhs, err := execParams.Allocations.Resolve(c.rhs)
	if err != nil {
		return nil, err
	}
	out, err := execParams.Allocations.Resolve(c.out)
	if err != nil {
		return nil, err
	}
	var workspace buffers.DeviceMemory
	if c.workspace != nil {
		workspace, err = execParams.Allocations.Resolve(*c.workspace)
		if err != nil {
			return nil, err
		}
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			return stream.Gemm(c.config, lhs, rhs, out, workspace)
		})
}

// MatmulLtCmd records a matmul with a fused epilogue (bias add, activation),
// backed by the backend's lightweight matmul library. Like GemmCmd it records
// as a traced nested command buffer.
type MatmulLtCmd struct {
	cmdBase
	config        backends.GemmConfig
	lhs, rhs, out buffers.Slice

	// Optional epilogue inputs and outputs; nil when the epilogue doesn't
	// use them.
	bias      *buffers.Slice
	aux       *buffers.Slice
	workspace *buffers.Slice
}

// NewMatmulLtCmd creates a fused-epilogue matmul command. The epilogue
// descriptor travels inside config; bias, aux and workspace may each be nil.
func NewMatmulLtCmd(streamId collectives.ExecutionStreamId, config backends.GemmConfig,
	lhs, rhs, out buffers.Slice, bias, aux, workspace *buffers.Slice,
	resourceUses ...resources.Use) (*MatmulLtCmd, error) {
	if config.Epilogue == nil {
		return nil, errors.New("fused matmul requires an epilogue descriptor in the config")
	}
	return &MatmulLtCmd{
		cmdBase:   newCmdBase(CmdTypeMatmulLt, streamId, resourceUses),
		config:    config,
		lhs:       lhs,
		rhs:       rhs,
		out:       out,
		bias:      bias,
		aux:       aux,
		workspace: workspace,
	}, nil
}

// BufferUses implements Command.
func (c *MatmulLtCmd) BufferUses() []buffers.Use {
	uses := []buffers.Use{
		buffers.Read(c.lhs),
		buffers.Read(c.rhs),
		buffers.Write(c.out),
	}
	if c.bias != nil {
		uses = append(uses, buffers.Read(*c.bias))
	}
	if c.aux != nil {
		uses = append(uses, buffers.Write(*c.aux))
	}
	if c.workspace != nil {
		uses = append(uses, buffers.Write(*c.workspace))
	}
	return uses
}

// IsNestedCommandBuffer implements Command.
func (c *MatmulLtCmd) IsNestedCommandBuffer() bool { return true }

// Record implements Command.
func (c *MatmulLtCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	// The epilogue buffers ride along as extra operands to the library
	// call; the backend interprets them per the epilogue descriptor.
	lhs, err := execParams.Allocations.Resolve(c.lhs)
	if err != nil {
		return nil, err
	}
	rhs, err := execParams.Allocations.Resolve(c.rhs)
	if err != nil {
		return nil, err
	}
	out, err := execParams.Allocations.Resolve(c.out)
	if err != nil {
		return nil, err
	}
	var bias, aux, workspace buffers.DeviceMemory
	if c.bias != nil {
		bias, err = execParams.Allocations.Resolve(*c.bias)
		if err != nil {
			return nil, err
		}
	}
	if c.aux != nil {
		aux, err = execParams.Allocations.Resolve(*c.aux)
		if err != nil {
			return nil, err
		}
	}
	if c.workspace != nil {
		workspace, err = execParams.Allocations.Resolve(*c.workspace)
		if err != nil {
			return nil, err
		}
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			return stream.MatmulLt(c.config, lhs, rhs, out, bias, aux, workspace)
		})
}

// FusedGraphCmd records a backend-compiled fused operation graph, e.g. a
// convolution-bias-activation fusion compiled ahead of time. The graph handle
// is opaque to the engine.
type FusedGraphCmd struct {
	cmdBase
	graph       any
	operands    []buffers.Slice
	operandsAcc []buffers.MemoryAccess
}

// NewFusedGraphCmd creates a fused-graph command. operands and operandsAccess
// must have the same length.
func NewFusedGraphCmd(streamId collectives.ExecutionStreamId, graph any,
	operands []buffers.Slice, operandsAccess []buffers.MemoryAccess,
	resourceUses ...resources.Use) (*FusedGraphCmd, error) {
	if len(operands) != len(operandsAccess) {
		return nil, errors.Errorf("fused graph given %d operands but %d access modes", len(operands), len(operandsAccess))
	}
	return &FusedGraphCmd{
		cmdBase:     newCmdBase(CmdTypeFusedGraph, streamId, resourceUses),
		graph:       graph,
		operands:    operands,
		operandsAcc: operandsAccess,
	}, nil
}

// BufferUses implements Command.
func (c *FusedGraphCmd) BufferUses() []buffers.Use {
	uses := make([]buffers.Use, len(c.operands))
	for i, operand := range c.operands {
		uses[i] = buffers.Use{Slice: operand, Access: c.operandsAcc[i]}
	}
	return uses
}

// IsNestedCommandBuffer implements Command.
func (c *FusedGraphCmd) IsNestedCommandBuffer() bool { return true }

// Record implements Command.
func (c *FusedGraphCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	operands, err := resolveSlices(execParams.Allocations, c.operands)
	if err != nil {
		return nil, err
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			return stream.FusedGraph(c.graph, operands)
		})
}
