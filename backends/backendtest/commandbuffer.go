// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backendtest

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
)

// NodeKind tags the operation a recorded node performs.
type NodeKind int

const (
	NodeEmpty NodeKind = iota
	NodeLaunch
	NodeMemcpyD2D
	NodeMemset32
	NodeNested
	NodeCase
	NodeWhile
	NodeGemm
	NodeMatmulLt
	NodeFusedGraph
)

// maxWhileIterations guards tests against loops whose condition never clears.
const maxWhileIterations = 10_000

// Node is one recorded command buffer node. Tests inspect the exported
// counters to verify which nodes were patched or skipped across updates.
type Node struct {
	Kind     NodeKind
	Deps     []*Node
	Priority backends.StreamPriority

	// UpdateCount is the number of Update* patches applied to this node.
	UpdateCount int

	// ExecuteCount is the number of times the node ran.
	ExecuteCount int

	kernel   *Kernel
	dims     backends.LaunchDims
	shmem    int64
	args     []buffers.DeviceMemory
	dst, src buffers.DeviceMemory
	numBytes int64
	pattern  uint32
	nested   *CommandBuffer

	index       buffers.DeviceMemory
	indexIsBool bool
	branches    []*CommandBuffer

	pred       buffers.DeviceMemory
	cond, body *CommandBuffer

	gemm      backends.GemmConfig
	workspace buffers.DeviceMemory
	graph     any
	operands  []buffers.DeviceMemory
}

// CommandBuffer is an in-memory command buffer. Nodes are stored in creation
// order, which is a valid execution order because dependencies only point at
// earlier nodes.
type CommandBuffer struct {
	backend *Backend
	state   backends.State
	nodes   []*Node
}

var _ backends.CommandBuffer = (*CommandBuffer)(nil)

// State implements backends.CommandBuffer.
func (cb *CommandBuffer) State() backends.State { return cb.state }

// Nodes returns the recorded nodes in creation order.
func (cb *CommandBuffer) Nodes() []*Node { return cb.nodes }

// Finalize implements backends.CommandBuffer.
func (cb *CommandBuffer) Finalize() error {
	if cb.state == backends.StateFinalized {
		return errors.WithStack(&backends.InvalidStateError{Expected: backends.StateCreate, Actual: cb.state})
	}
	cb.state = backends.StateFinalized
	return nil
}

// BeginUpdate implements backends.CommandBuffer.
func (cb *CommandBuffer) BeginUpdate() error {
	if cb.state != backends.StateFinalized {
		return errors.WithStack(&backends.InvalidStateError{Expected: backends.StateFinalized, Actual: cb.state})
	}
	cb.state = backends.StateUpdate
	return nil
}

func (cb *CommandBuffer) create(node *Node, deps []backends.Command) (backends.Command, error) {
	if cb.state != backends.StateCreate {
		return nil, errors.WithStack(&backends.InvalidStateError{Expected: backends.StateCreate, Actual: cb.state})
	}
	node.Deps = make([]*Node, len(deps))
	for i, dep := range deps {
		depNode, ok := dep.(*Node)
		if !ok {
			return nil, errors.Errorf("dependency #%d is a %T, not a test backend node", i, dep)
		}
		node.Deps[i] = depNode
	}
	cb.nodes = append(cb.nodes, node)
	return node, nil
}

func (cb *CommandBuffer) updatable(cmd backends.Command, kind NodeKind) (*Node, error) {
	if cb.state != backends.StateUpdate {
		return nil, errors.WithStack(&backends.InvalidStateError{Expected: backends.StateUpdate, Actual: cb.state})
	}
	node, ok := cmd.(*Node)
	if !ok {
		return nil, errors.Errorf("command is a %T, not a test backend node", cmd)
	}
	if node.Kind != kind {
		return nil, errors.Errorf("updating a %d node as %d", node.Kind, kind)
	}
	node.UpdateCount++
	return node, nil
}

// CreateEmpty implements backends.CommandBuffer.
func (cb *CommandBuffer) CreateEmpty(deps []backends.Command, priority backends.StreamPriority) (backends.Command, error) {
	return cb.create(&Node{Kind: NodeEmpty, Priority: priority}, deps)
}

// CreateLaunch implements backends.CommandBuffer.
func (cb *CommandBuffer) CreateLaunch(deps []backends.Command, kernel backends.Kernel, dims backends.LaunchDims,
	shmemBytes int64, args []buffers.DeviceMemory, priority backends.StreamPriority) (backends.Command, error) {
	k, ok := kernel.(*Kernel)
	if !ok {
		return nil, errors.Errorf("kernel is a %T, not a test backend kernel", kernel)
	}
	return cb.create(&Node{Kind: NodeLaunch, Priority: priority, kernel: k, dims: dims, shmem: shmemBytes, args: args}, deps)
}

// UpdateLaunch implements backends.CommandBuffer.
func (cb *CommandBuffer) UpdateLaunch(cmd backends.Command, kernel backends.Kernel, dims backends.LaunchDims,
	shmemBytes int64, args []buffers.DeviceMemory) error {
	node, err := cb.updatable(cmd, NodeLaunch)
	if err != nil {
		return err
	}
	k, ok := kernel.(*Kernel)
	if !ok {
		return errors.Errorf("kernel is a %T, not a test backend kernel", kernel)
	}
	node.kernel, node.dims, node.shmem, node.args = k, dims, shmemBytes, args
	return nil
}

// CreateMemcpyD2D implements backends.CommandBuffer.
func (cb *CommandBuffer) CreateMemcpyD2D(deps []backends.Command, dst, src buffers.DeviceMemory,
	numBytes int64, priority backends.StreamPriority) (backends.Command, error) {
	return cb.create(&Node{Kind: NodeMemcpyD2D, Priority: priority, dst: dst, src: src, numBytes: numBytes}, deps)
}

// UpdateMemcpyD2D implements backends.CommandBuffer.
func (cb *CommandBuffer) UpdateMemcpyD2D(cmd backends.Command, dst, src buffers.DeviceMemory, numBytes int64) error {
	node, err := cb.updatable(cmd, NodeMemcpyD2D)
	if err != nil {
		return err
	}
	node.dst, node.src, node.numBytes = dst, src, numBytes
	return nil
}

// CreateMemset32 implements backends.CommandBuffer.
func (cb *CommandBuffer) CreateMemset32(deps []backends.Command, dst buffers.DeviceMemory,
	pattern uint32, priority backends.StreamPriority) (backends.Command, error) {
	return cb.create(&Node{Kind: NodeMemset32, Priority: priority, dst: dst, pattern: pattern}, deps)
}

// UpdateMemset32 implements backends.CommandBuffer.
func (cb *CommandBuffer) UpdateMemset32(cmd backends.Command, dst buffers.DeviceMemory, pattern uint32) error {
	node, err := cb.updatable(cmd, NodeMemset32)
	if err != nil {
		return err
	}
	node.dst, node.pattern = dst, pattern
	return nil
}

// CreateNested implements backends.CommandBuffer.
func (cb *CommandBuffer) CreateNested(deps []backends.Command, nested backends.CommandBuffer,
	priority backends.StreamPriority) (backends.Command, error) {
	n, ok := nested.(*CommandBuffer)
	if !ok {
		return nil, errors.Errorf("nested buffer is a %T, not a test backend buffer", nested)
	}
	if n.state != backends.StateFinalized {
		return nil, errors.WithStack(&backends.InvalidStateError{Expected: backends.StateFinalized, Actual: n.state})
	}
	return cb.create(&Node{Kind: NodeNested, Priority: priority, nested: n}, deps)
}

// UpdateNested implements backends.CommandBuffer.
func (cb *CommandBuffer) UpdateNested(cmd backends.Command, nested backends.CommandBuffer) error {
	node, err := cb.updatable(cmd, NodeNested)
	if err != nil {
		return err
	}
	n, ok := nested.(*CommandBuffer)
	if !ok {
		return errors.Errorf("nested buffer is a %T, not a test backend buffer", nested)
	}
	if n.state != backends.StateFinalized {
		return errors.WithStack(&backends.InvalidStateError{Expected: backends.StateFinalized, Actual: n.state})
	}
	node.nested = n
	return nil
}

// CreateCase implements backends.CommandBuffer. Branch 0 runs when a boolean
// index is false, branch 1 when true. An int32 index out of range clamps to
// the last branch.
func (cb *CommandBuffer) CreateCase(deps []backends.Command, index buffers.DeviceMemory, indexIsBool bool,
	branches []backends.BodyFn, priority backends.StreamPriority) (backends.Command, error) {
	node := &Node{Kind: NodeCase, Priority: priority, index: index, indexIsBool: indexIsBool}
	node.branches = make([]*CommandBuffer, len(branches))
	for i, body := range branches {
		child := &CommandBuffer{backend: cb.backend}
		if err := body(child); err != nil {
			return nil, errors.WithMessagef(err, "recording branch #%d", i)
		}
		if err := child.Finalize(); err != nil {
			return nil, err
		}
		node.branches[i] = child
	}
	return cb.create(node, deps)
}

// UpdateCase implements backends.CommandBuffer.
func (cb *CommandBuffer) UpdateCase(cmd backends.Command, index buffers.DeviceMemory, branches []backends.BodyFn) error {
	node, err := cb.updatable(cmd, NodeCase)
	if err != nil {
		return err
	}
	if len(branches) != len(node.branches) {
		return errors.Errorf("conditional recorded with %d branches, updated with %d", len(node.branches), len(branches))
	}
	node.index = index
	for i, body := range branches {
		child := node.branches[i]
		if err := child.BeginUpdate(); err != nil {
			return err
		}
		if err := body(child); err != nil {
			return errors.WithMessagef(err, "updating branch #%d", i)
		}
		if err := child.Finalize(); err != nil {
			return err
		}
	}
	return nil
}

// CreateWhile implements backends.CommandBuffer.
func (cb *CommandBuffer) CreateWhile(deps []backends.Command, pred buffers.DeviceMemory,
	cond, body backends.BodyFn, priority backends.StreamPriority) (backends.Command, error) {
	node := &Node{Kind: NodeWhile, Priority: priority, pred: pred}
	for _, part := range []struct {
		fn  backends.BodyFn
		dst **CommandBuffer
	}{{cond, &node.cond}, {body, &node.body}} {
		child := &CommandBuffer{backend: cb.backend}
		if err := part.fn(child); err != nil {
			return nil, err
		}
		if err := child.Finalize(); err != nil {
			return nil, err
		}
		*part.dst = child
	}
	return cb.create(node, deps)
}

// UpdateWhile implements backends.CommandBuffer.
func (cb *CommandBuffer) UpdateWhile(cmd backends.Command, pred buffers.DeviceMemory, cond, body backends.BodyFn) error {
	node, err := cb.updatable(cmd, NodeWhile)
	if err != nil {
		return err
	}
	node.pred = pred
	for _, part := range []struct {
		fn    backends.BodyFn
		child *CommandBuffer
	}{{cond, node.cond}, {body, node.body}} {
		if err := part.child.BeginUpdate(); err != nil {
			return err
		}
		if err := part.fn(part.child); err != nil {
			return err
		}
		if err := part.child.Finalize(); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the finalized buffer's nodes in creation order against the
// backend's arena.
func (cb *CommandBuffer) Execute() error {
	if cb.state != backends.StateFinalized {
		return errors.WithStack(&backends.InvalidStateError{Expected: backends.StateFinalized, Actual: cb.state})
	}
	arena := cb.backend.Arena()
	stream := &directStream{backend: cb.backend}
	for i, node := range cb.nodes {
		node.ExecuteCount++
		if err := cb.executeNode(node, arena, stream); err != nil {
			return errors.WithMessagef(err, "executing node #%d", i)
		}
	}
	return nil
}

func (cb *CommandBuffer) executeNode(node *Node, arena *Arena, stream *directStream) error {
	switch node.Kind {
	case NodeEmpty:
		return nil
	case NodeLaunch:
		fn, err := cb.backend.kernelFunc(node.kernel.Name())
		if err != nil {
			return err
		}
		return fn(arena, node.dims, node.args)
	case NodeMemcpyD2D:
		return stream.MemcpyDeviceToDevice(node.dst, node.src, node.numBytes)
	case NodeMemset32:
		return stream.Memset32(node.dst, node.pattern)
	case NodeNested:
		return node.nested.Execute()
	case NodeCase:
		return cb.executeCase(node, arena)
	case NodeWhile:
		return cb.executeWhile(node, arena)
	case NodeGemm:
		return stream.Gemm(node.gemm, node.args[0], node.args[1], node.args[2], node.workspace)
	case NodeMatmulLt:
		return stream.MatmulLt(node.gemm, node.args[0], node.args[1], node.args[2], node.args[3], node.args[4], node.workspace)
	case NodeFusedGraph:
		return stream.FusedGraph(node.graph, node.operands)
	}
	return errors.Errorf("unknown node kind %d", node.Kind)
}

func (cb *CommandBuffer) executeCase(node *Node, arena *Arena) error {
	data, err := arena.Bytes(node.index)
	if err != nil {
		return err
	}
	var branch int
	if node.indexIsBool {
		if data[0] != 0 {
			branch = 1
		}
	} else {
		branch = int(int32(binary.LittleEndian.Uint32(data)))
		if branch < 0 || branch >= len(node.branches) {
			branch = len(node.branches) - 1
		}
	}
	return node.branches[branch].Execute()
}

func (cb *CommandBuffer) executeWhile(node *Node, arena *Arena) error {
	pred, err := arena.Bytes(node.pred)
	if err != nil {
		return err
	}
	if err := node.cond.Execute(); err != nil {
		return err
	}
	for iter := 0; pred[0] != 0; iter++ {
		if iter >= maxWhileIterations {
			return errors.Errorf("loop exceeded %d iterations", maxWhileIterations)
		}
		if err := node.body.Execute(); err != nil {
			return err
		}
		if err := node.cond.Execute(); err != nil {
			return err
		}
	}
	return nil
}
