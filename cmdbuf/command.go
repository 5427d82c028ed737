// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cmdbuf implements the command-buffer recording and incremental
// update engine: it translates a sequence of logical GPU commands into a
// backend-owned native command buffer, wires up inter-command dependencies as
// a DAG, and on subsequent executions re-records only the commands whose
// buffer addresses changed.
//
// Commands must be safe for concurrent use: the same command objects are
// recorded into multiple command buffers concurrently, one per target device.
// All per-(command, command buffer) state lives in an external StateManager,
// so concurrent recordings into different command buffers never contend.
// Recording into the same command buffer from multiple goroutines is the
// caller's responsibility to avoid.
package cmdbuf

import (
	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// Command is one logical GPU operation that knows how to record itself into a
// native command buffer and patch the recorded node on later executions.
//
// Execution stages are always Prepare -> Initialize -> Record, mirroring the
// execution cycle of the surrounding runtime.
type Command interface {
	// CmdType returns the command's discriminant tag.
	CmdType() CmdType

	// ExecutionStreamId returns which logical submission stream this
	// command belongs to.
	ExecutionStreamId() collectives.ExecutionStreamId

	// Priority hints the backend's scheduling of independent nodes.
	Priority() backends.StreamPriority

	// SetPriority changes the scheduling hint. Only meaningful before the
	// first recording.
	SetPriority(priority backends.StreamPriority)

	// ProfileAnnotation is the human-readable label used in profiles and logs.
	ProfileAnnotation() string

	// SetProfileAnnotation sets the label.
	SetProfileAnnotation(annotation string)

	// BufferUses returns all buffer slices the command touches, with their
	// access modes. The answer must be stable across calls: the executor
	// relies on it to detect relevant address changes cheaply.
	BufferUses() []buffers.Use

	// ResourceUses returns the shared resources the command touches. Used
	// only for dependency ordering, never for address-change detection.
	ResourceUses() []resources.Use

	// RequiresInitialization reports whether the command must be recorded
	// during the mandatory initialization-time record pass regardless of
	// the update-skip optimization. True only for collective commands:
	// skipping an update on some ranks but not others diverges the
	// per-rank recording and deadlocks the multi-device protocol.
	RequiresInitialization() bool

	// IsNestedCommandBuffer reports whether the command records as a
	// nested command buffer rather than inline nodes.
	IsNestedCommandBuffer() bool

	// Prepare requests shared resources needed before any recording, e.g.
	// collective commands request their clique. It may block on
	// multi-process rendezvous. Idempotent.
	Prepare(requests collectives.ResourceRequests) error

	// Initialize performs expensive one-time per-device setup, e.g.
	// loading a kernel image. Keyed by the target executor, not by command
	// buffer, and cached accordingly.
	Initialize(params InitializeParams, state *StateManager) error

	// Record emits (RecordCreate action) or patches (RecordUpdate action)
	// the command's native node in the command buffer and returns its
	// handle. On update the returned handle must be the one passed in.
	Record(execParams ExecuteParams, recordParams RecordParams, action RecordAction, cb backends.CommandBuffer) (backends.Command, error)
}

// InitializeParams are the inputs to Command.Initialize.
type InitializeParams struct {
	// Executor is the target device.
	Executor backends.Executor

	// Source is the executable binary image kernels are loaded from.
	Source []byte
}

// ExecuteParams are the per-execution inputs to Command.Record.
type ExecuteParams struct {
	// Executor is the target device.
	Executor backends.Executor

	// Stream is the device stream associated with this execution.
	Stream backends.Stream

	// TraceStream, if set, is the dedicated stream used to capture traced
	// commands. Defaults to Stream.
	TraceStream backends.Stream

	// Allocations resolves symbolic allocation indices to the concrete
	// device addresses of this execution.
	Allocations *buffers.Allocations

	// Comms resolves cliques requested during Prepare to live
	// communicators. Only needed when the sequence contains collectives.
	Comms collectives.CommProvider

	// ReplicaId and PartitionId of this execution within the program's
	// logical device mesh.
	ReplicaId   int32
	PartitionId int32
}

// traceStream returns the stream traced commands should be captured on.
func (p *ExecuteParams) traceStream() backends.Stream {
	if p.TraceStream != nil {
		return p.TraceStream
	}
	return p.Stream
}

// RecordParams carry the incremental-update context of one record pass.
type RecordParams struct {
	// State is the external manager for per-(command, command buffer) state.
	State *StateManager

	// TrackedUpdates indicates UpdatedAllocs carries meaningful
	// information. When false every command must be re-recorded.
	TrackedUpdates bool

	// UpdatedAllocs is the sorted list of allocation indices whose device
	// address changed since the last record call into this command
	// buffer. Commands whose buffer uses don't intersect it may be
	// skipped during updates.
	UpdatedAllocs []buffers.Index

	// IsInitialization marks the mandatory initialization-time record
	// pass. No command is skipped during it, regardless of UpdatedAllocs.
	IsInitialization bool
}

// RecordAction selects between creating new nodes and patching existing
// ones. The DAG structure is fixed at create time; updates only change node
// parameters.
type RecordAction interface {
	isRecordAction()
}

// RecordCreate records a new node depending on the given predecessor handles.
type RecordCreate struct {
	// Dependencies this node must execute after.
	Dependencies []backends.Command
}

// RecordUpdate patches the previously recorded node.
type RecordUpdate struct {
	// Command is the handle returned by the original create.
	Command backends.Command
}

func (RecordCreate) isRecordAction() {}
func (RecordUpdate) isRecordAction() {}

// handleRecordAction dispatches a record action to the create or update path.
// Commands with no mutable parameters can pass a nil update to echo the
// existing handle back.
func handleRecordAction(action RecordAction,
	create func(deps []backends.Command) (backends.Command, error),
	update func(cmd backends.Command) error) (backends.Command, error) {
	switch a := action.(type) {
	case RecordCreate:
		return create(a.Dependencies)
	case RecordUpdate:
		if update != nil {
			if err := update(a.Command); err != nil {
				return nil, err
			}
		}
		return a.Command, nil
	}
	return nil, errInvalidRecordAction(action)
}

// cmdBase carries the attributes common to all command kinds and provides
// default no-op implementations of the optional stages.
type cmdBase struct {
	cmdType           CmdType
	executionStreamId collectives.ExecutionStreamId
	resourceUses      []resources.Use
	priority          backends.StreamPriority
	profileAnnotation string
}

func newCmdBase(cmdType CmdType, streamId collectives.ExecutionStreamId, resourceUses []resources.Use) cmdBase {
	return cmdBase{
		cmdType:           cmdType,
		executionStreamId: streamId,
		resourceUses:      resourceUses,
	}
}

func (c *cmdBase) CmdType() CmdType { return c.cmdType }

func (c *cmdBase) ExecutionStreamId() collectives.ExecutionStreamId { return c.executionStreamId }

func (c *cmdBase) Priority() backends.StreamPriority { return c.priority }

func (c *cmdBase) SetPriority(priority backends.StreamPriority) { c.priority = priority }

func (c *cmdBase) ProfileAnnotation() string { return c.profileAnnotation }

func (c *cmdBase) SetProfileAnnotation(annotation string) { c.profileAnnotation = annotation }

func (c *cmdBase) ResourceUses() []resources.Use { return c.resourceUses }

func (c *cmdBase) RequiresInitialization() bool { return false }

func (c *cmdBase) IsNestedCommandBuffer() bool { return false }

func (c *cmdBase) Prepare(requests collectives.ResourceRequests) error { return nil }

func (c *cmdBase) Initialize(params InitializeParams, state *StateManager) error { return nil }

func (c *cmdBase) String() string { return c.cmdType.String() }
