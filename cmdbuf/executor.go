// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/execgraph"
	"github.com/gomlx/gpucmd/types/xslices"
)

// SynchronizationMode defines how much concurrency is allowed between
// commands of a sequence.
type SynchronizationMode int

const (
	// SynchronizationSerialize adds a dependency between every consecutive
	// pair of commands, forcing deterministic single-stream execution.
	SynchronizationSerialize SynchronizationMode = iota

	// SynchronizationAutomatic builds the minimal dependency graph from
	// buffer and resource conflicts, maximizing native-level parallelism.
	SynchronizationAutomatic
)

var synchronizationModeNames = [...]string{"serialize", "automatic"}

// String implements fmt.Stringer.
func (m SynchronizationMode) String() string {
	if m < 0 || int(m) >= len(synchronizationModeNames) {
		return fmt.Sprintf("SynchronizationMode(%d)", int(m))
	}
	return synchronizationModeNames[m]
}

// Executor owns a command sequence and its dependency graph, and drives the
// Prepare -> Initialize -> Record protocol across the whole sequence.
//
// An Executor is immutable after construction and safe to use from multiple
// goroutines recording into different command buffers.
type Executor struct {
	id       uuid.UUID
	mode     SynchronizationMode
	commands Sequence
	graph    *execgraph.Graph

	// bufferUses is the deduplicated union of all commands' buffer uses.
	bufferUses []buffers.Use

	// allocsIndices is the sorted unique allocation indices across the sequence.
	allocsIndices []buffers.Index

	// cmdAllocsIndices[i] is the sorted unique allocation indices of command i.
	cmdAllocsIndices [][]buffers.Index
}

// recordState stores the native handle of one recorded command, keyed by
// (command, command buffer) in the external state manager.
type recordState struct {
	command backends.Command
}

// NewExecutor creates an executor for the command sequence using the given
// synchronization mode. The sequence is owned by the executor afterwards.
func NewExecutor(commands Sequence, mode SynchronizationMode) (*Executor, error) {
	e := &Executor{
		id:               uuid.New(),
		mode:             mode,
		commands:         commands,
		cmdAllocsIndices: make([][]buffers.Index, len(commands)),
	}

	seenUses := make(map[buffers.Use]bool)
	for i, cmd := range commands {
		uses := cmd.BufferUses()
		for _, use := range uses {
			if !seenUses[use] {
				seenUses[use] = true
				e.bufferUses = append(e.bufferUses, use)
			}
		}
		e.cmdAllocsIndices[i] = xslices.SortedUnique(
			xslices.Map(uses, func(u buffers.Use) buffers.Index { return u.Slice.Index }))
	}
	e.allocsIndices = xslices.SortedUnique(
		xslices.Map(e.bufferUses, func(u buffers.Use) buffers.Index { return u.Slice.Index }))

	switch mode {
	case SynchronizationSerialize:
		e.graph = execgraph.BuildSerialized(len(commands))
	case SynchronizationAutomatic:
		defs := xslices.Map(commands, func(cmd Command) execgraph.NodeDef {
			return execgraph.NodeDef{BufferUses: cmd.BufferUses(), ResourceUses: cmd.ResourceUses()}
		})
		var err error
		e.graph, err = execgraph.Build(defs)
		if err != nil {
			return nil, errors.WithMessagef(err, "building dependency graph for %d commands", len(commands))
		}
	default:
		return nil, errors.Errorf("invalid synchronization mode %d", mode)
	}

	if klog.V(1).Enabled() {
		klog.Infof("cmdbuf: executor %s created with %d commands, %d dependency edges, mode=%s",
			e.id, len(commands), e.graph.NumEdges(), mode)
	}
	return e, nil
}

// Id returns the unique identity of this executor, used for log correlation.
func (e *Executor) Id() uuid.UUID { return e.id }

// Size returns the number of commands in the sequence.
func (e *Executor) Size() int { return len(e.commands) }

// Empty reports whether the sequence has no commands.
func (e *Executor) Empty() bool { return len(e.commands) == 0 }

// Mode returns the synchronization mode.
func (e *Executor) Mode() SynchronizationMode { return e.mode }

// Graph returns the dependency graph over the sequence.
func (e *Executor) Graph() *execgraph.Graph { return e.graph }

// BufferUses returns the union of all commands' buffer uses. The owning
// execution unit uses it to decide which allocation indices to track for
// change detection.
func (e *Executor) BufferUses() []buffers.Use { return e.bufferUses }

// AllocsIndices returns the sorted unique allocation indices referenced by
// the sequence.
func (e *Executor) AllocsIndices() []buffers.Index { return e.allocsIndices }

// RequiresInitialization reports whether any command in the sequence must be
// recorded during the mandatory initialization-time record pass.
func (e *Executor) RequiresInitialization() bool {
	return xslices.Any(e.commands, func(cmd Command) bool { return cmd.RequiresInitialization() })
}

// Prepare forwards to every command in sequence order. The first failure
// aborts and is returned.
func (e *Executor) Prepare(requests collectives.ResourceRequests) error {
	for i, cmd := range e.commands {
		if err := cmd.Prepare(requests); err != nil {
			return errors.WithMessagef(err, "preparing command #%d (%s)", i, cmd.CmdType())
		}
	}
	return nil
}

// Initialize forwards to every command in sequence order. The first failure
// aborts and is returned.
func (e *Executor) Initialize(params InitializeParams, state *StateManager) error {
	for i, cmd := range e.commands {
		if err := cmd.Initialize(params, state); err != nil {
			return errors.WithMessagef(err, "initializing command #%d (%s)", i, cmd.CmdType())
		}
	}
	return nil
}

// Record records the sequence into the command buffer, dispatching to
// RecordCreate or RecordUpdate based on the buffer's state. It assumes this
// sequence is the only thing recorded into the buffer and sets up no external
// dependencies.
func (e *Executor) Record(execParams ExecuteParams, recordParams RecordParams, cb backends.CommandBuffer) error {
	switch state := cb.State(); state {
	case backends.StateCreate:
		_, err := e.RecordCreate(execParams, recordParams, cb, nil)
		return err
	case backends.StateUpdate:
		return e.RecordUpdate(execParams, recordParams, cb)
	default:
		return errors.WithStack(&backends.InvalidStateError{Expected: backends.StateCreate, Actual: state})
	}
}

// RecordCreate records every command as a new node, in declaration order
// (which is a valid topological order of the dependency graph, since edges
// only run forward). Source nodes depend on the caller-supplied
// externalDependencies.
//
// It returns the handles of all sink nodes; the caller must pass them as
// externalDependencies of whatever is recorded next into the same command
// buffer, to keep independently built sequences totally ordered.
func (e *Executor) RecordCreate(execParams ExecuteParams, recordParams RecordParams,
	cb backends.CommandBuffer, externalDependencies []backends.Command) ([]backends.Command, error) {
	if err := checkState(cb, backends.StateCreate); err != nil {
		return nil, err
	}
	for id, cmd := range e.commands {
		deps, err := e.dependencies(recordParams, cb, id, externalDependencies)
		if err != nil {
			return nil, err
		}
		handle, err := cmd.Record(execParams, recordParams, RecordCreate{Dependencies: deps}, cb)
		if err != nil {
			return nil, errors.WithMessagef(err, "recording command #%d (%s)", id, cmd.CmdType())
		}
		state := GetOrCreate[recordState](recordParams.State, cmd, cb, StateKindRecordedCommand, nil)
		state.command = handle
	}

	sinks := e.graph.Sinks()
	handles := make([]backends.Command, 0, len(sinks))
	for _, id := range sinks {
		state := GetOrNull[recordState](recordParams.State, e.commands[id], cb, StateKindRecordedCommand)
		handles = append(handles, state.command)
	}
	if klog.V(2).Enabled() {
		klog.Infof("cmdbuf: executor %s recorded %d commands, %d sinks", e.id, len(e.commands), len(handles))
	}
	return handles, nil
}

// RecordUpdate patches previously recorded nodes with this execution's
// parameters, in plain declaration order: dependency edges are fixed once a
// buffer is created, only parameters change.
//
// Commands whose allocation indices don't intersect the updated-allocations
// list are skipped, unless they require initialization-time recording.
func (e *Executor) RecordUpdate(execParams ExecuteParams, recordParams RecordParams, cb backends.CommandBuffer) error {
	if err := checkState(cb, backends.StateUpdate); err != nil {
		return err
	}
	numSkipped := 0
	for id, cmd := range e.commands {
		if e.skipUpdate(recordParams, id, cmd) {
			numSkipped++
			continue
		}
		state := GetOrNull[recordState](recordParams.State, cmd, cb, StateKindRecordedCommand)
		if state == nil || state.command == nil {
			return errors.Errorf("no recorded node for command #%d (%s): the command buffer was never created by this executor", id, cmd.CmdType())
		}
		handle, err := cmd.Record(execParams, recordParams, RecordUpdate{Command: state.command}, cb)
		if err != nil {
			return errors.WithMessagef(err, "updating command #%d (%s)", id, cmd.CmdType())
		}
		state.command = handle
	}
	if klog.V(2).Enabled() {
		klog.Infof("cmdbuf: executor %s updated %d commands, skipped %d", e.id, len(e.commands)-numSkipped, numSkipped)
	}
	return nil
}

// skipUpdate reports whether the command's update can be short-circuited
// because none of its allocation addresses changed. Never true during the
// mandatory initialization pass, nor for commands that require symmetric
// recording across ranks.
func (e *Executor) skipUpdate(recordParams RecordParams, id int, cmd Command) bool {
	if recordParams.IsInitialization {
		return false
	}
	if cmd.RequiresInitialization() {
		return false
	}
	if !recordParams.TrackedUpdates {
		return false
	}
	return !xslices.SortedIntersects(e.cmdAllocsIndices[id], recordParams.UpdatedAllocs)
}

// dependencies returns the native handles a node must depend on: the handles
// of its direct predecessors, or the external dependencies for source nodes.
func (e *Executor) dependencies(recordParams RecordParams, cb backends.CommandBuffer,
	id int, externalDependencies []backends.Command) ([]backends.Command, error) {
	if e.graph.IsSource(id) {
		return externalDependencies, nil
	}
	predecessors := e.graph.Dependencies(id)
	deps := make([]backends.Command, 0, len(predecessors))
	for _, pred := range predecessors {
		state := GetOrNull[recordState](recordParams.State, e.commands[pred], cb, StateKindRecordedCommand)
		if state == nil || state.command == nil {
			return nil, errors.Errorf("command #%d depends on #%d which has not been recorded", id, pred)
		}
		deps = append(deps, state.command)
	}
	return deps, nil
}

func checkState(cb backends.CommandBuffer, expected backends.State) error {
	if actual := cb.State(); actual != expected {
		return errors.WithStack(&backends.InvalidStateError{Expected: expected, Actual: actual})
	}
	return nil
}

func errInvalidRecordAction(action RecordAction) error {
	return errors.Errorf("invalid record action %T", action)
}
