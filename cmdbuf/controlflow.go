// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// CaseCmd records a conditional node selecting one of several branch
// sequences based on a device-resident index. Each branch is a full executor
// recorded into its own backend-provided nested buffer.
type CaseCmd struct {
	cmdBase
	index       buffers.Slice
	indexIsBool bool
	branches    []*Executor
}

// NewCaseCmd creates a conditional command. If indexIsBool the index is a
// 1-byte predicate and there must be exactly two branches (false, true);
// otherwise it is an int32 selector and out-of-range values run the last
// branch.
func NewCaseCmd(streamId collectives.ExecutionStreamId, index buffers.Slice,
	indexIsBool bool, branches []*Executor, resourceUses ...resources.Use) (*CaseCmd, error) {
	if len(branches) == 0 {
		return nil, errors.New("conditional command needs at least one branch")
	}
	if indexIsBool && len(branches) != 2 {
		return nil, errors.Errorf("boolean conditional needs exactly 2 branches, got %d", len(branches))
	}
	return &CaseCmd{
		cmdBase:     newCmdBase(CmdTypeCase, streamId, resourceUses),
		index:       index,
		indexIsBool: indexIsBool,
		branches:    branches,
	}, nil
}

// BufferUses implements Command: the index read plus everything the branches
// touch, so address-change detection sees through the nesting.
func (c *CaseCmd) BufferUses() []buffers.Use {
	uses := []buffers.Use{buffers.Read(c.index)}
	for _, branch := range c.branches {
		uses = append(uses, branch.BufferUses()...)
	}
	return uses
}

// RequiresInitialization implements Command: true if any branch contains a
// command that must be recorded symmetrically across ranks.
func (c *CaseCmd) RequiresInitialization() bool {
	for _, branch := range c.branches {
		if branch.RequiresInitialization() {
			return true
		}
	}
	return false
}

// Prepare implements Command.
func (c *CaseCmd) Prepare(requests collectives.ResourceRequests) error {
	for i, branch := range c.branches {
		if err := branch.Prepare(requests); err != nil {
			return errors.WithMessagef(err, "preparing branch #%d", i)
		}
	}
	return nil
}

// Initialize implements Command.
func (c *CaseCmd) Initialize(params InitializeParams, state *StateManager) error {
	for i, branch := range c.branches {
		if err := branch.Initialize(params, state); err != nil {
			return errors.WithMessagef(err, "initializing branch #%d", i)
		}
	}
	return nil
}

// Record implements Command.
func (c *CaseCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	index, err := execParams.Allocations.Resolve(c.index)
	if err != nil {
		return nil, err
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateCase(deps, index, c.indexIsBool, c.branchBodies(execParams, recordParams), c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateCase(cmd, index, c.branchBodies(execParams, recordParams))
		})
}

// branchBodies returns one recording closure per branch. The backend invokes
// each against the branch's nested buffer, whose state determines whether the
// branch is created or patched.
func (c *CaseCmd) branchBodies(execParams ExecuteParams, recordParams RecordParams) []backends.BodyFn {
	bodies := make([]backends.BodyFn, len(c.branches))
	for i, branch := range c.branches {
		bodies[i] = func(nested backends.CommandBuffer) error {
			return branch.Record(execParams, recordParams, nested)
		}
	}
	return bodies
}

// WhileCmd records a loop node: cond writes the predicate, then body runs
// and cond re-evaluates while the predicate holds.
type WhileCmd struct {
	cmdBase
	pred       buffers.Slice
	cond, body *Executor
}

// NewWhileCmd creates a loop command. pred must be written by the cond
// sequence on every evaluation.
func NewWhileCmd(streamId collectives.ExecutionStreamId, pred buffers.Slice,
	cond, body *Executor, resourceUses ...resources.Use) *WhileCmd {
	return &WhileCmd{
		cmdBase: newCmdBase(CmdTypeWhile, streamId, resourceUses),
		pred:    pred,
		cond:    cond,
		body:    body,
	}
}

// BufferUses implements Command.
func (c *WhileCmd) BufferUses() []buffers.Use {
	uses := []buffers.Use{buffers.Write(c.pred)}
	uses = append(uses, c.cond.BufferUses()...)
	uses = append(uses, c.body.BufferUses()...)
	return uses
}

// RequiresInitialization implements Command.
func (c *WhileCmd) RequiresInitialization() bool {
	return c.cond.RequiresInitialization() || c.body.RequiresInitialization()
}

// Prepare implements Command.
func (c *WhileCmd) Prepare(requests collectives.ResourceRequests) error {
	if err := c.cond.Prepare(requests); err != nil {
		return errors.WithMessage(err, "preparing loop condition")
	}
	if err := c.body.Prepare(requests); err != nil {
		return errors.WithMessage(err, "preparing loop body")
	}
	return nil
}

// Initialize implements Command.
func (c *WhileCmd) Initialize(params InitializeParams, state *StateManager) error {
	if err := c.cond.Initialize(params, state); err != nil {
		return errors.WithMessage(err, "initializing loop condition")
	}
	if err := c.body.Initialize(params, state); err != nil {
		return errors.WithMessage(err, "initializing loop body")
	}
	return nil
}

// Record implements Command.
func (c *WhileCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	pred, err := execParams.Allocations.Resolve(c.pred)
	if err != nil {
		return nil, err
	}
	condBody := func(nested backends.CommandBuffer) error {
		return c.cond.Record(execParams, recordParams, nested)
	}
	loopBody := func(nested backends.CommandBuffer) error {
		return c.body.Record(execParams, recordParams, nested)
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateWhile(deps, pred, condBody, loopBody, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateWhile(cmd, pred, condBody, loopBody)
		})
}
