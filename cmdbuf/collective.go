// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
)

// collectiveBase carries what all collective commands share: the clique
// configuration, the buffer pairs and the stream the collective was made
// async from.
//
// Collective commands always require initialization-time recording: if some
// ranks skipped an update that others performed, the per-rank recordings
// diverge and the clique deadlocks. They always record as traced nested
// command buffers, since communicator calls are only capturable on a stream.
type collectiveBase struct {
	cmdBase
	config    collectives.Config
	pairs     []collectives.BufferPair
	asyncFrom collectives.ExecutionStreamId
}

func newCollectiveBase(cmdType CmdType, streamId collectives.ExecutionStreamId,
	asyncFrom collectives.ExecutionStreamId, config collectives.Config,
	pairs []collectives.BufferPair, resourceUses []resources.Use) collectiveBase {
	return collectiveBase{
		cmdBase:   newCmdBase(cmdType, streamId, resourceUses),
		config:    config,
		pairs:     pairs,
		asyncFrom: asyncFrom,
	}
}

// BufferUses implements Command.
func (c *collectiveBase) BufferUses() []buffers.Use {
	uses := make([]buffers.Use, 0, 2*len(c.pairs))
	for _, pair := range c.pairs {
		uses = append(uses, buffers.Read(pair.Send), buffers.Write(pair.Recv))
	}
	return uses
}

// RequiresInitialization implements Command.
func (c *collectiveBase) RequiresInitialization() bool { return true }

// IsNestedCommandBuffer implements Command.
func (c *collectiveBase) IsNestedCommandBuffer() bool { return true }

// IsAsync reports whether the collective runs asynchronously with respect to
// the stream it was issued from.
func (c *collectiveBase) IsAsync() bool { return c.asyncFrom != c.executionStreamId }

// Config returns the clique configuration.
func (c *collectiveBase) Config() collectives.Config { return c.config }

// Prepare implements Command: it asks for the clique to be formed before any
// recording. May block on multi-process rendezvous.
func (c *collectiveBase) Prepare(requests collectives.ResourceRequests) error {
	return requests.RequestClique(c.config.Key)
}

// comm resolves the live communicator for this command's clique.
func (c *collectiveBase) comm(execParams ExecuteParams) (collectives.Comm, error) {
	if execParams.Comms == nil {
		return nil, errors.Errorf("%s requires a communicator provider in the execute params", c.cmdType)
	}
	comm, err := execParams.Comms.Comm(c.config.Key)
	if err != nil {
		return nil, errors.WithMessagef(err, "resolving communicator for %s", c.cmdType)
	}
	return comm, nil
}

// resolvePairs resolves all buffer pairs to device addresses.
func (c *collectiveBase) resolvePairs(allocations *buffers.Allocations) (send, recv []buffers.DeviceMemory, err error) {
	send = make([]buffers.DeviceMemory, len(c.pairs))
	recv = make([]buffers.DeviceMemory, len(c.pairs))
	for i, pair := range c.pairs {
		send[i], err = allocations.Resolve(pair.Send)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "resolving send buffer #%d", i)
		}
		recv[i], err = allocations.Resolve(pair.Recv)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "resolving recv buffer #%d", i)
		}
	}
	return send, recv, nil
}

// AllReduceCmd records an all-reduce over the clique: every rank contributes
// its send buffers and receives the element-wise reduction.
type AllReduceCmd struct {
	collectiveBase
	reduction collectives.ReductionKind
}

// NewAllReduceCmd creates an all-reduce command.
func NewAllReduceCmd(streamId, asyncFrom collectives.ExecutionStreamId, config collectives.Config,
	reduction collectives.ReductionKind, pairs []collectives.BufferPair, resourceUses ...resources.Use) *AllReduceCmd {
	return &AllReduceCmd{
		collectiveBase: newCollectiveBase(CmdTypeAllReduce, streamId, asyncFrom, config, pairs, resourceUses),
		reduction:      reduction,
	}
}

// Record implements Command.
func (c *AllReduceCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	comm, err := c.comm(execParams)
	if err != nil {
		return nil, err
	}
	send, recv, err := c.resolvePairs(execParams.Allocations)
	if err != nil {
		return nil, err
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			for i := range send {
				if err := comm.AllReduce(stream, c.reduction, send[i], recv[i]); err != nil {
					return err
				}
			}
			return nil
		})
}

// ReduceScatterCmd records a reduce-scatter: the reduction result is split
// across ranks, each receiving its shard.
type ReduceScatterCmd struct {
	collectiveBase
	reduction collectives.ReductionKind
}

// NewReduceScatterCmd creates a reduce-scatter command.
func NewReduceScatterCmd(streamId, asyncFrom collectives.ExecutionStreamId, config collectives.Config,
	reduction collectives.ReductionKind, pairs []collectives.BufferPair, resourceUses ...resources.Use) *ReduceScatterCmd {
	return &ReduceScatterCmd{
		collectiveBase: newCollectiveBase(CmdTypeReduceScatter, streamId, asyncFrom, config, pairs, resourceUses),
		reduction:      reduction,
	}
}

// Record implements Command.
func (c *ReduceScatterCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	comm, err := c.comm(execParams)
	if err != nil {
		return nil, err
	}
	send, recv, err := c.resolvePairs(execParams.Allocations)
	if err != nil {
		return nil, err
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			for i := range send {
				if err := comm.ReduceScatter(stream, c.reduction, send[i], recv[i]); err != nil {
					return err
				}
			}
			return nil
		})
}

// AllGatherCmd records an all-gather: every rank's send buffer is
// concatenated into every rank's recv buffer.
type AllGatherCmd struct {
	collectiveBase
}

// NewAllGatherCmd creates an all-gather command.
func NewAllGatherCmd(streamId, asyncFrom collectives.ExecutionStreamId, config collectives.Config,
	pairs []collectives.BufferPair, resourceUses ...resources.Use) *AllGatherCmd {
	return &AllGatherCmd{
		collectiveBase: newCollectiveBase(CmdTypeAllGather, streamId, asyncFrom, config, pairs, resourceUses),
	}
}

// Record implements Command.
func (c *AllGatherCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	comm, err := c.comm(execParams)
	if err != nil {
		return nil, err
	}
	send, recv, err := c.resolvePairs(execParams.Allocations)
	if err != nil {
		return nil, err
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			for i := range send {
				if err := comm.AllGather(stream, send[i], recv[i]); err != nil {
					return err
				}
			}
			return nil
		})
}

// AllToAllCmd records an all-to-all exchange. With a split dimension the
// exchange shards a single buffer pair; without one there must be exactly
// NumRanks pairs, one per peer.
type AllToAllCmd struct {
	collectiveBase
	hasSplitDimension bool
}

// NewAllToAllCmd creates an all-to-all command.
func NewAllToAllCmd(streamId, asyncFrom collectives.ExecutionStreamId, config collectives.Config,
	hasSplitDimension bool, pairs []collectives.BufferPair, resourceUses ...resources.Use) (*AllToAllCmd, error) {
	if !hasSplitDimension && len(pairs) != config.NumRanks {
		return nil, errors.Errorf("all-to-all without split dimension needs one buffer pair per rank: got %d pairs for %d ranks",
			len(pairs), config.NumRanks)
	}
	if hasSplitDimension && len(pairs) != 1 {
		return nil, errors.Errorf("all-to-all with split dimension needs exactly one buffer pair, got %d", len(pairs))
	}
	return &AllToAllCmd{
		collectiveBase:    newCollectiveBase(CmdTypeAllToAll, streamId, asyncFrom, config, pairs, resourceUses),
		hasSplitDimension: hasSplitDimension,
	}, nil
}

// Record implements Command.
func (c *AllToAllCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	comm, err := c.comm(execParams)
	if err != nil {
		return nil, err
	}
	send, recv, err := c.resolvePairs(execParams.Allocations)
	if err != nil {
		return nil, err
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			return comm.AllToAll(stream, send, recv)
		})
}

// CollectiveBroadcastCmd records a broadcast of the root rank's send buffers
// to every rank's recv buffers.
type CollectiveBroadcastCmd struct {
	collectiveBase
	root collectives.RankId
}

// NewCollectiveBroadcastCmd creates a broadcast command.
func NewCollectiveBroadcastCmd(streamId, asyncFrom collectives.ExecutionStreamId, config collectives.Config,
	root collectives.RankId, pairs []collectives.BufferPair, resourceUses ...resources.Use) *CollectiveBroadcastCmd {
	return &CollectiveBroadcastCmd{
		collectiveBase: newCollectiveBase(CmdTypeCollectiveBroadcast, streamId, asyncFrom, config, pairs, resourceUses),
		root:           root,
	}
}

// Record implements Command.
func (c *CollectiveBroadcastCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	comm, err := c.comm(execParams)
	if err != nil {
		return nil, err
	}
	send, recv, err := c.resolvePairs(execParams.Allocations)
	if err != nil {
		return nil, err
	}
	return recordTracedCommand(c, execParams, recordParams, action, cb,
		func(stream backends.Stream) error {
			for i := range send {
				if err := comm.Broadcast(stream, send[i], recv[i], c.root); err != nil {
					return err
				}
			}
			return nil
		})
}
