// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
)

// DefaultTracedCacheCapacity is the default number of traced command buffers
// kept per command.
const DefaultTracedCacheCapacity = 16

// TracedCommandBuffer is a most-recently-used cache of command buffers
// captured by tracing stream activity, keyed by the concrete device addresses
// the command touched at trace time.
//
// In practice subsequent executions tend to reuse the same allocations, so a
// small exact-match cache avoids nearly all re-tracing. Key equality is
// positional and exact: the same allocation slot must resolve to the same
// address, no partial matching.
//
// One cache exists per (command, command buffer), owned by the external state
// manager; it is not safe for concurrent use on its own.
type TracedCommandBuffer struct {
	traceCmd Command

	// allocsIndices are the command's touched allocation indices, in
	// buffer-use declaration order.
	allocsIndices []buffers.Index

	capacity int

	// entries are kept in most-recently-used order, front first.
	entries []*tracedEntry
}

type tracedEntry struct {
	recordedAllocs []buffers.DeviceMemory
	commandBuffer  backends.CommandBuffer
}

// NewTracedCommandBuffer creates a cache for the given command over its
// declared buffer uses. A capacity <= 0 selects DefaultTracedCacheCapacity.
func NewTracedCommandBuffer(traceCmd Command, uses []buffers.Use, capacity int) *TracedCommandBuffer {
	if capacity <= 0 {
		capacity = DefaultTracedCacheCapacity
	}
	allocsIndices := make([]buffers.Index, len(uses))
	for i, use := range uses {
		allocsIndices[i] = use.Slice.Index
	}
	return &TracedCommandBuffer{
		traceCmd:      traceCmd,
		allocsIndices: allocsIndices,
		capacity:      capacity,
	}
}

// GetOrTraceCommandBuffer returns the cached command buffer traced with the
// same device addresses, or calls trace against the stream to capture a new
// one, caching it and evicting the least-recently-used entry if the cache is
// over capacity. Tracing blocks the calling goroutine until capture completes.
func (t *TracedCommandBuffer) GetOrTraceCommandBuffer(allocations *buffers.Allocations,
	executor backends.Executor, stream backends.Stream,
	trace func(backends.Stream) error, priority backends.StreamPriority) (backends.CommandBuffer, error) {

	observed := make([]buffers.DeviceMemory, len(t.allocsIndices))
	var totalBytes uint64
	for i, index := range t.allocsIndices {
		mem, err := allocations.Memory(index)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving allocation #%d for traced command", index)
		}
		observed[i] = mem
		totalBytes += uint64(mem.Size)
	}

	for i, entry := range t.entries {
		if slices.Equal(entry.recordedAllocs, observed) {
			// Move to front to keep the most-recently-used order.
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			t.entries = append([]*tracedEntry{entry}, t.entries...)
			klog.V(2).Infof("cmdbuf: traced %s hit cache entry #%d", t.traceCmd.CmdType(), i)
			return entry.commandBuffer, nil
		}
	}

	traced, err := executor.Trace(stream, priority, trace)
	if err != nil {
		return nil, errors.WithMessagef(err, "tracing %s command", t.traceCmd.CmdType())
	}
	t.entries = append([]*tracedEntry{{recordedAllocs: observed, commandBuffer: traced}}, t.entries...)
	if len(t.entries) > t.capacity {
		t.entries = t.entries[:t.capacity]
	}
	klog.V(2).Infof("cmdbuf: traced %s over %s of buffers, cache has %d entries",
		t.traceCmd.CmdType(), humanize.Bytes(totalBytes), len(t.entries))
	return traced, nil
}

// recordTracedCommand captures the owner's device activity via trace (cached
// in the owner's TracedCommandBuffer state) and records the captured buffer
// as a nested node.
func recordTracedCommand(owner Command, execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer, trace func(backends.Stream) error) (backends.Command, error) {
	cache := GetOrCreate(recordParams.State, owner, cb, StateKindTracedCommandBuffer,
		func() *TracedCommandBuffer {
			return NewTracedCommandBuffer(owner, owner.BufferUses(), DefaultTracedCacheCapacity)
		})
	nested, err := cache.GetOrTraceCommandBuffer(execParams.Allocations, execParams.Executor,
		execParams.traceStream(), trace, owner.Priority())
	if err != nil {
		return nil, err
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateNested(deps, nested, owner.Priority())
		},
		func(cmd backends.Command) error {
			return cb.UpdateNested(cmd, nested)
		})
}
