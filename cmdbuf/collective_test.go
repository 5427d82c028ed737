// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
)

func singleRankConfig() collectives.Config {
	return collectives.Config{
		Key:      collectives.CliqueKey{Ranks: "0", StreamId: collectives.StreamId(false, 0)},
		Rank:     0,
		NumRanks: 1,
	}
}

func TestCollectiveCmdProperties(t *testing.T) {
	pairs := []collectives.BufferPair{{Send: fullSlice(0, 32), Recv: fullSlice(1, 32)}}
	cmd := NewAllReduceCmd(0, 0, singleRankConfig(), collectives.ReductionSum, pairs)

	require.True(t, cmd.RequiresInitialization())
	require.True(t, cmd.IsNestedCommandBuffer())
	require.False(t, cmd.IsAsync())
	require.Equal(t, []buffers.Use{
		buffers.Read(fullSlice(0, 32)),
		buffers.Write(fullSlice(1, 32)),
	}, cmd.BufferUses())

	async := NewAllGatherCmd(1, 0, singleRankConfig(), pairs)
	require.True(t, async.IsAsync())
}

func TestCollectiveCmdsExecute(t *testing.T) {
	env := newTestEnv(t)
	const size = 32
	config := singleRankConfig()
	pairs := func(send, recv buffers.Index) []collectives.BufferPair {
		return []collectives.BufferPair{{Send: fullSlice(send, size), Recv: fullSlice(recv, size)}}
	}

	broadcast := NewCollectiveBroadcastCmd(0, 0, config, 0, pairs(0, 1))
	reduceScatter := NewReduceScatterCmd(0, 0, config, collectives.ReductionMax, pairs(1, 2))
	allToAll, err := NewAllToAllCmd(0, 0, config, false, pairs(2, 3))
	require.NoError(t, err)

	e, err := NewExecutor(Sequence{broadcast, reduceScatter, allToAll}, SynchronizationAutomatic)
	require.NoError(t, err)

	// Chained through the shared buffers: broadcast -> reduce-scatter -> all-to-all.
	require.Equal(t, 2, e.Graph().NumEdges())

	allocs := env.allocate(size, size, size, size)
	src := env.bytesOf(allocs, 0)
	for i := range src {
		src[i] = 0x33
	}
	env.recordAndRun(e, allocs)
	requireAllBytes(t, env.bytesOf(allocs, 3), 0x33)
}

func TestAllToAllCmdValidation(t *testing.T) {
	config := singleRankConfig()
	config.NumRanks = 2

	// Without a split dimension the pair count must match the rank count.
	_, err := NewAllToAllCmd(0, 0, config, false,
		[]collectives.BufferPair{{Send: fullSlice(0, 32), Recv: fullSlice(1, 32)}})
	require.Error(t, err)

	// With a split dimension there must be exactly one pair.
	_, err = NewAllToAllCmd(0, 0, config, true,
		[]collectives.BufferPair{
			{Send: fullSlice(0, 32), Recv: fullSlice(1, 32)},
			{Send: fullSlice(2, 32), Recv: fullSlice(3, 32)},
		})
	require.Error(t, err)
}
