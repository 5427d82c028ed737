// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"encoding/binary"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/backends/backendtest"
	"github.com/gomlx/gpucmd/buffers"
)

// newCaseExecutor builds an executor with one conditional command whose
// branch i fills allocation 1+i with the byte i+1.
func newCaseExecutor(t *testing.T, numBranches int, indexIsBool bool, size int64) *Executor {
	branches := make([]*Executor, numBranches)
	for i := range branches {
		pattern := uint32(i+1) * 0x01010101
		branch, err := NewExecutor(Sequence{
			NewMemset32Cmd(0, fullSlice(buffers.Index(1+i), size), pattern),
		}, SynchronizationAutomatic)
		require.NoError(t, err)
		branches[i] = branch
	}
	caseCmd, err := NewCaseCmd(0, fullSlice(0, 4), indexIsBool, branches)
	require.NoError(t, err)
	e, err := NewExecutor(Sequence{caseCmd}, SynchronizationAutomatic)
	require.NoError(t, err)
	return e
}

func TestCaseCmd(t *testing.T) {
	env := newTestEnv(t)
	const size = 64
	e := newCaseExecutor(t, 3, false, size)

	// The conditional reads the index and writes all three branch buffers.
	require.Equal(t, []buffers.Index{0, 1, 2, 3}, e.AllocsIndices())

	allocs := env.allocate(4, size, size, size)
	index := env.bytesOf(allocs, 0)
	binary.LittleEndian.PutUint32(index, 1)
	cb := env.recordAndRun(e, allocs)
	requireAllBytes(t, env.bytesOf(allocs, 2), 2)
	requireAllBytes(t, env.bytesOf(allocs, 1), 0)

	// The branch choice is read at execution time, not at record time.
	binary.LittleEndian.PutUint32(index, 0)
	require.NoError(t, cb.Execute())
	requireAllBytes(t, env.bytesOf(allocs, 1), 1)

	// Out of range runs the last branch.
	binary.LittleEndian.PutUint32(index, 7)
	require.NoError(t, cb.Execute())
	requireAllBytes(t, env.bytesOf(allocs, 3), 3)
}

func TestCaseCmdBoolIndex(t *testing.T) {
	env := newTestEnv(t)
	const size = 64
	e := newCaseExecutor(t, 2, true, size)

	allocs := env.allocate(4, size, size)
	pred := env.bytesOf(allocs, 0)
	pred[0] = 0
	cb := env.recordAndRun(e, allocs)
	requireAllBytes(t, env.bytesOf(allocs, 1), 1)
	requireAllBytes(t, env.bytesOf(allocs, 2), 0)

	pred[0] = 1
	require.NoError(t, cb.Execute())
	requireAllBytes(t, env.bytesOf(allocs, 2), 2)
}

func TestCaseCmdValidation(t *testing.T) {
	_, err := NewCaseCmd(0, fullSlice(0, 4), false, nil)
	require.Error(t, err)
	branch, err := NewExecutor(Sequence{NewEmptyCmd(0)}, SynchronizationAutomatic)
	require.NoError(t, err)
	_, err = NewCaseCmd(0, fullSlice(0, 4), true, []*Executor{branch})
	require.Error(t, err, "boolean index needs exactly two branches")
}

func TestCaseCmdUpdate(t *testing.T) {
	env := newTestEnv(t)
	const size = 64
	e := newCaseExecutor(t, 2, false, size)

	allocs := env.allocate(4, size, size)
	binary.LittleEndian.PutUint32(env.bytesOf(allocs, 0), 0)
	cb := env.recordAndRun(e, allocs)
	requireAllBytes(t, env.bytesOf(allocs, 1), 1)

	// Re-point branch 0's destination; the branch body is patched in
	// place, no new nodes appear.
	replacement := env.backend.Arena().Allocate(size)
	updated := buffers.NewAllocations([]buffers.DeviceMemory{
		mustMemory(t, allocs, 0),
		replacement,
		mustMemory(t, allocs, 2),
	})
	env.updateAndRun(e, updated, cb, 1)
	requireAllBytes(t, env.bytesOf(updated, 1), 1)
	require.Len(t, cb.Nodes(), 1)
}

func TestWhileCmd(t *testing.T) {
	env := newTestEnv(t)
	const (
		counterSize = 4
		predSize    = 4
	)

	// Kernel-driven countdown loop: the condition kernel derives the
	// predicate from the counter, the body kernel decrements the counter.
	env.backend.RegisterKernel("set_pred", func(arena *backendtest.Arena, dims backends.LaunchDims, args []buffers.DeviceMemory) error {
		counter := must.M1(arena.Bytes(args[0]))
		pred := must.M1(arena.Bytes(args[1]))
		if binary.LittleEndian.Uint32(counter) != 0 {
			binary.LittleEndian.PutUint32(pred, 1)
		} else {
			binary.LittleEndian.PutUint32(pred, 0)
		}
		return nil
	})
	env.backend.RegisterKernel("countdown", func(arena *backendtest.Arena, dims backends.LaunchDims, args []buffers.DeviceMemory) error {
		counter := must.M1(arena.Bytes(args[0]))
		binary.LittleEndian.PutUint32(counter, binary.LittleEndian.Uint32(counter)-1)
		return nil
	})

	counterSlice := fullSlice(0, counterSize)
	predSlice := fullSlice(1, predSize)
	dims := backends.NewLaunchDims(1, 1)

	setPred, err := NewLaunchCmd(0, "set_pred",
		[]buffers.Slice{counterSlice, predSlice},
		[]buffers.MemoryAccess{buffers.AccessRead, buffers.AccessWrite}, dims, 0)
	require.NoError(t, err)
	cond, err := NewExecutor(Sequence{setPred}, SynchronizationAutomatic)
	require.NoError(t, err)

	countdown, err := NewLaunchCmd(0, "countdown",
		[]buffers.Slice{counterSlice},
		[]buffers.MemoryAccess{buffers.AccessReadWrite}, dims, 0)
	require.NoError(t, err)
	body, err := NewExecutor(Sequence{countdown}, SynchronizationAutomatic)
	require.NoError(t, err)

	whileCmd := NewWhileCmd(0, predSlice, cond, body)
	e, err := NewExecutor(Sequence{whileCmd}, SynchronizationAutomatic)
	require.NoError(t, err)

	// The loop aggregates the predicate with the condition and body buffers.
	require.Equal(t, []buffers.Index{0, 1}, e.AllocsIndices())

	require.NoError(t, e.Initialize(InitializeParams{Executor: env.exec}, env.state))

	allocs := env.allocate(counterSize, predSize)
	binary.LittleEndian.PutUint32(env.bytesOf(allocs, 0), 3)
	env.recordAndRun(e, allocs)

	require.Zero(t, binary.LittleEndian.Uint32(env.bytesOf(allocs, 0)), "loop should count down to zero")
	require.Zero(t, binary.LittleEndian.Uint32(env.bytesOf(allocs, 1)))
}
