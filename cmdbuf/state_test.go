// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type countingState struct {
	value int
}

func TestStateManagerGetOrCreate(t *testing.T) {
	env := newTestEnv(t)
	manager := &StateManager{}
	cmd := NewEmptyCmd(0)
	cb := env.newCommandBuffer()

	require.Nil(t, GetOrNull[countingState](manager, cmd, cb, StateKindRecordedCommand))

	created := 0
	state := GetOrCreate(manager, cmd, cb, StateKindRecordedCommand, func() *countingState {
		created++
		return &countingState{value: 42}
	})
	require.Equal(t, 1, created)
	require.Equal(t, 42, state.value)

	// Second access returns the same instance without re-creating.
	again := GetOrCreate(manager, cmd, cb, StateKindRecordedCommand, func() *countingState {
		created++
		return &countingState{}
	})
	require.Equal(t, 1, created)
	require.Same(t, state, again)
	require.Same(t, state, GetOrNull[countingState](manager, cmd, cb, StateKindRecordedCommand))
}

func TestStateManagerKeying(t *testing.T) {
	env := newTestEnv(t)
	manager := &StateManager{}
	cmdA, cmdB := NewEmptyCmd(0), NewEmptyCmd(0)
	cbA, cbB := env.newCommandBuffer(), env.newCommandBuffer()

	stateA := GetOrCreate[countingState](manager, cmdA, cbA, StateKindRecordedCommand, nil)
	stateA.value = 1

	// Different command, command buffer or kind each get independent state.
	require.NotSame(t, stateA, GetOrCreate[countingState](manager, cmdB, cbA, StateKindRecordedCommand, nil))
	require.NotSame(t, stateA, GetOrCreate[countingState](manager, cmdA, cbB, StateKindRecordedCommand, nil))
	require.NotSame(t, stateA, GetOrCreate[countingState](manager, cmdA, cbA, StateKindEmbeddedCommandBuffer, nil))
	require.Equal(t, 1, GetOrCreate[countingState](manager, cmdA, cbA, StateKindRecordedCommand, nil).value)
}

func TestStateManagerNilCreateUsesZeroValue(t *testing.T) {
	env := newTestEnv(t)
	manager := &StateManager{}
	state := GetOrCreate[countingState](manager, NewEmptyCmd(0), env.newCommandBuffer(), StateKindRecordedCommand, nil)
	require.NotNil(t, state)
	require.Zero(t, state.value)
}

func TestStateManagerTypeMismatchPanics(t *testing.T) {
	env := newTestEnv(t)
	manager := &StateManager{}
	cmd := NewEmptyCmd(0)
	cb := env.newCommandBuffer()
	GetOrCreate[countingState](manager, cmd, cb, StateKindRecordedCommand, nil)

	require.Panics(t, func() {
		GetOrNull[recordState](manager, cmd, cb, StateKindRecordedCommand)
	})
}
