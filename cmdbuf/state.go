// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"fmt"
	"sync"

	"github.com/gomlx/gpucmd/backends"
)

// StateKind distinguishes the kinds of state a command can attach to a
// command buffer. Together with the static type at the call site it replaces
// a runtime type registry.
type StateKind int

const (
	// StateKindRecordedCommand stores the native handle of a recorded node.
	StateKindRecordedCommand StateKind = iota

	// StateKindTracedCommandBuffer stores a command's traced-buffer cache.
	StateKindTracedCommandBuffer

	// StateKindEmbeddedCommandBuffer stores the nested command buffer of a
	// command with an embedded sequence.
	StateKindEmbeddedCommandBuffer
)

// StateManager owns per-(command, command buffer, kind) state.
//
// The same command can be recorded into many command buffers, which come and
// go as they are evicted and reconstructed; keeping that state inside each
// command would require per-command locking on every record call. The manager
// is owned by whoever owns the command buffer, so entries die with it.
//
// The zero value is ready to use.
type StateManager struct {
	mu     sync.Mutex
	states map[stateKey]any
}

type stateKey struct {
	cmd  Command
	cb   backends.CommandBuffer
	kind StateKind
}

func (m *StateManager) getOrNull(key stateKey) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key]
}

func (m *StateManager) getOrCreate(key stateKey, create func() any) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, found := m.states[key]; found {
		return state
	}
	if m.states == nil {
		m.states = make(map[stateKey]any)
	}
	state := create()
	m.states[key] = state
	return state
}

// GetOrNull returns the state of the given kind attached to (cmd, cb), or nil
// if none was created yet. It panics if the stored state has a different type
// than requested -- mixing types under one kind is a programming error.
func GetOrNull[T any](m *StateManager, cmd Command, cb backends.CommandBuffer, kind StateKind) *T {
	state := m.getOrNull(stateKey{cmd: cmd, cb: cb, kind: kind})
	if state == nil {
		return nil
	}
	typed, ok := state.(*T)
	if !ok {
		panic(fmt.Sprintf("command state for kind %d holds %T, requested %T", kind, state, typed))
	}
	return typed
}

// GetOrCreate returns the state of the given kind attached to (cmd, cb),
// creating it with create on first access. If create is nil the zero value of
// T is used.
func GetOrCreate[T any](m *StateManager, cmd Command, cb backends.CommandBuffer, kind StateKind, create func() *T) *T {
	state := m.getOrCreate(stateKey{cmd: cmd, cb: cb, kind: kind}, func() any {
		if create == nil {
			return new(T)
		}
		return create()
	})
	typed, ok := state.(*T)
	if !ok {
		panic(fmt.Sprintf("command state for kind %d holds %T, requested %T", kind, state, typed))
	}
	return typed
}
