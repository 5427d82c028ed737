// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/internal/workerspool"
)

// DeviceSession is the per-device context of one multi-device recording: the
// target executor, its stream and allocations, and the command buffer being
// recorded into. Command buffers must be distinct across sessions; commands
// and the state manager are shared.
type DeviceSession struct {
	Executor      backends.Executor
	Stream        backends.Stream
	TraceStream   backends.Stream
	Allocations   *buffers.Allocations
	CommandBuffer backends.CommandBuffer

	// Comms, ReplicaId and PartitionId of this device's participant.
	Comms       collectives.CommProvider
	ReplicaId   int32
	PartitionId int32
}

func (s *DeviceSession) execParams() ExecuteParams {
	return ExecuteParams{
		Executor:    s.Executor,
		Stream:      s.Stream,
		TraceStream: s.TraceStream,
		Allocations: s.Allocations,
		Comms:       s.Comms,
		ReplicaId:   s.ReplicaId,
		PartitionId: s.PartitionId,
	}
}

// forEachSession runs fn once per session, gated by the pool, and returns the
// first error. A nil pool runs sequentially.
func forEachSession(sessions []DeviceSession, pool *workerspool.Pool, fn func(s *DeviceSession) error) error {
	if pool == nil {
		for i := range sessions {
			if err := fn(&sessions[i]); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i := range sessions {
		session := &sessions[i]
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			if err := fn(session); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return firstErr
}

// InitializeDevices runs Initialize for every session's device, concurrently
// when a pool is given. Initialization is per device, so sessions sharing an
// executor redo no work beyond a cache lookup.
func (e *Executor) InitializeDevices(sessions []DeviceSession, source []byte,
	state *StateManager, pool *workerspool.Pool) error {
	return forEachSession(sessions, pool, func(s *DeviceSession) error {
		err := e.Initialize(InitializeParams{Executor: s.Executor, Source: source}, state)
		return errors.WithMessagef(err, "initializing device %d", s.Executor.DeviceOrdinal())
	})
}

// RecordDevices records the sequence into every session's command buffer,
// concurrently when a pool is given. All sessions share recordParams.State;
// per-session recording state never collides because it is keyed by command
// buffer.
func (e *Executor) RecordDevices(sessions []DeviceSession, recordParams RecordParams,
	pool *workerspool.Pool) error {
	return forEachSession(sessions, pool, func(s *DeviceSession) error {
		err := e.Record(s.execParams(), recordParams, s.CommandBuffer)
		return errors.WithMessagef(err, "recording for device %d", s.Executor.DeviceOrdinal())
	})
}
