// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collectives defines the interface to the collective-communication
// subsystem: clique formation, communicators and the device-level collective
// operations that collective commands delegate to.
//
// The engine is only responsible for correct recording and update sequencing
// of collective commands; everything about how ranks talk to each other lives
// behind the interfaces in this package.
package collectives

import (
	"fmt"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
)

// ReductionKind enumerates the element-wise reductions supported by
// collective operations.
type ReductionKind int

const (
	ReductionSum ReductionKind = iota
	ReductionProduct
	ReductionMin
	ReductionMax
)

var reductionNames = [...]string{"sum", "product", "min", "max"}

// String implements fmt.Stringer.
func (k ReductionKind) String() string {
	if k < 0 || int(k) >= len(reductionNames) {
		return fmt.Sprintf("ReductionKind(%d)", int(k))
	}
	return reductionNames[k]
}

// RankId is the global rank of a participant in a clique.
type RankId int

// CliqueKey identifies the group of ranks a collective operates over. Keys
// are derived from the program's replica groups and a collective stream id,
// so independent collectives can use independent cliques.
type CliqueKey struct {
	// Ranks participating, sorted.
	Ranks string

	// StreamId separates cliques used by async collectives on different
	// collective streams.
	StreamId CollectiveStreamId
}

// Config carries the clique configuration of one collective command.
type Config struct {
	// Key of the clique this command communicates over.
	Key CliqueKey

	// Rank of the local participant within the clique.
	Rank RankId

	// NumRanks in the clique.
	NumRanks int
}

// BufferPair is one send/receive pairing of a collective. ElementCount and
// dtype interpretation are carried by the surrounding program; the engine
// only resolves the addresses.
type BufferPair struct {
	Send, Recv buffers.Slice
}

// ResourceRequests is the Prepare-time interface through which commands ask
// for shared resources. Requesting a clique may block on multi-process
// rendezvous; first error aborts the prepare pass.
type ResourceRequests interface {
	// RequestClique asks for the clique with the given key to be formed
	// before any recording happens.
	RequestClique(key CliqueKey) error
}

// Comm is a live communicator for one clique on one device. Its operations
// are issued on a stream during trace capture.
type Comm interface {
	AllReduce(stream backends.Stream, kind ReductionKind, send, recv buffers.DeviceMemory) error
	ReduceScatter(stream backends.Stream, kind ReductionKind, send, recv buffers.DeviceMemory) error
	AllGather(stream backends.Stream, send, recv buffers.DeviceMemory) error
	AllToAll(stream backends.Stream, send, recv []buffers.DeviceMemory) error
	Broadcast(stream backends.Stream, send, recv buffers.DeviceMemory, root RankId) error
}

// CommProvider resolves the communicator for a clique at record time. It is
// implemented by the runtime that satisfied the Prepare-time clique requests.
type CommProvider interface {
	Comm(key CliqueKey) (Comm, error)
}

// ExecutionStreamId identifies the logical submission stream a command
// belongs to within its program.
type ExecutionStreamId int

// AsyncStreamKind distinguishes the dedicated streams async collectives run on.
type AsyncStreamKind int

const (
	// AsyncStreamCollective is the stream kind used by communication collectives.
	AsyncStreamCollective AsyncStreamKind = iota

	// AsyncStreamMemcpy is the stream kind used by peer-to-peer copies.
	AsyncStreamMemcpy
)

// CollectiveStreamId identifies the stream collectives of one kind run on.
type CollectiveStreamId int

// StreamId derives the collective stream id: synchronous collectives share
// stream 0 with the main program, async ones get a per-kind stream.
func StreamId(isAsync bool, kind AsyncStreamKind) CollectiveStreamId {
	if !isAsync {
		return 0
	}
	return CollectiveStreamId(1 + int(kind))
}
