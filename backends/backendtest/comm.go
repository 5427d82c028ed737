// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backendtest

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
)

// CliqueRequests records the cliques requested during a prepare pass. It
// implements collectives.ResourceRequests.
type CliqueRequests struct {
	// Keys of the requested cliques, in request order.
	Keys []collectives.CliqueKey
}

var _ collectives.ResourceRequests = (*CliqueRequests)(nil)

// RequestClique implements collectives.ResourceRequests.
func (r *CliqueRequests) RequestClique(key collectives.CliqueKey) error {
	r.Keys = append(r.Keys, key)
	return nil
}

// LoopbackComms provides single-rank communicators: every collective
// degenerates to copying each send buffer into its recv buffer. The copies
// are issued on the given stream, so traced recordings capture them.
type LoopbackComms struct{}

var _ collectives.CommProvider = LoopbackComms{}

// Comm implements collectives.CommProvider.
func (LoopbackComms) Comm(key collectives.CliqueKey) (collectives.Comm, error) {
	return loopbackComm{}, nil
}

type loopbackComm struct{}

func copyPair(stream backends.Stream, send, recv buffers.DeviceMemory) error {
	if send.Size != recv.Size {
		return errors.Errorf("send buffer %s and recv buffer %s differ in size", send, recv)
	}
	return stream.MemcpyDeviceToDevice(recv, send, send.Size)
}

// AllReduce implements collectives.Comm.
func (loopbackComm) AllReduce(stream backends.Stream, kind collectives.ReductionKind, send, recv buffers.DeviceMemory) error {
	return copyPair(stream, send, recv)
}

// ReduceScatter implements collectives.Comm.
func (loopbackComm) ReduceScatter(stream backends.Stream, kind collectives.ReductionKind, send, recv buffers.DeviceMemory) error {
	return copyPair(stream, send, recv)
}

// AllGather implements collectives.Comm.
func (loopbackComm) AllGather(stream backends.Stream, send, recv buffers.DeviceMemory) error {
	return copyPair(stream, send, recv)
}

// AllToAll implements collectives.Comm.
func (loopbackComm) AllToAll(stream backends.Stream, send, recv []buffers.DeviceMemory) error {
	if len(send) != len(recv) {
		return errors.Errorf("all-to-all with %d send buffers and %d recv buffers", len(send), len(recv))
	}
	for i := range send {
		if err := copyPair(stream, send[i], recv[i]); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast implements collectives.Comm.
func (loopbackComm) Broadcast(stream backends.Stream, send, recv buffers.DeviceMemory, root collectives.RankId) error {
	return copyPair(stream, send, recv)
}
