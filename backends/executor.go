// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gpucmd/buffers"
)

// Executor is a single device of a backend. The engine uses it as the key for
// per-device caches (loaded kernels), so implementations must be comparable --
// in practice a pointer to the backend's device object.
//
// Executors must be safe for concurrent use: the same command sequence can be
// recorded for several devices in parallel.
type Executor interface {
	// DeviceOrdinal returns the device number of this executor within its backend.
	DeviceOrdinal() DeviceNum

	// Platform returns the platform name, e.g. "cuda" or "rocm".
	Platform() string

	// LoadKernel loads a kernel with the given name from the executable
	// binary image onto this device. Loading is expensive and the engine
	// caches the result per executor.
	LoadKernel(name string, binary []byte) (Kernel, error)

	// CreateCommandBuffer creates a new empty native command buffer in
	// create state.
	CreateCommandBuffer() (CommandBuffer, error)

	// Trace runs the given function against a tracing stream and captures
	// all device operations issued to it into a new finalized command
	// buffer. It blocks until tracing completes.
	Trace(stream Stream, priority StreamPriority, fn func(Stream) error) (CommandBuffer, error)
}

// Kernel is a device-loaded kernel handle, owned by the backend.
type Kernel interface {
	// Name of the kernel, as it was loaded.
	Name() string
}

// LaunchDims describes the grid of a kernel launch.
type LaunchDims struct {
	// BlockCounts is the number of thread blocks per grid dimension.
	BlockCounts [3]uint64

	// ThreadCounts is the number of threads per block dimension.
	ThreadCounts [3]uint64
}

// NewLaunchDims returns 1-D launch dimensions.
func NewLaunchDims(blocks, threadsPerBlock uint64) LaunchDims {
	return LaunchDims{
		BlockCounts:  [3]uint64{blocks, 1, 1},
		ThreadCounts: [3]uint64{threadsPerBlock, 1, 1},
	}
}

// GemmConfig describes a library-backed matrix multiplication issued on a
// stream during tracing. Layout details beyond the basic dimensions are
// backend specific and carried opaquely by Epilogue.
type GemmConfig struct {
	DType         dtypes.DType
	M, N, K       int64
	Alpha, Beta   float64
	Deterministic bool

	// Epilogue is an optional backend-specific fused epilogue descriptor.
	Epilogue any
}

// Stream is an ordered submission queue on a device. Traced commands issue
// device operations on a stream while the backend captures them; the engine
// itself never submits work for immediate execution.
type Stream interface {
	// Memset32 fills dst with the 4-byte pattern.
	Memset32(dst buffers.DeviceMemory, pattern uint32) error

	// MemZero zeroes dst.
	MemZero(dst buffers.DeviceMemory) error

	// MemcpyDeviceToDevice copies numBytes from src to dst.
	MemcpyDeviceToDevice(dst, src buffers.DeviceMemory, numBytes int64) error

	// MemcpyDeviceToHost copies the src device range into the host buffer.
	// It blocks until the copy is complete.
	MemcpyDeviceToHost(dst []byte, src buffers.DeviceMemory) error

	// Gemm issues a library-backed matmul out = alpha*lhs*rhs + beta*out.
	// The workspace may be null if the config doesn't require one.
	Gemm(config GemmConfig, lhs, rhs, out, workspace buffers.DeviceMemory) error

	// MatmulLt issues a matmul with the fused epilogue described by
	// config.Epilogue, which must be set. bias and aux may be null when
	// the epilogue doesn't read a bias or produce an auxiliary output.
	MatmulLt(config GemmConfig, lhs, rhs, out, bias, aux, workspace buffers.DeviceMemory) error

	// FusedGraph issues a backend-compiled fused operation graph with the
	// given operand addresses. The graph handle is backend specific.
	FusedGraph(graph any, operands []buffers.DeviceMemory) error
}
