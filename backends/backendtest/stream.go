// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backendtest

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
)

// Executor is one fake device. All devices of a backend share the arena.
type Executor struct {
	backend *Backend
	ordinal backends.DeviceNum
}

var _ backends.Executor = (*Executor)(nil)

// DeviceOrdinal implements backends.Executor.
func (e *Executor) DeviceOrdinal() backends.DeviceNum { return e.ordinal }

// Platform implements backends.Executor.
func (e *Executor) Platform() string { return BackendName }

// LoadKernel implements backends.Executor. Any name loads; the host
// implementation is looked up at execution time.
func (e *Executor) LoadKernel(name string, image []byte) (backends.Kernel, error) {
	return &Kernel{name: name}, nil
}

// CreateCommandBuffer implements backends.Executor.
func (e *Executor) CreateCommandBuffer() (backends.CommandBuffer, error) {
	return &CommandBuffer{backend: e.backend}, nil
}

// Trace implements backends.Executor: stream operations issued by fn are
// captured as nodes of a new finalized command buffer instead of executing.
func (e *Executor) Trace(stream backends.Stream, priority backends.StreamPriority,
	fn func(backends.Stream) error) (backends.CommandBuffer, error) {
	cb := &CommandBuffer{backend: e.backend}
	if err := fn(&traceStream{backend: e.backend, cb: cb, priority: priority}); err != nil {
		return nil, err
	}
	if err := cb.Finalize(); err != nil {
		return nil, err
	}
	return cb, nil
}

// NewStream returns a stream executing operations immediately against the
// backend's arena.
func (e *Executor) NewStream() backends.Stream {
	return &directStream{backend: e.backend}
}

// Kernel is a fake loaded kernel. It only carries the name used to look up
// the registered host implementation.
type Kernel struct {
	name string
}

// Name implements backends.Kernel.
func (k *Kernel) Name() string { return k.name }

// directStream executes operations synchronously on the arena.
type directStream struct {
	backend *Backend
}

var _ backends.Stream = (*directStream)(nil)

// Memset32 implements backends.Stream.
func (s *directStream) Memset32(dst buffers.DeviceMemory, pattern uint32) error {
	if dst.Size%4 != 0 {
		return errors.Errorf("memset32 destination size %d is not a multiple of 4", dst.Size)
	}
	data, err := s.backend.Arena().Bytes(dst)
	if err != nil {
		return err
	}
	for i := 0; i < len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:], pattern)
	}
	return nil
}

// MemZero implements backends.Stream.
func (s *directStream) MemZero(dst buffers.DeviceMemory) error {
	data, err := s.backend.Arena().Bytes(dst)
	if err != nil {
		return err
	}
	clear(data)
	return nil
}

// MemcpyDeviceToDevice implements backends.Stream.
func (s *directStream) MemcpyDeviceToDevice(dst, src buffers.DeviceMemory, numBytes int64) error {
	arena := s.backend.Arena()
	dstData, err := arena.Bytes(dst)
	if err != nil {
		return err
	}
	srcData, err := arena.Bytes(src)
	if err != nil {
		return err
	}
	if numBytes > int64(len(dstData)) || numBytes > int64(len(srcData)) {
		return errors.Errorf("copy of %d bytes exceeds buffer sizes %d and %d", numBytes, len(dstData), len(srcData))
	}
	copy(dstData[:numBytes], srcData[:numBytes])
	return nil
}

// MemcpyDeviceToHost implements backends.Stream.
func (s *directStream) MemcpyDeviceToHost(dst []byte, src buffers.DeviceMemory) error {
	data, err := s.backend.Arena().Bytes(src)
	if err != nil {
		return err
	}
	if int64(len(dst)) > src.Size {
		return errors.Errorf("host buffer of %d bytes larger than device range %s", len(dst), src)
	}
	copy(dst, data)
	return nil
}

// Gemm implements backends.Stream with a naive row-major float32 matmul.
func (s *directStream) Gemm(config backends.GemmConfig, lhs, rhs, out, workspace buffers.DeviceMemory) error {
	return s.gemmCore(config, lhs, rhs, out)
}

// MatmulLt implements backends.Stream. The epilogue descriptor must be an
// EpilogueFunc; it runs on the host after the matmul with the resolved bias
// and aux addresses.
func (s *directStream) MatmulLt(config backends.GemmConfig, lhs, rhs, out, bias, aux, workspace buffers.DeviceMemory) error {
	epilogue, ok := config.Epilogue.(EpilogueFunc)
	if !ok {
		return errors.Errorf("epilogue descriptor is a %T, expected backendtest.EpilogueFunc", config.Epilogue)
	}
	if err := s.gemmCore(config, lhs, rhs, out); err != nil {
		return err
	}
	return epilogue(s.backend.Arena(), out, bias, aux)
}

func (s *directStream) gemmCore(config backends.GemmConfig, lhs, rhs, out buffers.DeviceMemory) error {
	if config.DType != dtypes.Float32 {
		return errors.Errorf("test backend only multiplies float32 matrices, got %s", config.DType)
	}
	arena := s.backend.Arena()
	lhsData, err := arena.Bytes(lhs)
	if err != nil {
		return err
	}
	rhsData, err := arena.Bytes(rhs)
	if err != nil {
		return err
	}
	outData, err := arena.Bytes(out)
	if err != nil {
		return err
	}
	m, n, k := config.M, config.N, config.K
	if int64(len(lhsData)) < 4*m*k || int64(len(rhsData)) < 4*k*n || int64(len(outData)) < 4*m*n {
		return errors.Errorf("matmul operands too small for %dx%dx%d", m, n, k)
	}
	f32 := func(data []byte, i int64) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	for i := int64(0); i < m; i++ {
		for j := int64(0); j < n; j++ {
			var acc float64
			for p := int64(0); p < k; p++ {
				acc += float64(f32(lhsData, i*k+p)) * float64(f32(rhsData, p*n+j))
			}
			value := config.Alpha*acc + config.Beta*float64(f32(outData, i*n+j))
			binary.LittleEndian.PutUint32(outData[4*(i*n+j):], math.Float32bits(float32(value)))
		}
	}
	return nil
}

// FusedGraph implements backends.Stream. The graph handle must be a
// FusedGraphFunc.
func (s *directStream) FusedGraph(graph any, operands []buffers.DeviceMemory) error {
	fn, ok := graph.(FusedGraphFunc)
	if !ok {
		return errors.Errorf("fused graph handle is a %T, expected backendtest.FusedGraphFunc", graph)
	}
	return fn(s.backend.Arena(), operands)
}

// traceStream records stream operations as nodes of a command buffer instead
// of executing them. Host readbacks still execute, they are synchronous by
// contract.
type traceStream struct {
	backend  *Backend
	cb       *CommandBuffer
	priority backends.StreamPriority
}

var _ backends.Stream = (*traceStream)(nil)

func (s *traceStream) record(node *Node) error {
	node.Priority = s.priority
	_, err := s.cb.create(node, nil)
	return err
}

// Memset32 implements backends.Stream.
func (s *traceStream) Memset32(dst buffers.DeviceMemory, pattern uint32) error {
	if dst.Size%4 != 0 {
		return errors.Errorf("memset32 destination size %d is not a multiple of 4", dst.Size)
	}
	return s.record(&Node{Kind: NodeMemset32, dst: dst, pattern: pattern})
}

// MemZero implements backends.Stream.
func (s *traceStream) MemZero(dst buffers.DeviceMemory) error {
	if dst.Size%4 != 0 {
		return errors.Errorf("memzero destination size %d is not a multiple of 4", dst.Size)
	}
	return s.record(&Node{Kind: NodeMemset32, dst: dst, pattern: 0})
}

// MemcpyDeviceToDevice implements backends.Stream.
func (s *traceStream) MemcpyDeviceToDevice(dst, src buffers.DeviceMemory, numBytes int64) error {
	return s.record(&Node{Kind: NodeMemcpyD2D, dst: dst, src: src, numBytes: numBytes})
}

// MemcpyDeviceToHost implements backends.Stream.
func (s *traceStream) MemcpyDeviceToHost(dst []byte, src buffers.DeviceMemory) error {
	return (&directStream{backend: s.backend}).MemcpyDeviceToHost(dst, src)
}

// Gemm implements backends.Stream.
func (s *traceStream) Gemm(config backends.GemmConfig, lhs, rhs, out, workspace buffers.DeviceMemory) error {
	return s.record(&Node{Kind: NodeGemm, gemm: config, args: []buffers.DeviceMemory{lhs, rhs, out}, workspace: workspace})
}

// MatmulLt implements backends.Stream.
func (s *traceStream) MatmulLt(config backends.GemmConfig, lhs, rhs, out, bias, aux, workspace buffers.DeviceMemory) error {
	if _, ok := config.Epilogue.(EpilogueFunc); !ok {
		return errors.Errorf("epilogue descriptor is a %T, expected backendtest.EpilogueFunc", config.Epilogue)
	}
	return s.record(&Node{Kind: NodeMatmulLt, gemm: config, args: []buffers.DeviceMemory{lhs, rhs, out, bias, aux}, workspace: workspace})
}

// FusedGraph implements backends.Stream.
func (s *traceStream) FusedGraph(graph any, operands []buffers.DeviceMemory) error {
	if _, ok := graph.(FusedGraphFunc); !ok {
		return errors.Errorf("fused graph handle is a %T, expected backendtest.FusedGraphFunc", graph)
	}
	return s.record(&Node{Kind: NodeFusedGraph, graph: graph, operands: operands})
}
