// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backendtest implements an in-memory backend that executes command
// buffers on the host. It exists for tests: recorded buffers actually run, so
// tests assert on the bytes commands produce, and every node counts its
// creates, updates and executions for instrumentation checks.
//
// Importing the package registers the backend under the name "test".
package backendtest

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
)

// BackendName of this backend in the registry.
const BackendName = "test"

func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) {
		numDevices := 1
		if config != "" {
			if _, err := fmt.Sscanf(config, "%d", &numDevices); err != nil {
				return nil, errors.Wrapf(err, "invalid %s backend configuration %q, expected a device count", BackendName, config)
			}
		}
		return New(numDevices), nil
	})
}

// KernelFunc is the host implementation of a registered test kernel. It runs
// once per launch node execution with the launch's resolved arguments.
type KernelFunc func(arena *Arena, dims backends.LaunchDims, args []buffers.DeviceMemory) error

// EpilogueFunc is the host implementation of a fused matmul epilogue,
// carried as the GemmConfig.Epilogue descriptor. It runs after the matmul
// with the resolved epilogue operands; bias and aux are zero when the
// command was built without them.
type EpilogueFunc func(arena *Arena, out, bias, aux buffers.DeviceMemory) error

// FusedGraphFunc is the host implementation of a fused-graph handle. Stream
// FusedGraph calls require the graph handle to have this type.
type FusedGraphFunc func(arena *Arena, operands []buffers.DeviceMemory) error

// Backend is the in-memory test backend. All devices share one arena, which
// keeps cross-device tests (collectives) simple.
type Backend struct {
	arena     *Arena
	executors []*Executor

	mu      sync.Mutex
	kernels map[string]KernelFunc
}

var _ backends.Backend = (*Backend)(nil)

// New creates a test backend with the given number of devices and a default
// sized arena.
func New(numDevices int) *Backend {
	b := &Backend{
		arena:   NewArena(64 << 20),
		kernels: make(map[string]KernelFunc),
	}
	b.executors = make([]*Executor, numDevices)
	for i := range b.executors {
		b.executors[i] = &Executor{backend: b, ordinal: backends.DeviceNum(i)}
	}
	return b
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return fmt.Sprintf("In-memory test backend with %d device(s)", len(b.executors))
}

// NumDevices implements backends.Backend.
func (b *Backend) NumDevices() backends.DeviceNum { return backends.DeviceNum(len(b.executors)) }

// Executor implements backends.Backend.
func (b *Backend) Executor(device backends.DeviceNum) (backends.Executor, error) {
	if device < 0 || int(device) >= len(b.executors) {
		return nil, errors.Errorf("invalid device %d, backend has %d devices", device, len(b.executors))
	}
	return b.executors[device], nil
}

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {
	b.arena = nil
	b.executors = nil
}

// Arena returns the backend's host memory arena, so tests can allocate
// buffers and inspect their contents.
func (b *Backend) Arena() *Arena { return b.arena }

// RegisterKernel installs the host implementation launched for kernels with
// the given name. LoadKernel succeeds for any name; launching an unregistered
// kernel fails at execution time.
func (b *Backend) RegisterKernel(name string, fn KernelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kernels[name] = fn
}

func (b *Backend) kernelFunc(name string) (KernelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn, found := b.kernels[name]
	if !found {
		return nil, errors.Errorf("no host implementation registered for kernel %q", name)
	}
	return fn, nil
}

// arenaBase is the fake device address the arena starts at. Non-zero so a
// zero DeviceMemory is never a valid arena address.
const arenaBase uintptr = 0x100000

// Arena is a flat host byte range posing as device memory. Allocations are
// bump-allocated and never freed, which is fine for test lifetimes.
type Arena struct {
	mu   sync.Mutex
	data []byte
	next int64
}

// NewArena creates an arena with the given capacity in bytes.
func NewArena(capacity int64) *Arena {
	return &Arena{data: make([]byte, capacity)}
}

// Allocate returns a fresh device memory range of the given size.
func (a *Arena) Allocate(size int64) buffers.DeviceMemory {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next+size > int64(len(a.data)) {
		panic(fmt.Sprintf("test arena exhausted: %d bytes requested, %d available", size, int64(len(a.data))-a.next))
	}
	mem := buffers.DeviceMemory{Opaque: arenaBase + uintptr(a.next), Size: size}
	a.next += size
	return mem
}

// Bytes returns the host bytes backing the device memory range.
func (a *Arena) Bytes(mem buffers.DeviceMemory) ([]byte, error) {
	offset := int64(mem.Opaque - arenaBase)
	if mem.Opaque < arenaBase || offset+mem.Size > int64(len(a.data)) {
		return nil, errors.Errorf("device memory %s outside the test arena", mem)
	}
	return a.data[offset : offset+mem.Size], nil
}
