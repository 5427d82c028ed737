// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gpucmd/backends"
	"github.com/gomlx/gpucmd/buffers"
	"github.com/gomlx/gpucmd/collectives"
	"github.com/gomlx/gpucmd/resources"
	"github.com/gomlx/gpucmd/types/xsync"
)

// LaunchCmd records a kernel launch. The kernel is loaded from the
// executable's binary image during Initialize and cached per device executor,
// because the same command is recorded concurrently for multiple devices.
type LaunchCmd struct {
	cmdBase
	kernelName string
	args       []buffers.Slice
	argsAccess []buffers.MemoryAccess
	dims       backends.LaunchDims
	shmemBytes int64

	// kernels caches the loaded kernel per executor. The critical section
	// is the lookup-or-insert only, never the recording itself.
	kernels xsync.SyncMap[backends.Executor, backends.Kernel]
}

// NewLaunchCmd creates a kernel launch command. args and argsAccess must have
// the same length.
func NewLaunchCmd(streamId collectives.ExecutionStreamId, kernelName string,
	args []buffers.Slice, argsAccess []buffers.MemoryAccess,
	dims backends.LaunchDims, shmemBytes int64, resourceUses ...resources.Use) (*LaunchCmd, error) {
	if len(args) != len(argsAccess) {
		return nil, errors.Errorf("kernel %q given %d args but %d access modes", kernelName, len(args), len(argsAccess))
	}
	return &LaunchCmd{
		cmdBase:    newCmdBase(CmdTypeLaunch, streamId, resourceUses),
		kernelName: kernelName,
		args:       args,
		argsAccess: argsAccess,
		dims:       dims,
		shmemBytes: shmemBytes,
	}, nil
}

// BufferUses implements Command.
func (c *LaunchCmd) BufferUses() []buffers.Use {
	uses := make([]buffers.Use, len(c.args))
	for i, arg := range c.args {
		uses[i] = buffers.Use{Slice: arg, Access: c.argsAccess[i]}
	}
	return uses
}

// Initialize loads the kernel onto the target device if not already loaded.
func (c *LaunchCmd) Initialize(params InitializeParams, state *StateManager) error {
	if _, found := c.kernels.Load(params.Executor); found {
		return nil
	}
	kernel, err := params.Executor.LoadKernel(c.kernelName, params.Source)
	if err != nil {
		return errors.WithMessagef(err, "loading kernel %q", c.kernelName)
	}
	if _, loaded := c.kernels.LoadOrStore(params.Executor, kernel); loaded {
		// Another goroutine won the race; the backend owns both handles.
		klog.V(2).Infof("cmdbuf: kernel %q loaded twice for device %d", c.kernelName, params.Executor.DeviceOrdinal())
	}
	return nil
}

// Record implements Command.
func (c *LaunchCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	kernel, found := c.kernels.Load(execParams.Executor)
	if !found {
		return nil, errors.Errorf("kernel %q not loaded for device %d: Initialize was not called", c.kernelName, execParams.Executor.DeviceOrdinal())
	}
	args, err := resolveSlices(execParams.Allocations, c.args)
	if err != nil {
		return nil, err
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateLaunch(deps, kernel, c.dims, c.shmemBytes, args, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateLaunch(cmd, kernel, c.dims, c.shmemBytes, args)
		})
}

// CustomKernelSpec describes a kernel carried by the program itself rather
// than by the executable image.
type CustomKernelSpec struct {
	Name              string
	Binary            []byte
	Dims              backends.LaunchDims
	SharedMemoryBytes int64
}

// CustomKernelLaunchCmd records a launch of a kernel whose image is embedded
// in the program, e.g. a hand-tuned library kernel.
type CustomKernelLaunchCmd struct {
	cmdBase
	spec       CustomKernelSpec
	args       []buffers.Slice
	argsAccess []buffers.MemoryAccess

	kernels xsync.SyncMap[backends.Executor, backends.Kernel]
}

// NewCustomKernelLaunchCmd creates a custom kernel launch command.
func NewCustomKernelLaunchCmd(streamId collectives.ExecutionStreamId, spec CustomKernelSpec,
	args []buffers.Slice, argsAccess []buffers.MemoryAccess, resourceUses ...resources.Use) (*CustomKernelLaunchCmd, error) {
	if len(args) != len(argsAccess) {
		return nil, errors.Errorf("custom kernel %q given %d args but %d access modes", spec.Name, len(args), len(argsAccess))
	}
	return &CustomKernelLaunchCmd{
		cmdBase:    newCmdBase(CmdTypeCustomKernelLaunch, streamId, resourceUses),
		spec:       spec,
		args:       args,
		argsAccess: argsAccess,
	}, nil
}

// BufferUses implements Command.
func (c *CustomKernelLaunchCmd) BufferUses() []buffers.Use {
	uses := make([]buffers.Use, len(c.args))
	for i, arg := range c.args {
		uses[i] = buffers.Use{Slice: arg, Access: c.argsAccess[i]}
	}
	return uses
}

// Initialize loads the embedded kernel image onto the target device.
func (c *CustomKernelLaunchCmd) Initialize(params InitializeParams, state *StateManager) error {
	if _, found := c.kernels.Load(params.Executor); found {
		return nil
	}
	kernel, err := params.Executor.LoadKernel(c.spec.Name, c.spec.Binary)
	if err != nil {
		return errors.WithMessagef(err, "loading custom kernel %q", c.spec.Name)
	}
	c.kernels.LoadOrStore(params.Executor, kernel)
	return nil
}

// Record implements Command.
func (c *CustomKernelLaunchCmd) Record(execParams ExecuteParams, recordParams RecordParams,
	action RecordAction, cb backends.CommandBuffer) (backends.Command, error) {
	kernel, found := c.kernels.Load(execParams.Executor)
	if !found {
		return nil, errors.Errorf("custom kernel %q not loaded for device %d: Initialize was not called", c.spec.Name, execParams.Executor.DeviceOrdinal())
	}
	args, err := resolveSlices(execParams.Allocations, c.args)
	if err != nil {
		return nil, err
	}
	return handleRecordAction(action,
		func(deps []backends.Command) (backends.Command, error) {
			return cb.CreateLaunch(deps, kernel, c.spec.Dims, c.spec.SharedMemoryBytes, args, c.priority)
		},
		func(cmd backends.Command) error {
			return cb.UpdateLaunch(cmd, kernel, c.spec.Dims, c.spec.SharedMemoryBytes, args)
		})
}

// resolveSlices resolves each slice to its concrete device memory.
func resolveSlices(allocations *buffers.Allocations, slices []buffers.Slice) ([]buffers.DeviceMemory, error) {
	out := make([]buffers.DeviceMemory, len(slices))
	for i, s := range slices {
		mem, err := allocations.Resolve(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving argument #%d", i)
		}
		out[i] = mem
	}
	return out, nil
}
