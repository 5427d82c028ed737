// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface an execution backend needs to
// implement to be driven by the gpucmd recording engine.
//
// A backend owns devices (Executor), streams, kernels and native command
// buffers. The engine never allocates device memory and never destroys native
// handles: it only records logical commands into backend-owned command
// buffers and patches them on subsequent executions.
//
// Registry errors are programming errors and panic with a stack trace, see
// package github.com/gomlx/exceptions. Everything else returns explicit
// errors.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
)

// DeviceNum identifies a device within a backend. It should be between 0 and
// Backend.NumDevices.
type DeviceNum int

// Backend is the entry point implemented by an execution backend.
type Backend interface {
	// Name returns the short name of the backend, e.g. "cuda".
	Name() string

	// Description is a longer description of the backend that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this backend.
	NumDevices() DeviceNum

	// Executor returns the device executor for the given device.
	Executor(device DeviceNum) (Executor, error)

	// Finalize releases all the associated resources immediately and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend under the given name with a constructor that takes a
// backend-specific configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if GPUCMD_BACKEND is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// GPUCMD_BACKEND is the environment variable with the default backend
// configuration to use.
//
// The format of the config is "<backend_name>:<backend_configuration>", where
// "<backend_name>" is the name of a registered backend and
// "<backend_configuration>" is backend specific.
const GPUCMD_BACKEND = "GPUCMD_BACKEND"

// New returns a new Backend using the default configuration.
//
// The default is:
//
// 1. The environment variable GPUCMD_BACKEND, if defined.
// 2. The variable DefaultConfig, if defined.
// 3. The first registered backend with an empty configuration.
//
// It panics if no backend was registered.
func New() (Backend, error) {
	if config, found := os.LookupEnv(GPUCMD_BACKEND); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>". An empty backend name selects the
// first registered backend.
//
// It panics if no backend was registered or the named backend is unknown --
// both are programming errors, not runtime conditions.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf("no registered backends for gpucmd -- import your backend package for its side-effect registration")
	}
	backendName := config
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
