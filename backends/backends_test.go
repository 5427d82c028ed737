// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/gpucmd/backends"
	_ "github.com/gomlx/gpucmd/backends/backendtest"
)

func TestNewWithConfig(t *testing.T) {
	backend, err := backends.NewWithConfig("test:2")
	require.NoError(t, err)
	defer backend.Finalize()
	require.Equal(t, "test", backend.Name())
	require.Equal(t, backends.DeviceNum(2), backend.NumDevices())

	_, err = backend.Executor(0)
	require.NoError(t, err)
	_, err = backend.Executor(2)
	require.Error(t, err)
}

func TestNewWithConfigDefaults(t *testing.T) {
	// A bare backend name selects it with an empty configuration.
	backend, err := backends.NewWithConfig("test")
	require.NoError(t, err)
	defer backend.Finalize()
	require.Equal(t, backends.DeviceNum(1), backend.NumDevices())

	// An empty config selects the first registered backend.
	backend, err = backends.NewWithConfig("")
	require.NoError(t, err)
	defer backend.Finalize()
	require.Equal(t, "test", backend.Name())
}

func TestNewWithConfigUnknownBackendPanics(t *testing.T) {
	require.Panics(t, func() {
		_, _ = backends.NewWithConfig("no-such-backend:")
	})
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(backends.GPUCMD_BACKEND, "test:3")
	backend, err := backends.New()
	require.NoError(t, err)
	defer backend.Finalize()
	require.Equal(t, backends.DeviceNum(3), backend.NumDevices())
}
