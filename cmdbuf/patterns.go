// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// The memset primitive writes 4-byte patterns. Narrower literals become a
// pattern by replication: a 1-byte value repeats four times, a 2-byte value
// twice. Wider values can't be expressed as a single memset.

// PatternFromUint8 replicates the byte into a 4-byte fill pattern.
func PatternFromUint8(value uint8) uint32 {
	v := uint32(value)
	return v | v<<8 | v<<16 | v<<24
}

// PatternFromUint16 replicates the 2-byte value into a 4-byte fill pattern.
func PatternFromUint16(value uint16) uint32 {
	v := uint32(value)
	return v | v<<16
}

// PatternFromFloat16 replicates the half-precision value's bits into a 4-byte
// fill pattern.
func PatternFromFloat16(value float16.Float16) uint32 {
	return PatternFromUint16(value.Bits())
}

// PatternFromFloat32 returns the value's bits as a fill pattern.
func PatternFromFloat32(value float32) uint32 {
	return math.Float32bits(value)
}

// PatternFromBits builds a 4-byte fill pattern for a literal of the given
// dtype, whose raw bits are passed in the low bits of value. It fails for
// dtypes wider than 4 bytes: those need a kernel, not a memset.
func PatternFromBits(dtype dtypes.DType, value uint64) (uint32, error) {
	switch dtype.Size() {
	case 1:
		return PatternFromUint8(uint8(value)), nil
	case 2:
		return PatternFromUint16(uint16(value)), nil
	case 4:
		return uint32(value), nil
	default:
		return 0, errors.Errorf("dtype %s (%d bytes) can't be expressed as a 32-bit fill pattern", dtype, dtype.Size())
	}
}
