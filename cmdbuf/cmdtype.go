// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

// CmdType is the discriminant tag of a command: one logical GPU operation
// kind that can be recorded into a command buffer.
type CmdType int

//go:generate go tool enumer -type=CmdType -trimprefix=CmdType -output=gen_cmdtype_enumer.go cmdtype.go

const (
	CmdTypeInvalid CmdType = iota
	CmdTypeEmpty
	CmdTypeBarrier
	CmdTypeComputationId
	CmdTypeLaunch
	CmdTypeCustomKernelLaunch
	CmdTypeGemm
	CmdTypeMatmulLt
	CmdTypeFusedGraph
	CmdTypeMemcpyD2D
	CmdTypeMemzero
	CmdTypeMemset32
	CmdTypeCase
	CmdTypeWhile
	CmdTypeCustomCall
	CmdTypeAllReduce
	CmdTypeReduceScatter
	CmdTypeAllToAll
	CmdTypeAllGather
	CmdTypeCollectiveBroadcast
	CmdTypeDynamicSliceFusion
	CmdTypeUnknown
)
