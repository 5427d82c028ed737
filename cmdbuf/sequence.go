// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cmdbuf

// Sequence is an ordered collection of commands, in the declaration order of
// the source program. Declaration order is the default total order used when
// dependency information is unavailable or disabled.
type Sequence []Command

// Append adds commands to the end of the sequence.
func (s *Sequence) Append(cmds ...Command) {
	*s = append(*s, cmds...)
}
