// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package resources models non-buffer shared resources that order command
// recording: today only collective communicator tokens. Resource uses
// participate in dependency-graph construction exactly like buffer uses, but
// they never participate in buffer-address change detection.
package resources

import "fmt"

// Kind enumerates the resource kinds known to the engine.
type Kind int

const (
	// KindInvalid is the zero value, not a valid resource.
	KindInvalid Kind = iota

	// KindCollectiveComm is a collective communicator shared by commands
	// that must not be reordered relative to each other.
	KindCollectiveComm
)

var kindNames = [...]string{"invalid", "collective-comm"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Resource is a shared coordination primitive. Commands holding a Use of the
// same Resource value conflict if either access is a write.
type Resource struct {
	kind Kind
}

// New returns a new unique resource of the given kind. Identity is pointer
// identity: two calls return distinct resources.
func New(kind Kind) *Resource {
	return &Resource{kind: kind}
}

// Kind of the resource.
func (r *Resource) Kind() Kind { return r.kind }

// Access describes how a command uses a resource.
type Access int

const (
	// AccessRead does not mutate the resource and may be concurrent with
	// other reads.
	AccessRead Access = iota

	// AccessWrite requires exclusive ordering against any other use.
	AccessWrite
)

// Use is a declared access of a resource by a command.
type Use struct {
	Resource *Resource
	Access   Access
}

// Read declares a shared use of the resource.
func Read(r *Resource) Use { return Use{Resource: r, Access: AccessRead} }

// Write declares an exclusive use of the resource.
func Write(r *Resource) Use { return Use{Resource: r, Access: AccessWrite} }

// Conflicts reports whether two uses must be ordered relative to each other.
func (u Use) Conflicts(other Use) bool {
	if u.Resource != other.Resource {
		return false
	}
	return u.Access == AccessWrite || other.Access == AccessWrite
}
