// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package syscalls holds the state of the syscalls in flight
package syscalls

import (
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

// ThreadKey identifies a thread across the pid namespaces of the tracers
type ThreadKey uint64

// NewThreadKey returns the key of the thread tid of the pid namespace nsid
func NewThreadKey(nsid uint64, tid uint32) ThreadKey {
	// the namespace id is folded on 31 bits, the upper bit of a key is reserved by the cache
	ns := uint32(nsid^(nsid>>32)) & 0x7fffffff
	return ThreadKey(uint64(ns)<<32 | uint64(tid))
}

// Type identifies the syscall tracked by a state
type Type uint8

const (
	// UnknownType unknown syscall
	UnknownType Type = iota
	// Rmdir rmdir syscall
	Rmdir
	// Unlink unlink and unlinkat syscalls
	Unlink
)

func (t Type) String() string {
	switch t {
	case Rmdir:
		return "rmdir"
	case Unlink:
		return "unlink"
	}
	return "unknown"
}

// EventType returns the event type reported for the syscall
func (t Type) EventType() model.EventType {
	switch t {
	case Rmdir:
		return model.FileRmdirEventType
	case Unlink:
		return model.FileUnlinkEventType
	}
	return model.UnknownEventType
}

// Types is a small set of syscall types, used to match a state against several syscalls
type Types []Type

// Contains returns whether the set holds the given type
func (ts Types) Contains(t Type) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

// DeletionTypes matches the syscalls sharing the security_inode_rmdir hook
var DeletionTypes = Types{Rmdir, Unlink}

// State is the state of a deletion syscall in flight
type State struct {
	Type Type
	// PathKey is the identity of the removed entry, written once by the inode hook
	PathKey         model.PathKey
	OverlayNumLower uint32
	PolicyMode      model.PolicyMode
	// Flags holds the unlinkat flags
	Flags uint32
}

// IsResolved returns whether the identity of the removed entry was captured
func (s *State) IsResolved() bool {
	return s.PathKey.IsResolved()
}
