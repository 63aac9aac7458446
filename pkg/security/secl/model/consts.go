// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package model

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// MaxSegmentLength defines the maximum length of each segment of a path
	MaxSegmentLength = 255

	// CommLen defines the size of the comm field of the process context
	CommLen = 16

	// ContainerIDLen defines the size of the container ID field of the container context
	ContainerIDLen = 64
)

// ByteOrder holds the host byte order used for the binary records
var ByteOrder binary.ByteOrder = binary.NativeEndian

// EventType describes the type of an event sent by the probe
type EventType uint32

const (
	// UnknownEventType unknown event
	UnknownEventType EventType = iota
	// FileRmdirEventType Rmdir event
	FileRmdirEventType
	// FileUnlinkEventType Unlink event
	FileUnlinkEventType
	// InvalidateDentryEventType Dentry invalidated event
	InvalidateDentryEventType
	// MaxEventType is used to iterate over the event types, it must stay last
	MaxEventType
)

// FirstDiscarderEventType first event that accepts discarders
const FirstDiscarderEventType = FileRmdirEventType

// LastDiscarderEventType last event that accepts discarders
const LastDiscarderEventType = FileUnlinkEventType

func (t EventType) String() string {
	switch t {
	case FileRmdirEventType:
		return "rmdir"
	case FileUnlinkEventType:
		return "unlink"
	case InvalidateDentryEventType:
		return "invalidate_dentry"
	}
	return "unknown"
}

// ParseEventType returns the event type matching the given name
func ParseEventType(name string) EventType {
	for i := UnknownEventType + 1; i < MaxEventType; i++ {
		if i.String() == name {
			return i
		}
	}
	return UnknownEventType
}

// AllEventTypes returns all the event types that can be discarded or emitted
func AllEventTypes() []EventType {
	var types []EventType
	for i := FirstDiscarderEventType; i <= LastDiscarderEventType; i++ {
		types = append(types, i)
	}
	return types
}

// PolicyMode defines the filtering mode selected for an event type
type PolicyMode uint8

const (
	// PolicyModeNoFilter no kernel filtering, every event is sent
	PolicyModeNoFilter PolicyMode = iota
	// PolicyModeAccept events are sent unless discarded
	PolicyModeAccept
	// PolicyModeDeny events are dropped unless approved
	PolicyModeDeny
)

func (m PolicyMode) String() string {
	switch m {
	case PolicyModeNoFilter:
		return "no_filter"
	case PolicyModeAccept:
		return "accept"
	case PolicyModeDeny:
		return "deny"
	}
	return ""
}

// ParsePolicyMode returns the policy mode matching the given name
func ParsePolicyMode(name string) (PolicyMode, bool) {
	switch strings.ToLower(name) {
	case "", "no_filter":
		return PolicyModeNoFilter, true
	case "accept":
		return PolicyModeAccept, true
	case "deny":
		return PolicyModeDeny, true
	}
	return PolicyModeNoFilter, false
}

// IsUnhandledError returns true when the return value of a syscall is an error that the probe
// doesn't report. EACCES and EPERM are reported as they are the result of a denied operation.
func IsUnhandledError(retval int64) bool {
	return retval < 0 && retval != -int64(syscall.EACCES) && retval != -int64(syscall.EPERM)
}

var (
	unlinkFlagsConstants = map[string]int{
		"AT_REMOVEDIR": unix.AT_REMOVEDIR,
	}
	unlinkFlagsStrings = map[int]string{}
)

func init() {
	for k, v := range unlinkFlagsConstants {
		unlinkFlagsStrings[v] = k
	}
}

func bitmaskToStringArray(bitmask int, intToStrMap map[int]string) []string {
	var strs []string
	var result int

	for v, s := range intToStrMap {
		if v == 0 {
			continue
		}

		if bitmask&v == v {
			strs = append(strs, s)
			result |= v
		}
	}

	if result != bitmask {
		strs = append(strs, strconv.Itoa(bitmask&^result))
	}

	sort.Strings(strs)
	return strs
}

func bitmaskToString(bitmask int, intToStrMap map[int]string) string {
	return strings.Join(bitmaskToStringArray(bitmask, intToStrMap), " | ")
}

// UnlinkFlags represents an unlink flags bitmask value
type UnlinkFlags int

func (f UnlinkFlags) String() string {
	return bitmaskToString(int(f), unlinkFlagsStrings)
}

// StringArray returns the unlink flags as an array of strings
func (f UnlinkFlags) StringArray() []string {
	return bitmaskToStringArray(int(f), unlinkFlagsStrings)
}

// RetValError represents a syscall return error value
type RetValError int

func (f RetValError) String() string {
	v := int(f)
	if v < 0 {
		return syscall.Errno(-v).Error()
	}
	return ""
}
