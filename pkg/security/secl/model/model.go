// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package model holds the data model of the deletion probe events
package model

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/containerutils"
)

// PathKeySize defines the path key size
const PathKeySize = 16

// PathKey identifies an entry in the dentry cache
type PathKey struct {
	Inode   uint64 `json:"inode"`
	MountID uint32 `json:"mount_id"`
	PathID  uint32 `json:"-"`
}

// Write writes the binary representation of the key into the buffer
func (p *PathKey) Write(buffer []byte) {
	ByteOrder.PutUint64(buffer[0:8], p.Inode)
	ByteOrder.PutUint32(buffer[8:12], p.MountID)
	ByteOrder.PutUint32(buffer[12:16], p.PathID)
}

// IsNull returns true if a key is invalid
func (p *PathKey) IsNull() bool {
	return p.Inode == 0 && p.MountID == 0
}

// IsResolved returns true once the inode of the key was captured
func (p *PathKey) IsResolved() bool {
	return p.Inode != 0
}

func (p *PathKey) String() string {
	return fmt.Sprintf("%x/%x", p.MountID, p.Inode)
}

// InodeKey returns the key without the path id, used to index the per inode caches
func (p *PathKey) InodeKey() PathKey {
	return PathKey{Inode: p.Inode, MountID: p.MountID}
}

// MarshalBinary returns the binary representation of a path key
func (p *PathKey) MarshalBinary() ([]byte, error) {
	if p.IsNull() {
		return nil, &ErrInvalidKeyPath{Inode: p.Inode, MountID: p.MountID}
	}

	buff := make([]byte, PathKeySize)
	p.Write(buff)

	return buff, nil
}

// UnmarshalBinary unmarshalls a binary representation of itself
func (p *PathKey) UnmarshalBinary(data []byte) (int, error) {
	if len(data) < PathKeySize {
		return 0, ErrNotEnoughData
	}
	p.Inode = ByteOrder.Uint64(data[0:8])
	p.MountID = ByteOrder.Uint32(data[8:12])
	p.PathID = ByteOrder.Uint32(data[12:16])

	return PathKeySize, nil
}

// PathLeaf is one component of a resolved path, linked to its parent
type PathLeaf struct {
	Parent PathKey
	Name   string
}

// Dentry references a directory entry that is about to be removed. It is only valid until
// the syscall returns: once the entry is unlinked, the path no longer resolves to the object.
type Dentry struct {
	// Pid of the process issuing the syscall, used to resolve the path from its point of view
	Pid uint32
	// Path as passed to the syscall, relative paths are resolved against the process cwd
	Path string
	// Inode and MountID as captured by the tracer, zero when unknown
	Inode   uint64
	MountID uint32
}

// PIDContext holds the process context of a syscall
type PIDContext struct {
	Pid uint32 `json:"pid"`
	Tid uint32 `json:"tid"`
}

// ProcessCacheEntry is a process cache entry
type ProcessCacheEntry struct {
	sync.Mutex

	Pid         uint32
	PPid        uint32
	UID         uint32
	GID         uint32
	Comm        string
	FileName    string
	ContainerID containerutils.ContainerID
	ExecTime    time.Time

	refCount uint64
}

// NewProcessCacheEntry returns a new process cache entry
func NewProcessCacheEntry(pid uint32) *ProcessCacheEntry {
	return &ProcessCacheEntry{Pid: pid}
}

// Retain increment ref counter
func (pc *ProcessCacheEntry) Retain() {
	pc.Lock()
	defer pc.Unlock()
	pc.refCount++
}

// Release decrement and eventually release the entry
func (pc *ProcessCacheEntry) Release() {
	pc.Lock()
	defer pc.Unlock()
	if pc.refCount > 0 {
		pc.refCount--
	}
}

// RefCount returns the current reference count
func (pc *ProcessCacheEntry) RefCount() uint64 {
	pc.Lock()
	defer pc.Unlock()
	return pc.refCount
}

// ProcessContextSize defines the size of the binary process context
const ProcessContextSize = 24 + CommLen

// ProcessContext holds the process fields of an event
type ProcessContext struct {
	Pid  uint32
	Tid  uint32
	PPid uint32
	UID  uint32
	GID  uint32
	Comm [CommLen]byte
}

// SetComm sets the comm, truncated to the kernel comm length
func (p *ProcessContext) SetComm(comm string) {
	p.Comm = [CommLen]byte{}
	copy(p.Comm[:CommLen-1], comm)
}

// GetComm returns the comm as a string
func (p *ProcessContext) GetComm() string {
	return NullTerminatedString(p.Comm[:])
}

// ContainerContextSize defines the size of the binary container context
const ContainerContextSize = ContainerIDLen

// ContainerContext holds the container fields of an event
type ContainerContext struct {
	ID [ContainerIDLen]byte
}

// SetID sets the container ID
func (c *ContainerContext) SetID(id containerutils.ContainerID) {
	c.ID = [ContainerIDLen]byte{}
	copy(c.ID[:], id)
}

// GetID returns the container ID
func (c *ContainerContext) GetID() containerutils.ContainerID {
	return containerutils.ContainerID(NullTerminatedString(c.ID[:]))
}

// SyscallEvent contains common fields for all the event
type SyscallEvent struct {
	Retval int64
}

// FileFields holds the identity of the file targeted by an event
type FileFields struct {
	PathKey
	OverlayNumLower uint32
}

// DeletionEventSize defines the size of a binary deletion event
const DeletionEventSize = 8 + 8 + PathKeySize + 8 + ProcessContextSize + ContainerContextSize

// DeletionEvent is the record sent by the probe for rmdir and unlink
type DeletionEvent struct {
	Type EventType
	// Flags holds the unlink flags, always zero for rmdir
	Flags uint32
	SyscallEvent
	File              FileFields
	DiscarderRevision uint32
	Process           ProcessContext
	Container         ContainerContext
}

// InvalidateDentryEvent notifies that the cached path of an inode is no longer valid
type InvalidateDentryEvent struct {
	Inode   uint64
	MountID uint32
}

// NullTerminatedString returns the string up to the first null byte
func NullTerminatedString(d []byte) string {
	idx := bytes.IndexByte(d, 0)
	if idx == -1 {
		return string(d)
	}
	return string(d[:idx])
}
