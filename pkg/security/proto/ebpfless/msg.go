// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ebpfless holds the messages exchanged between the tracer and the probe
package ebpfless

import (
	"fmt"
)

// MessageType defines the type of a message
type MessageType int32

const (
	// MessageTypeUnknown unknown message
	MessageTypeUnknown MessageType = iota
	// MessageTypeHello hello message, first message sent by a tracer
	MessageTypeHello
	// MessageTypeSyscall syscall message
	MessageTypeSyscall
	// MessageTypeGoodbye last message sent by a tracer
	MessageTypeGoodbye
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHello:
		return "hello"
	case MessageTypeSyscall:
		return "syscall"
	case MessageTypeGoodbye:
		return "goodbye"
	}
	return "unknown"
}

// SyscallType defines the type of a syscall message
type SyscallType int32

const (
	// SyscallTypeUnknown unknown syscall
	SyscallTypeUnknown SyscallType = iota
	// SyscallTypeRmdir rmdir syscall
	SyscallTypeRmdir
	// SyscallTypeUnlink unlink and unlinkat syscalls
	SyscallTypeUnlink
	// SyscallTypeFork fork, vfork and clone syscalls
	SyscallTypeFork
	// SyscallTypeExec execve syscall
	SyscallTypeExec
	// SyscallTypeExit exit of a process
	SyscallTypeExit
	// SyscallTypeMount mount syscall
	SyscallTypeMount
	// SyscallTypeUmount umount2 syscall
	SyscallTypeUmount
)

func (t SyscallType) String() string {
	switch t {
	case SyscallTypeRmdir:
		return "rmdir"
	case SyscallTypeUnlink:
		return "unlink"
	case SyscallTypeFork:
		return "fork"
	case SyscallTypeExec:
		return "exec"
	case SyscallTypeExit:
		return "exit"
	case SyscallTypeMount:
		return "mount"
	case SyscallTypeUmount:
		return "umount"
	}
	return "unknown"
}

// Phase defines the point of the syscall a message was captured at
type Phase int32

const (
	// PhaseEntry syscall entry
	PhaseEntry Phase = iota
	// PhaseMntWantWrite the kernel grabbed write access to the mount of the entry
	PhaseMntWantWrite
	// PhaseInodeHook security_inode_rmdir, the entry is about to be removed
	PhaseInodeHook
	// PhaseExit syscall exit
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhaseEntry:
		return "entry"
	case PhaseMntWantWrite:
		return "mnt_want_write"
	case PhaseInodeHook:
		return "inode_hook"
	case PhaseExit:
		return "exit"
	}
	return "unknown"
}

// ContainerContext defines a container context
type ContainerContext struct {
	ID        string
	CreatedAt uint64
}

// HelloMsg defines a hello message
type HelloMsg struct {
	NSID             uint64
	ContainerContext *ContainerContext
	EntrypointArgs   []string
}

// FileSyscallMsg defines the file targeted by rmdir and unlink
type FileSyscallMsg struct {
	Path    string
	Flags   uint32
	Inode   uint64
	MountID uint32
}

// Credentials defines process credentials
type Credentials struct {
	UID  uint32
	EUID uint32
	GID  uint32
	EGID uint32
}

// ExecSyscallMsg defines an exec message
type ExecSyscallMsg struct {
	Filename    string
	Comm        string
	Credentials *Credentials
}

// ForkSyscallMsg defines a fork message
type ForkSyscallMsg struct {
	PPID uint32
}

// ExitSyscallMsg defines an exit message
type ExitSyscallMsg struct {
	Code uint32
}

// MountSyscallMsg defines a mount message
type MountSyscallMsg struct {
	MountID       uint32
	ParentMountID uint32
	MountPoint    string
	Root          string
	FSType        string
	Source        string
	VFSOptions    string
}

// UmountSyscallMsg defines an umount message
type UmountSyscallMsg struct {
	MountID uint32
}

// SyscallMsg defines a syscall message. NSID is the pid namespace of PID and TID, the server
// sets it from the hello message when the tracer leaves it empty.
type SyscallMsg struct {
	Type        SyscallType
	Phase       Phase
	NSID        uint64
	PID         uint32
	TID         uint32
	Timestamp   uint64
	Retval      int64
	ContainerID string
	File        *FileSyscallMsg   `msgpack:",omitempty"`
	Exec        *ExecSyscallMsg   `msgpack:",omitempty"`
	Fork        *ForkSyscallMsg   `msgpack:",omitempty"`
	Exit        *ExitSyscallMsg   `msgpack:",omitempty"`
	Mount       *MountSyscallMsg  `msgpack:",omitempty"`
	Umount      *UmountSyscallMsg `msgpack:",omitempty"`
}

// String returns string representation
func (s SyscallMsg) String() string {
	return fmt.Sprintf("%s/%s pid:%d tid:%d retval:%d", s.Type, s.Phase, s.PID, s.TID, s.Retval)
}

// Message defines a message
type Message struct {
	Type    MessageType
	SeqNum  uint64
	Hello   *HelloMsg   `msgpack:",omitempty"`
	Syscall *SyscallMsg `msgpack:",omitempty"`
}

// String returns string representation
func (m Message) String() string {
	if m.Type == MessageTypeSyscall && m.Syscall != nil {
		return fmt.Sprintf("#%d syscall %s", m.SeqNum, m.Syscall)
	}
	return fmt.Sprintf("#%d %s", m.SeqNum, m.Type)
}
