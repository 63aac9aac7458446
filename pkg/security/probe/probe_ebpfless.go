// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package probe

import (
	"github.com/DataDog/cws-deletion-probe/pkg/security/proto/ebpfless"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
)

func syscallContext(msg *ebpfless.SyscallMsg) SyscallContext {
	ctx := SyscallContext{NSID: msg.NSID, Pid: msg.PID, Tid: msg.TID}
	if ctx.Tid == 0 {
		ctx.Tid = ctx.Pid
	}
	return ctx
}

// FlushSyscallMsg drops the syscall in flight of the thread of a message
func (p *Probe) FlushSyscallMsg(msg *ebpfless.SyscallMsg) bool {
	return p.Flush(syscallContext(msg))
}

// HandleSyscallMsg dispatches a deletion syscall message reported by a tracer to the handler
// of its phase. Messages of other syscalls are ignored.
func (p *Probe) HandleSyscallMsg(msg *ebpfless.SyscallMsg) Status {
	ctx := syscallContext(msg)

	var file ebpfless.FileSyscallMsg
	if msg.File != nil {
		file = *msg.File
	}

	switch msg.Type {
	case ebpfless.SyscallTypeRmdir, ebpfless.SyscallTypeUnlink:
	default:
		return StatusUntracked
	}

	switch msg.Phase {
	case ebpfless.PhaseEntry:
		if msg.Type == ebpfless.SyscallTypeRmdir {
			return p.OnRmdirEntry(ctx)
		}
		return p.OnUnlinkEntry(ctx, file.Flags)
	case ebpfless.PhaseMntWantWrite:
		return p.OnMntWantWrite(ctx, file.MountID)
	case ebpfless.PhaseInodeHook:
		return p.OnSecurityInodeRmdir(ctx, &model.Dentry{
			Pid:     ctx.Pid,
			Path:    file.Path,
			Inode:   file.Inode,
			MountID: file.MountID,
		})
	case ebpfless.PhaseExit:
		if msg.Type == ebpfless.SyscallTypeRmdir {
			return p.OnRmdirExit(ctx, msg.Retval)
		}
		return p.OnUnlinkExit(ctx, msg.Retval)
	}

	seclog.Debugf("unknown phase %s for %s", msg.Phase, msg.Type)
	return StatusUntracked
}
