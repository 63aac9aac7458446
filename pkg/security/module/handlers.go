// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package module

import (
	"path/filepath"
	"time"

	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/eventstream"
	"github.com/DataDog/cws-deletion-probe/pkg/security/proto/ebpfless"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/mount"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/containerutils"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
	"github.com/DataDog/cws-deletion-probe/pkg/security/serializers"
)

func deletionEventType(syscallType ebpfless.SyscallType) model.EventType {
	switch syscallType {
	case ebpfless.SyscallTypeRmdir:
		return model.FileRmdirEventType
	case ebpfless.SyscallTypeUnlink:
		return model.FileUnlinkEventType
	}
	return model.UnknownEventType
}

// HandleSyscallMsg handles a syscall message of a tracer. The process messages maintain the
// process cache, the deletion messages go through the probe.
func (m *Module) HandleSyscallMsg(msg *ebpfless.SyscallMsg) {
	switch msg.Type {
	case ebpfless.SyscallTypeRmdir, ebpfless.SyscallTypeUnlink:
		if msg.Phase == ebpfless.PhaseEntry {
			m.refreshProcessDiscarder(msg.PID, deletionEventType(msg.Type))
		}

		status := m.probe.HandleSyscallMsg(msg)
		seclog.TraceTagf(deletionEventType(msg.Type), "%s: %s", msg, status)
	case ebpfless.SyscallTypeFork:
		m.handleFork(msg)
	case ebpfless.SyscallTypeExec:
		m.handleExec(msg)
	case ebpfless.SyscallTypeExit:
		m.handleExit(msg)
	case ebpfless.SyscallTypeMount:
		m.handleMount(msg)
	case ebpfless.SyscallTypeUmount:
		m.handleUmount(msg)
	default:
		seclog.Debugf("unsupported syscall message: %s", msg)
	}
}

func (m *Module) handleFork(msg *ebpfless.SyscallMsg) {
	if msg.Fork == nil || msg.Retval < 0 {
		return
	}

	entry := model.NewProcessCacheEntry(msg.PID)
	entry.PPid = msg.Fork.PPID
	entry.ExecTime = time.Now()

	if parent := m.processResolver.Resolve(msg.Fork.PPID, msg.Fork.PPID); parent != nil {
		parent.Lock()
		entry.UID = parent.UID
		entry.GID = parent.GID
		entry.Comm = parent.Comm
		entry.FileName = parent.FileName
		entry.ContainerID = parent.ContainerID
		parent.Unlock()
	}
	if msg.ContainerID != "" {
		entry.ContainerID = containerutils.ContainerID(msg.ContainerID)
	}

	m.processResolver.AddEntry(entry)
	m.discardProcess(entry)
}

func (m *Module) handleExec(msg *ebpfless.SyscallMsg) {
	if msg.Exec == nil || msg.Retval < 0 {
		return
	}

	entry := model.NewProcessCacheEntry(msg.PID)
	entry.Comm = msg.Exec.Comm
	if entry.Comm == "" {
		entry.Comm = filepath.Base(msg.Exec.Filename)
		if len(entry.Comm) >= model.CommLen {
			entry.Comm = entry.Comm[:model.CommLen-1]
		}
	}
	entry.FileName = msg.Exec.Filename
	entry.ExecTime = time.Now()
	entry.ContainerID = containerutils.ContainerID(msg.ContainerID)

	if prev := m.processResolver.Resolve(msg.PID, msg.PID); prev != nil {
		prev.Lock()
		entry.PPid = prev.PPid
		entry.UID = prev.UID
		entry.GID = prev.GID
		if entry.ContainerID == "" {
			entry.ContainerID = prev.ContainerID
		}
		prev.Unlock()
	}
	if creds := msg.Exec.Credentials; creds != nil {
		entry.UID = creds.UID
		entry.GID = creds.GID
	}

	// the discarders of the previous image don't apply anymore
	m.discarders.RemovePid(msg.PID)

	m.processResolver.AddEntry(entry)
	m.discardProcess(entry)
}

func (m *Module) handleExit(msg *ebpfless.SyscallMsg) {
	// a thread killed in the middle of a deletion never reaches the syscall exit
	m.probe.FlushSyscallMsg(msg)

	m.processResolver.DeleteEntry(msg.PID)
	m.discarders.RemovePid(msg.PID)
}

// FlushSyscallMsg drops the deletion in flight of the thread of a tracer that disconnected
func (m *Module) FlushSyscallMsg(msg *ebpfless.SyscallMsg) {
	if m.probe.FlushSyscallMsg(msg) {
		seclog.Debugf("deletion of %d/%d flushed", msg.PID, msg.TID)
	}
}

func (m *Module) handleMount(msg *ebpfless.SyscallMsg) {
	if msg.Mount == nil || msg.Retval < 0 {
		return
	}

	mnt := mount.Mount{
		MountID:       msg.Mount.MountID,
		ParentMountID: msg.Mount.ParentMountID,
		MountPoint:    msg.Mount.MountPoint,
		Root:          msg.Mount.Root,
		FSType:        msg.Mount.FSType,
		Source:        msg.Mount.Source,
	}
	if mnt.IsOverlayFS() {
		mnt.LowerDirs = mount.ParseLowerDirs(msg.Mount.VFSOptions)
	}

	m.mountResolver.Insert(mnt)
}

func (m *Module) handleUmount(msg *ebpfless.SyscallMsg) {
	if msg.Umount == nil || msg.Retval < 0 {
		return
	}

	mountID := msg.Umount.MountID
	if err := m.mountResolver.Delete(mountID); err != nil {
		seclog.Debugf("unable to delete mount %d: %v", mountID, err)
	}

	// the mount id can be reused, nothing cached for it can be trusted anymore
	m.dentryResolver.DelCacheEntries(mountID)
	m.discarders.BumpRevision(mountID)
}

// discardProcess installs the pid discarders of the process if its command name is discarded
func (m *Module) discardProcess(entry *model.ProcessCacheEntry) {
	cfg := m.Config()

	entry.Lock()
	pid, comm := entry.Pid, entry.Comm
	entry.Unlock()

	for _, eventType := range model.AllEventTypes() {
		if cfg.IsProcessDiscarded(eventType, comm) {
			seclog.Tracef("discarding %s events of %s (%d)", eventType, comm, pid)
			m.discarders.DiscardPid(eventType, pid)
		}
	}
}

// refreshProcessDiscarder installs the pid discarder again, as it expires, for long running processes
func (m *Module) refreshProcessDiscarder(pid uint32, eventType model.EventType) {
	if len(m.Config().DiscardedProcesses[eventType]) == 0 {
		return
	}

	if entry := m.processResolver.Resolve(pid, pid); entry != nil {
		m.discardProcess(entry)
	}
}

// handleRecord resolves the path of a deletion record and writes the event to the output
func (m *Module) handleRecord(record *eventstream.Record) {
	var event model.DeletionEvent
	if _, err := event.UnmarshalBinary(record.Data[:]); err != nil {
		seclog.Errorf("unable to decode %s record: %v", record.EventType, err)
		return
	}

	path, err := m.dentryResolver.ResolvePath(event.File.PathKey)
	if err != nil {
		seclog.Debugf("unable to resolve the path of %s: %v", event.File.PathKey.String(), err)
	}

	// the entry is gone, its cached path can't be used anymore
	m.dentryResolver.DelCacheEntry(event.File.MountID, event.File.Inode)

	data, err := serializers.MarshalEvent(&event, path, time.Now())
	if err != nil {
		seclog.Errorf("unable to serialize %s event: %v", event.Type, err)
		return
	}

	m.outputLock.Lock()
	defer m.outputLock.Unlock()

	if _, err := m.output.Write(append(data, '\n')); err != nil {
		seclog.Errorf("unable to write %s event: %v", event.Type, err)
	}
}
