// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package probe holds probe related files
package probe

import (
	"errors"

	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/syscalls"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/dentry"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
)

// Status is the outcome of a probe handler
type Status int

const (
	// StatusUntracked no syscall was tracked for the thread, nothing was done
	StatusUntracked Status = iota
	// StatusTracked the syscall is tracked, waiting for the next phase
	StatusTracked
	// StatusDiscarded the syscall was discarded and is no longer tracked
	StatusDiscarded
	// StatusCompleted the syscall completed, an event was sent if the event type is enabled
	StatusCompleted
	// StatusErrorDropped the syscall failed with an error that isn't reported
	StatusErrorDropped
)

func (s Status) String() string {
	switch s {
	case StatusUntracked:
		return "untracked"
	case StatusTracked:
		return "tracked"
	case StatusDiscarded:
		return "discarded"
	case StatusCompleted:
		return "completed"
	case StatusErrorDropped:
		return "error_dropped"
	}
	return "unknown"
}

// SyscallContext identifies the thread issuing a syscall. Pid and Tid are the ids seen from the
// pid namespace NSID, zero for the host namespace.
type SyscallContext struct {
	NSID uint64
	Pid  uint32
	Tid  uint32
}

func (ctx SyscallContext) threadKey() syscalls.ThreadKey {
	return syscalls.NewThreadKey(ctx.NSID, ctx.Tid)
}

// DentryResolver resolves the identity and the path of the removed entries
type DentryResolver interface {
	// ResolveKey resolves the key of the entry, it must be called before the entry is removed
	ResolveKey(handle *model.Dentry) (model.PathKey, error)
	// OverlayNumLower returns the number of overlay lower layers of the entry
	OverlayNumLower(handle *model.Dentry) uint32
	// Resolve resolves the path of the entry, dentry.ErrDentryDiscarded is returned when the entry is discarded
	Resolve(handle *model.Dentry, key model.PathKey, eventType model.EventType) error
}

// Discarders gives access to the discarders shared by all the threads
type Discarders interface {
	IsDiscardedByProcess(mode model.PolicyMode, eventType model.EventType, pid uint32) bool
	InvalidateInode(mountID uint32, inode uint64, emitted bool)
	BumpRevision(mountID uint32) uint32
}

// ProcessResolver resolves the process and container context of the events
type ProcessResolver interface {
	Resolve(pid, tid uint32) *model.ProcessCacheEntry
	ResolveContainerContext(entry *model.ProcessCacheEntry) model.ContainerContext
}

// EventEnabler reports whether an event type is sent
type EventEnabler interface {
	IsEnabled(eventType model.EventType) bool
}

// EventSink receives the binary records. The record is only valid during the call. SendEvent
// returns false when the record was dropped.
type EventSink interface {
	SendEvent(eventType model.EventType, data []byte) bool
}

// PolicyProvider returns the filtering mode of an event type
type PolicyProvider interface {
	PolicyMode(eventType model.EventType) model.PolicyMode
}

// Deps holds the collaborators of the probe
type Deps struct {
	Syscalls        *syscalls.Cache
	DentryResolver  DentryResolver
	Discarders      Discarders
	ProcessResolver ProcessResolver
	Events          EventEnabler
	Sink            EventSink
	Policies        PolicyProvider
}

// Probe correlates the phases of the deletion syscalls of each thread: the syscall entry, the
// security_inode_rmdir hook that captures the identity of the entry before its removal, and the
// syscall exit that sends the event. Handlers of distinct threads can run concurrently.
type Probe struct {
	syscalls        *syscalls.Cache
	dentryResolver  DentryResolver
	discarders      Discarders
	processResolver ProcessResolver
	events          EventEnabler
	sink            EventSink
	policies        PolicyProvider

	stats *Stats
}

// NewProbe instantiates a new probe
func NewProbe(deps Deps) (*Probe, error) {
	switch {
	case deps.Syscalls == nil:
		return nil, errors.New("syscall cache required")
	case deps.DentryResolver == nil:
		return nil, errors.New("dentry resolver required")
	case deps.Discarders == nil:
		return nil, errors.New("discarders required")
	case deps.ProcessResolver == nil:
		return nil, errors.New("process resolver required")
	case deps.Events == nil:
		return nil, errors.New("event enabler required")
	case deps.Sink == nil:
		return nil, errors.New("event sink required")
	case deps.Policies == nil:
		return nil, errors.New("policy provider required")
	}

	return &Probe{
		syscalls:        deps.Syscalls,
		dentryResolver:  deps.DentryResolver,
		discarders:      deps.Discarders,
		processResolver: deps.ProcessResolver,
		events:          deps.Events,
		sink:            deps.Sink,
		policies:        deps.Policies,
		stats:           NewStats(),
	}, nil
}

// Stats returns the probe statistics
func (p *Probe) Stats() *Stats {
	return p.stats
}

// InFlight returns the number of syscalls being tracked
func (p *Probe) InFlight() int {
	return p.syscalls.Len()
}

func (p *Probe) onEntry(ctx SyscallContext, syscallType syscalls.Type, flags uint32) Status {
	state := syscalls.State{
		Type:       syscallType,
		PolicyMode: p.policies.PolicyMode(syscallType.EventType()),
		Flags:      flags,
	}

	if err := p.syscalls.Create(ctx.threadKey(), state); err != nil {
		p.stats.CountRejected(err)
		seclog.TraceTagf(syscallType.EventType(), "unable to track %d/%d: %v", ctx.Pid, ctx.Tid, err)
		return StatusUntracked
	}

	return StatusTracked
}

// OnRmdirEntry starts tracking a rmdir syscall
func (p *Probe) OnRmdirEntry(ctx SyscallContext) Status {
	return p.onEntry(ctx, syscalls.Rmdir, 0)
}

// OnUnlinkEntry starts tracking an unlink syscall. With AT_REMOVEDIR the kernel removes a
// directory and goes through security_inode_rmdir.
func (p *Probe) OnUnlinkEntry(ctx SyscallContext, flags uint32) Status {
	return p.onEntry(ctx, syscalls.Unlink, flags)
}

// OnMntWantWrite records the mount of the entry about to be removed. It runs before the inode hook.
func (p *Probe) OnMntWantWrite(ctx SyscallContext, mountID uint32) Status {
	state := p.syscalls.Peek(ctx.threadKey(), syscalls.DeletionTypes)
	if state == nil {
		return StatusUntracked
	}

	if !state.IsResolved() && state.PathKey.MountID == 0 {
		state.PathKey.MountID = mountID
	}

	return StatusTracked
}

// OnSecurityInodeRmdir captures the identity of the entry before its removal, applies the
// discarders and resolves the path of the entry. The identity is only captured once per syscall.
func (p *Probe) OnSecurityInodeRmdir(ctx SyscallContext, handle *model.Dentry) Status {
	state := p.syscalls.Peek(ctx.threadKey(), syscalls.DeletionTypes)
	if state == nil {
		return StatusUntracked
	}

	eventType := state.Type.EventType()

	if state.IsResolved() {
		return StatusTracked
	}

	// the mount id is resolved by mnt_want_write, it is already set by the time we reach this hook
	if handle.MountID == 0 && state.PathKey.MountID != 0 {
		handle.MountID = state.PathKey.MountID
	}

	key, err := p.dentryResolver.ResolveKey(handle)
	if err != nil {
		seclog.Debugf("unable to resolve the key of `%s` for %d/%d: %v", handle.Path, ctx.Pid, ctx.Tid, err)
		return StatusUntracked
	}
	state.PathKey = key
	state.OverlayNumLower = p.dentryResolver.OverlayNumLower(handle)

	if p.discarders.IsDiscardedByProcess(state.PolicyMode, eventType, ctx.Pid) {
		p.discard(ctx, eventType, key, discardedByProcess)
		return StatusDiscarded
	}

	resolveType := eventType
	if state.PolicyMode == model.PolicyModeNoFilter {
		resolveType = model.UnknownEventType
	}

	if err := p.dentryResolver.Resolve(handle, key, resolveType); err != nil {
		if errors.Is(err, dentry.ErrDentryDiscarded) {
			p.discard(ctx, eventType, key, discardedByDentry)
			return StatusDiscarded
		}
		seclog.Tracef("unable to resolve the path of %s: %v", key.String(), err)
	}

	return StatusTracked
}

func (p *Probe) discard(ctx SyscallContext, eventType model.EventType, key model.PathKey, reason discardReason) {
	p.discarders.InvalidateInode(key.MountID, key.Inode, false)
	p.syscalls.Pop(ctx.threadKey(), syscalls.DeletionTypes)
	p.stats.CountDiscarded(eventType, reason)
}

func (p *Probe) onExit(ctx SyscallContext, retval int64) Status {
	state, ok := p.syscalls.Pop(ctx.threadKey(), syscalls.DeletionTypes)
	if !ok {
		return StatusUntracked
	}

	// the hook was never reached, the entry wasn't removed
	if !state.IsResolved() {
		return StatusUntracked
	}

	eventType := state.Type.EventType()
	key := state.PathKey

	if model.IsUnhandledError(retval) {
		p.discarders.InvalidateInode(key.MountID, key.Inode, false)
		p.stats.CountDropped(eventType)
		return StatusErrorDropped
	}

	var emitted bool
	if p.events.IsEnabled(eventType) {
		event := model.DeletionEvent{
			Type:  eventType,
			Flags: state.Flags,
			SyscallEvent: model.SyscallEvent{
				Retval: retval,
			},
			File: model.FileFields{
				PathKey:         key,
				OverlayNumLower: state.OverlayNumLower,
			},
			DiscarderRevision: p.discarders.BumpRevision(key.MountID),
		}

		entry := p.processResolver.Resolve(ctx.Pid, ctx.Tid)
		fillProcessContext(&event.Process, ctx, entry)
		event.Container = p.processResolver.ResolveContainerContext(entry)

		var data [model.DeletionEventSize]byte
		if _, err := event.MarshalBinaryTo(data[:]); err != nil {
			seclog.Errorf("unable to marshal %s event: %v", eventType, err)
		} else if emitted = p.sink.SendEvent(eventType, data[:]); emitted {
			p.stats.CountSent(eventType)
		}
	}

	p.discarders.InvalidateInode(key.MountID, key.Inode, emitted)

	return StatusCompleted
}

// OnRmdirExit completes a rmdir syscall
func (p *Probe) OnRmdirExit(ctx SyscallContext, retval int64) Status {
	return p.onExit(ctx, retval)
}

// OnUnlinkExit completes an unlink syscall
func (p *Probe) OnUnlinkExit(ctx SyscallContext, retval int64) Status {
	return p.onExit(ctx, retval)
}

// Flush drops the syscall in flight of a thread that exited, or whose tracer is gone, before
// reaching the syscall exit. It returns whether a syscall was dropped.
func (p *Probe) Flush(ctx SyscallContext) bool {
	state, ok := p.syscalls.Pop(ctx.threadKey(), syscalls.DeletionTypes)
	if !ok {
		return false
	}

	// the removal outcome is unknown, the cached path of the entry can't be trusted
	if state.IsResolved() {
		p.discarders.InvalidateInode(state.PathKey.MountID, state.PathKey.Inode, false)
	}
	p.stats.CountFlushed()

	seclog.Debugf("%s of %d/%d flushed", state.Type, ctx.Pid, ctx.Tid)
	return true
}

func fillProcessContext(pc *model.ProcessContext, ctx SyscallContext, entry *model.ProcessCacheEntry) {
	pc.Pid = ctx.Pid
	pc.Tid = ctx.Tid
	if entry == nil {
		return
	}

	entry.Lock()
	defer entry.Unlock()

	pc.PPid = entry.PPid
	pc.UID = entry.UID
	pc.GID = entry.GID
	pc.SetComm(entry.Comm)
}
