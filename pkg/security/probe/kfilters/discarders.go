// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package kfilters

import (
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
)

// InvalidateListener is called when the cached path of an inode is no longer valid
type InvalidateListener func(event model.InvalidateDentryEvent)

// Opts defines the discarders options
type Opts struct {
	// MountCounters is the number of per mount revision and path id counters
	MountCounters int
	// InodeCacheSize is the maximum number of inode discarders
	InodeCacheSize int
	// PidCacheSize is the maximum number of pid discarders
	PidCacheSize int
	// PidTimeout is the retention of a pid discarder
	PidTimeout time.Duration
}

// DiscarderStats is used to collect metrics about discarders
type DiscarderStats struct {
	InodeAdded  *atomic.Uint64
	PidAdded    *atomic.Uint64
	InodeHits   *atomic.Uint64
	PidHits     *atomic.Uint64
	Invalidated *atomic.Uint64
}

// Discarders holds the discarder state shared by all the threads: the per mount discarder
// revisions and path ids, the inode discarders and the pid discarders
type Discarders struct {
	revisions *MountCounters
	pathIDs   *MountCounters
	inodes    *InodeDiscarders
	pids      *PidDiscarders
	stats     DiscarderStats

	listenersLock sync.RWMutex
	listeners     []InvalidateListener
}

// NewDiscarders returns a new Discarders
func NewDiscarders(opts Opts) (*Discarders, error) {
	if opts.PidCacheSize <= 0 {
		opts.PidCacheSize = PidDiscarderCacheSize
	}

	revisions := NewMountCounters(opts.MountCounters)
	inodes, err := NewInodeDiscarders(opts.InodeCacheSize, revisions)
	if err != nil {
		return nil, err
	}

	return &Discarders{
		revisions: revisions,
		pathIDs:   NewMountCounters(opts.MountCounters),
		inodes:    inodes,
		pids:      NewPidDiscarders(opts.PidCacheSize, opts.PidTimeout),
		stats: DiscarderStats{
			InodeAdded:  atomic.NewUint64(0),
			PidAdded:    atomic.NewUint64(0),
			InodeHits:   atomic.NewUint64(0),
			PidHits:     atomic.NewUint64(0),
			Invalidated: atomic.NewUint64(0),
		},
	}, nil
}

// OnInvalidate registers a listener called when an inode is invalidated without event
func (d *Discarders) OnInvalidate(listener InvalidateListener) {
	d.listenersLock.Lock()
	defer d.listenersLock.Unlock()

	d.listeners = append(d.listeners, listener)
}

// IsDiscardedByProcess returns whether the process is discarded for the event type. Processes
// are only discarded when a filter is active.
func (d *Discarders) IsDiscardedByProcess(mode model.PolicyMode, eventType model.EventType, pid uint32) bool {
	if mode == model.PolicyModeNoFilter {
		return false
	}

	if d.pids.IsDiscarded(eventType, pid) {
		d.stats.PidHits.Inc()
		return true
	}
	return false
}

// IsDiscardedByInode returns whether the inode is discarded for the event type
func (d *Discarders) IsDiscardedByInode(eventType model.EventType, mountID uint32, inode uint64) bool {
	if d.inodes.IsDiscarded(eventType, mountID, inode) {
		d.stats.InodeHits.Inc()
		return true
	}
	return false
}

// DiscardInode adds an inode discarder for the event type
func (d *Discarders) DiscardInode(eventType model.EventType, mountID uint32, inode uint64, isLeaf bool) {
	if inode == 0 {
		return
	}

	if d.inodes.DiscardInode(eventType, mountID, inode, isLeaf) {
		d.stats.InodeAdded.Inc()
		seclog.Tracef("Apply `%s` inode discarder, inode: %d, mount_id: %d, leaf: %v", eventType, inode, mountID, isLeaf)
	}
}

// DiscardPid adds a pid discarder for the event type
func (d *Discarders) DiscardPid(eventType model.EventType, pid uint32) {
	d.pids.DiscardPid(eventType, pid)
	d.stats.PidAdded.Inc()
	seclog.Tracef("Apply `%s` pid discarder, pid: %d", eventType, pid)
}

// RemovePid removes the discarders of an exited process
func (d *Discarders) RemovePid(pid uint32) {
	d.pids.Remove(pid)
}

// InvalidateInode removes the discarders of an inode that was removed. When no event was
// emitted for the removal, the listeners are notified so that they flush the cached path.
func (d *Discarders) InvalidateInode(mountID uint32, inode uint64, emitted bool) {
	if inode == 0 || mountID == 0 {
		return
	}

	d.inodes.Remove(mountID, inode)
	d.stats.Invalidated.Inc()

	if emitted {
		return
	}

	event := model.InvalidateDentryEvent{Inode: inode, MountID: mountID}

	d.listenersLock.RLock()
	defer d.listenersLock.RUnlock()

	for _, listener := range d.listeners {
		listener(event)
	}
}

// BumpRevision increments the discarder revision of the mount and returns the new revision.
// All the inode discarders of the mount are invalidated.
func (d *Discarders) BumpRevision(mountID uint32) uint32 {
	return d.revisions.Inc(mountID)
}

// Revision returns the discarder revision of the mount
func (d *Discarders) Revision(mountID uint32) uint32 {
	return d.revisions.Get(mountID)
}

// PathID returns the path id of the mount. When invalidate is set, the path id is incremented
// so that the path entries cached with the previous id are not reused.
func (d *Discarders) PathID(mountID uint32, invalidate bool) uint32 {
	if invalidate {
		return d.pathIDs.Next(mountID)
	}
	return d.pathIDs.Get(mountID)
}

// Flush removes all the discarders, used when the policies change
func (d *Discarders) Flush() {
	d.inodes.Purge()
	d.pids.Purge()
	d.revisions.IncAll()
}

// SendStats sends the discarders metrics
func (d *Discarders) SendStats(client statsd.ClientInterface) error {
	inodeTags := []string{"type:inode"}
	pidTags := []string{"type:pid"}

	if value := d.stats.InodeAdded.Swap(0); value > 0 {
		if err := client.Count(metrics.MetricDiscarderAdded, int64(value), inodeTags, 1.0); err != nil {
			return err
		}
	}
	if value := d.stats.PidAdded.Swap(0); value > 0 {
		if err := client.Count(metrics.MetricDiscarderAdded, int64(value), pidTags, 1.0); err != nil {
			return err
		}
	}
	if value := d.stats.InodeHits.Swap(0); value > 0 {
		if err := client.Count(metrics.MetricDiscarderHits, int64(value), inodeTags, 1.0); err != nil {
			return err
		}
	}
	if value := d.stats.PidHits.Swap(0); value > 0 {
		if err := client.Count(metrics.MetricDiscarderHits, int64(value), pidTags, 1.0); err != nil {
			return err
		}
	}
	if value := d.stats.Invalidated.Swap(0); value > 0 {
		if err := client.Count(metrics.MetricInvalidations, int64(value), nil, 1.0); err != nil {
			return err
		}
	}
	return nil
}
