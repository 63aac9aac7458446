// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package mount holds mount related files
package mount

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/moby/sys/mountinfo"
	"go.uber.org/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
	"github.com/DataDog/cws-deletion-probe/pkg/security/utils"
)

var (
	// ErrMountNotFound is used when an unknown mount identifier is found
	ErrMountNotFound = errors.New("unknown mount ID")
	// ErrMountUndefined is used when a mount identifier is undefined
	ErrMountUndefined = errors.New("undefined mountID")
)

const (
	deleteDelayTime = 5 * time.Second
)

type deleteRequest struct {
	mount     *Mount
	timeoutAt time.Time
}

// Resolver represents a cache for mountpoints and the corresponding file systems
type Resolver struct {
	statsdClient statsd.ClientInterface
	lock         sync.RWMutex
	mounts       map[uint32]*Mount
	deleteQueue  []deleteRequest

	// stats
	cacheHitsStats *atomic.Int64
	cacheMissStats *atomic.Int64
	procHitsStats  *atomic.Int64
	procMissStats  *atomic.Int64
}

// NewResolver instantiates a new mount resolver
func NewResolver(statsdClient statsd.ClientInterface) *Resolver {
	return &Resolver{
		statsdClient:   statsdClient,
		mounts:         make(map[uint32]*Mount),
		cacheHitsStats: atomic.NewInt64(0),
		procHitsStats:  atomic.NewInt64(0),
		cacheMissStats: atomic.NewInt64(0),
		procMissStats:  atomic.NewInt64(0),
	}
}

// SyncCache snapshots the current mount points of the system by reading through /proc/[pid]/mountinfo
func (mr *Resolver) SyncCache(pid uint32) error {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	return mr.syncCache(pid)
}

func (mr *Resolver) syncCache(pid uint32) error {
	f, err := os.Open(utils.MountInfoPidPath(pid))
	if err != nil {
		return err
	}
	defer f.Close()

	return mr.syncFromReader(f)
}

func (mr *Resolver) syncFromReader(r io.Reader) error {
	mnts, err := mountinfo.GetMountsFromReader(r, nil)
	if err != nil {
		return err
	}

	for _, mnt := range mnts {
		if _, exists := mr.mounts[uint32(mnt.ID)]; exists {
			continue
		}
		mr.insert(newMountFromMountInfo(mnt))
	}

	return nil
}

// SyncFromReader loads the mount points from a mountinfo formatted reader
func (mr *Resolver) SyncFromReader(r io.Reader) error {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	return mr.syncFromReader(r)
}

// Insert a new mount point in the cache
func (mr *Resolver) Insert(m Mount) {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	mr.insert(&m)
}

func (mr *Resolver) insert(m *Mount) {
	mr.mounts[m.MountID] = m
}

func (mr *Resolver) deleteChildren(parent *Mount) {
	for _, mount := range mr.mounts {
		if mount.ParentMountID == parent.MountID && mount.MountID != parent.MountID {
			mr.delete(mount)
		}
	}
}

func (mr *Resolver) delete(mount *Mount) {
	if _, exists := mr.mounts[mount.MountID]; !exists {
		return
	}
	delete(mr.mounts, mount.MountID)
	mr.deleteChildren(mount)
}

// Delete a mount from the cache. The mount is kept for a short while so that the events
// still in flight can be resolved.
func (mr *Resolver) Delete(mountID uint32) error {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	mount, exists := mr.mounts[mountID]
	if !exists {
		return ErrMountNotFound
	}

	mr.deleteQueue = append(mr.deleteQueue, deleteRequest{mount: mount, timeoutAt: time.Now().Add(deleteDelayTime)})

	return nil
}

func (mr *Resolver) dequeue(now time.Time) {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	var i int
	for i != len(mr.deleteQueue) {
		req := mr.deleteQueue[i]
		if req.timeoutAt.After(now) {
			break
		}

		// check that the mount wasn't replaced in the meantime
		if mount, exists := mr.mounts[req.mount.MountID]; exists && mount == req.mount {
			mr.delete(req.mount)
		}
		i++
	}

	if i >= len(mr.deleteQueue) {
		mr.deleteQueue = mr.deleteQueue[0:0]
	} else if i > 0 {
		mr.deleteQueue = mr.deleteQueue[i:]
	}
}

// Start starts the resolver
func (mr *Resolver) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				mr.dequeue(now)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (mr *Resolver) resolveMount(mountID, pid uint32) (*Mount, error) {
	if mountID == 0 {
		return nil, ErrMountUndefined
	}

	mount, ok := mr.mounts[mountID]
	if ok {
		mr.cacheHitsStats.Inc()
		return mount, nil
	}

	mr.cacheMissStats.Inc()
	if pid != 0 {
		if err := mr.syncCache(pid); err != nil {
			seclog.Debugf("unable to sync the mounts of %d: %v", pid, err)
		} else if mount = mr.mounts[mountID]; mount != nil {
			mr.procHitsStats.Inc()
			return mount, nil
		}
		mr.procMissStats.Inc()
	}

	return nil, ErrMountNotFound
}

// Get returns the mount of the given id, the mount points of the pid are read if the mount is unknown
func (mr *Resolver) Get(mountID, pid uint32) (*Mount, error) {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	return mr.resolveMount(mountID, pid)
}

// OverlayNumLower returns the number of lower layers of the mount, zero if unknown
func (mr *Resolver) OverlayNumLower(mountID, pid uint32) uint32 {
	mount, err := mr.Get(mountID, pid)
	if err != nil {
		return 0
	}
	return mount.OverlayNumLower()
}

// ResolveMountID returns the id of the mount holding the given path, based on the longest
// mount point prefix of the path. Used when the kernel doesn't report the mount id.
func (mr *Resolver) ResolveMountID(pid uint32, path string) (uint32, error) {
	mr.lock.Lock()
	defer mr.lock.Unlock()

	if len(mr.mounts) == 0 && pid != 0 {
		if err := mr.syncCache(pid); err != nil {
			return 0, err
		}
	}

	path = filepath.Clean(path)

	var (
		best    *Mount
		bestLen = -1
	)
	for _, mount := range mr.mounts {
		mp := mount.MountPoint
		if mp != "/" && path != mp && !strings.HasPrefix(path, mp+"/") {
			continue
		}
		// on stacked mounts the most recent mount has the highest id
		if len(mp) > bestLen || (len(mp) == bestLen && mount.MountID > best.MountID) {
			best, bestLen = mount, len(mp)
		}
	}

	if best == nil {
		return 0, ErrMountNotFound
	}
	return best.MountID, nil
}

// Len returns the number of known mounts
func (mr *Resolver) Len() int {
	mr.lock.RLock()
	defer mr.lock.RUnlock()

	return len(mr.mounts)
}

// SendStats sends metrics about the current state of the mount resolver
func (mr *Resolver) SendStats() error {
	if err := mr.statsdClient.Count(metrics.MetricMountResolverHits, mr.cacheHitsStats.Swap(0), []string{metrics.CacheTag}, 1.0); err != nil {
		return err
	}

	if err := mr.statsdClient.Count(metrics.MetricMountResolverMiss, mr.cacheMissStats.Swap(0), []string{metrics.CacheTag}, 1.0); err != nil {
		return err
	}

	if err := mr.statsdClient.Count(metrics.MetricMountResolverHits, mr.procHitsStats.Swap(0), []string{metrics.ProcFSTag}, 1.0); err != nil {
		return err
	}

	if err := mr.statsdClient.Count(metrics.MetricMountResolverMiss, mr.procMissStats.Swap(0), []string{metrics.ProcFSTag}, 1.0); err != nil {
		return err
	}

	return mr.statsdClient.Gauge(metrics.MetricMountResolverCacheSize, float64(mr.Len()), []string{}, 1.0)
}
