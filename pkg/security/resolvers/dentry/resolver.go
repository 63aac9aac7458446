// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package dentry holds dentry related files
package dentry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/kfilters"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/mount"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
	"github.com/DataDog/cws-deletion-probe/pkg/security/utils"
)

const (
	// maxParentDiscarderDepth defines the maximum parent depth to find parent discarders
	maxParentDiscarderDepth = 3

	// maxPathDepth defines the maximum number of segments resolved for a path
	maxPathDepth = 64
)

var (
	// ErrEntryNotFound is thrown when a path key was not found in the cache
	ErrEntryNotFound = errors.New("entry not found")
	// ErrDentryDiscarded is returned when the removed entry or one of its parents is discarded
	ErrDentryDiscarded = errors.New("dentry discarded")
)

// StatFunc returns the inode and the mount id of a file, the mount id is zero when unknown
type StatFunc func(path string) (uint64, uint32, error)

// Statx returns the inode and the mount id of a file without following the last symlink
func Statx(path string) (uint64, uint32, error) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_INO|unix.STATX_MNT_ID, &stx); err != nil {
		return 0, 0, err
	}

	var mountID uint32
	if stx.Mask&unix.STATX_MNT_ID != 0 {
		mountID = uint32(stx.Mnt_id)
	}
	return stx.Ino, mountID, nil
}

type cacheEntry struct {
	model.PathLeaf
	PathID uint32
}

// Resolver resolves the removed entries to keys and paths, and caches the path leaves
// per mount
type Resolver struct {
	statsdClient statsd.ClientInterface
	discarders   *kfilters.Discarders
	mounts       *mount.Resolver
	stat         StatFunc
	cacheSize    int

	lock           sync.RWMutex
	cache          map[uint32]*betterCache[uint64, cacheEntry]
	discardedPaths map[model.EventType][]string

	hitsCounter *atomic.Int64
	missCounter *atomic.Int64
}

// NewResolver returns a new dentry resolver
func NewResolver(statsdClient statsd.ClientInterface, discarders *kfilters.Discarders, mounts *mount.Resolver, cacheSize int) *Resolver {
	dr := &Resolver{
		statsdClient:   statsdClient,
		discarders:     discarders,
		mounts:         mounts,
		stat:           Statx,
		cacheSize:      cacheSize,
		cache:          make(map[uint32]*betterCache[uint64, cacheEntry]),
		discardedPaths: make(map[model.EventType][]string),
		hitsCounter:    atomic.NewInt64(0),
		missCounter:    atomic.NewInt64(0),
	}

	discarders.OnInvalidate(func(event model.InvalidateDentryEvent) {
		dr.DelCacheEntry(event.MountID, event.Inode)
	})

	return dr
}

// SetDiscardedPaths sets the path prefixes for which the events of the given type are discarded
func (dr *Resolver) SetDiscardedPaths(eventType model.EventType, prefixes []string) {
	cleaned := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		if prefix = filepath.Clean(prefix); prefix != "/" && filepath.IsAbs(prefix) {
			cleaned = append(cleaned, prefix)
		}
	}

	dr.lock.Lock()
	defer dr.lock.Unlock()

	dr.discardedPaths[eventType] = cleaned
}

// absPath returns the path of the entry as seen by the process
func absPath(dentry *model.Dentry) (string, error) {
	if filepath.IsAbs(dentry.Path) {
		return filepath.Clean(dentry.Path), nil
	}

	cwd, err := os.Readlink(utils.ProcCwdPath(dentry.Pid))
	if err != nil {
		return "", fmt.Errorf("unable to resolve the cwd of %d: %w", dentry.Pid, err)
	}
	return filepath.Join(cwd, dentry.Path), nil
}

func (dr *Resolver) statKey(pid uint32, path string) (model.PathKey, error) {
	inode, mountID, err := dr.stat(utils.ProcRootFilePath(pid, path))
	if err != nil {
		return model.PathKey{}, err
	}

	if mountID == 0 {
		if mountID, err = dr.mounts.ResolveMountID(pid, path); err != nil {
			return model.PathKey{}, err
		}
	}

	return model.PathKey{Inode: inode, MountID: mountID}, nil
}

// ResolveKey resolves the key of the entry about to be removed. It has to be called before the
// entry is removed. The handle is updated with the resolved inode and mount id. The path id of
// the mount is invalidated as the association between the inode and its name is about to change.
func (dr *Resolver) ResolveKey(dentry *model.Dentry) (model.PathKey, error) {
	if dentry.Inode == 0 || dentry.MountID == 0 {
		path, err := absPath(dentry)
		if err != nil {
			return model.PathKey{}, err
		}

		key, err := dr.statKey(dentry.Pid, path)
		if err != nil {
			return model.PathKey{}, err
		}

		if dentry.Inode == 0 {
			dentry.Inode = key.Inode
		}
		if dentry.MountID == 0 {
			dentry.MountID = key.MountID
		}
	}

	return model.PathKey{
		Inode:   dentry.Inode,
		MountID: dentry.MountID,
		PathID:  dr.discarders.PathID(dentry.MountID, true),
	}, nil
}

// OverlayNumLower returns the number of lower layers of the mount of the entry
func (dr *Resolver) OverlayNumLower(dentry *model.Dentry) uint32 {
	return dr.mounts.OverlayNumLower(dentry.MountID, dentry.Pid)
}

func getParent(filename string, depth int) string {
	for ; depth > 0; depth-- {
		filename = filepath.Dir(filename)
	}
	return filename
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (dr *Resolver) matchDiscardedPath(eventType model.EventType, path string) (string, bool) {
	dr.lock.RLock()
	defer dr.lock.RUnlock()

	for _, prefix := range dr.discardedPaths[eventType] {
		if hasPathPrefix(path, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// resolveChain returns the keys of the entry and of its parents up to the root
func (dr *Resolver) resolveChain(dentry *model.Dentry, key model.PathKey, path string) ([]model.PathKey, []string) {
	keys := []model.PathKey{key}
	paths := []string{path}

	for depth := 1; depth < maxPathDepth && path != "/"; depth++ {
		path = filepath.Dir(path)

		parentKey, err := dr.statKey(dentry.Pid, path)
		if err != nil {
			seclog.Tracef("unable to resolve parent `%s` of %s: %v", path, key.String(), err)
			break
		}
		parentKey.PathID = dr.discarders.PathID(parentKey.MountID, false)

		keys = append(keys, parentKey)
		paths = append(paths, path)
	}

	return keys, paths
}

// discard installs a discarder on the highest parent of the entry that is still under the
// discarded prefix, or on the entry itself
func (dr *Resolver) discard(eventType model.EventType, prefix string, keys []model.PathKey, paths []string) {
	for depth := maxParentDiscarderDepth; depth > 0; depth-- {
		if depth >= len(keys) {
			continue
		}
		if parent := paths[depth]; parent != "/" && hasPathPrefix(parent, prefix) {
			seclog.Tracef("`%s` discovered as parent discarder for `%s`", parent, eventType)
			dr.discarders.DiscardInode(eventType, keys[depth].MountID, keys[depth].Inode, false)
			return
		}
	}

	dr.discarders.DiscardInode(eventType, keys[0].MountID, keys[0].Inode, true)
}

// Resolve resolves the path of the entry and caches its leaves. When eventType is set, the
// entry and its parents are checked against the discarders and ErrDentryDiscarded is returned
// if the event should be discarded. Without event type the path is only resolved for the cache.
func (dr *Resolver) Resolve(dentry *model.Dentry, key model.PathKey, eventType model.EventType) error {
	path, err := absPath(dentry)
	if err != nil {
		return err
	}

	keys, paths := dr.resolveChain(dentry, key, path)

	if eventType != model.UnknownEventType {
		for depth := 0; depth < len(keys) && depth <= maxParentDiscarderDepth; depth++ {
			if dr.discarders.IsDiscardedByInode(eventType, keys[depth].MountID, keys[depth].Inode) {
				return ErrDentryDiscarded
			}
		}

		if prefix, found := dr.matchDiscardedPath(eventType, path); found {
			dr.discard(eventType, prefix, keys, paths)
			return ErrDentryDiscarded
		}
	}

	for i, k := range keys {
		leaf := cacheEntry{
			PathLeaf: model.PathLeaf{Name: filepath.Base(paths[i])},
			PathID:   k.PathID,
		}
		if i+1 < len(keys) {
			leaf.Parent = keys[i+1]
		}
		if err := dr.cacheInode(k.MountID, k.Inode, leaf); err != nil {
			return err
		}
	}

	return nil
}

func (dr *Resolver) cacheInode(mountID uint32, inode uint64, entry cacheEntry) error {
	dr.lock.Lock()
	entries, exists := dr.cache[mountID]
	if !exists {
		var err error

		entries, err = newBetterCache[uint64, cacheEntry](dr.cacheSize)
		if err != nil {
			dr.lock.Unlock()
			return err
		}
		dr.cache[mountID] = entries
	}
	dr.lock.Unlock()

	entries.Add(inode, entry)

	return nil
}

func (dr *Resolver) lookupInodeFromCache(mountID uint32, inode uint64) (cacheEntry, error) {
	dr.lock.RLock()
	entries, exists := dr.cache[mountID]
	dr.lock.RUnlock()

	if !exists {
		return cacheEntry{}, ErrEntryNotFound
	}

	entry, exists := entries.Get(inode)
	if !exists {
		return cacheEntry{}, ErrEntryNotFound
	}

	return entry, nil
}

// ResolvePath resolves the path of a key from the cache
func (dr *Resolver) ResolvePath(key model.PathKey) (string, error) {
	var filename string
	depth := int64(0)

	entry, err := dr.lookupInodeFromCache(key.MountID, key.Inode)
	if err != nil || entry.PathID != key.PathID {
		dr.missCounter.Inc()
		return "", ErrEntryNotFound
	}

	for depth < maxPathDepth {
		depth++

		if entry.Name != "/" {
			filename = "/" + entry.Name + filename
		}

		if entry.Parent.Inode == 0 {
			break
		}

		if entry, err = dr.lookupInodeFromCache(entry.Parent.MountID, entry.Parent.Inode); err != nil {
			break
		}
	}

	dr.hitsCounter.Add(depth)

	if len(filename) == 0 {
		filename = "/"
	}
	return filename, nil
}

// DelCacheEntry removes an entry from the cache
func (dr *Resolver) DelCacheEntry(mountID uint32, inode uint64) {
	dr.lock.RLock()
	entries, exists := dr.cache[mountID]
	dr.lock.RUnlock()

	if exists {
		entries.Remove(inode)
	}
}

// DelCacheEntries removes all the entries belonging to a mountID
func (dr *Resolver) DelCacheEntries(mountID uint32) {
	dr.lock.Lock()
	defer dr.lock.Unlock()

	delete(dr.cache, mountID)
}

// SendStats sends the dentry resolver metrics
func (dr *Resolver) SendStats() error {
	if count := dr.hitsCounter.Swap(0); count > 0 {
		if err := dr.statsdClient.Count(metrics.MetricDentryResolverHits, count, []string{metrics.CacheTag}, 1.0); err != nil {
			return err
		}
	}

	if count := dr.missCounter.Swap(0); count > 0 {
		if err := dr.statsdClient.Count(metrics.MetricDentryResolverMiss, count, []string{metrics.CacheTag}, 1.0); err != nil {
			return err
		}
	}

	return nil
}
