// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package kfilters

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

const (
	// inode/mountid that won't be resubmitted
	maxRecentlyAddedCacheSize = uint64(64)

	// recentlyAddedTimeout do not add twice the same discarder in 2sec
	recentlyAddedTimeout = 2 * time.Second
)

// InodeDiscarderParams describes the discarder of an inode
type InodeDiscarderParams struct {
	EventMask uint64
	// Revision is the discarder revision of the mount when the discarder was added
	Revision uint32
	IsLeaf   bool
}

// InodeDiscarderEntry describes a recently added discarder
type InodeDiscarderEntry struct {
	EventType model.EventType
	Inode     uint64
	MountID   uint32
	Timestamp time.Time
}

func eventMask(eventType model.EventType) uint64 {
	return 1 << uint64(eventType)
}

func recentlyAddedIndex(mountID uint32, inode uint64) uint64 {
	return (uint64(mountID)<<32 | inode) % maxRecentlyAddedCacheSize
}

// InodeDiscarders holds the inodes for which the events are discarded. A discarder is only
// valid as long as the discarder revision of its mount didn't change.
type InodeDiscarders struct {
	sync.Mutex

	entries   *lru.Cache[model.PathKey, InodeDiscarderParams]
	revisions *MountCounters
	now       func() time.Time

	recentlyAddedEntries [maxRecentlyAddedCacheSize]InodeDiscarderEntry
}

// NewInodeDiscarders returns a new inode discarders cache
func NewInodeDiscarders(size int, revisions *MountCounters) (*InodeDiscarders, error) {
	entries, err := lru.New[model.PathKey, InodeDiscarderParams](size)
	if err != nil {
		return nil, err
	}

	return &InodeDiscarders{
		entries:   entries,
		revisions: revisions,
		now:       time.Now,
	}, nil
}

func (id *InodeDiscarders) isRecentlyAdded(eventType model.EventType, mountID uint32, inode uint64, timestamp time.Time) bool {
	entry := id.recentlyAddedEntries[recentlyAddedIndex(mountID, inode)]

	delta := timestamp.Sub(entry.Timestamp)
	if delta < 0 {
		delta = -delta
	}

	return entry.EventType == eventType && entry.MountID == mountID && entry.Inode == inode && delta < recentlyAddedTimeout
}

func (id *InodeDiscarders) recentlyAdded(eventType model.EventType, mountID uint32, inode uint64, timestamp time.Time) {
	entry := &id.recentlyAddedEntries[recentlyAddedIndex(mountID, inode)]
	entry.EventType = eventType
	entry.MountID = mountID
	entry.Inode = inode
	entry.Timestamp = timestamp
}

// DiscardInode adds a discarder for the given event type. It returns false if the same
// discarder was added recently.
func (id *InodeDiscarders) DiscardInode(eventType model.EventType, mountID uint32, inode uint64, isLeaf bool) bool {
	id.Lock()
	defer id.Unlock()

	now := id.now()
	if id.isRecentlyAdded(eventType, mountID, inode, now) {
		return false
	}

	key := model.PathKey{MountID: mountID, Inode: inode}
	revision := id.revisions.Get(mountID)

	params, exists := id.entries.Get(key)
	if !exists || params.Revision != revision {
		params = InodeDiscarderParams{Revision: revision}
	}
	params.EventMask |= eventMask(eventType)
	params.IsLeaf = isLeaf

	id.entries.Add(key, params)
	id.recentlyAdded(eventType, mountID, inode, now)

	return true
}

// IsDiscarded returns whether the inode is discarded for the event type
func (id *InodeDiscarders) IsDiscarded(eventType model.EventType, mountID uint32, inode uint64) bool {
	params, exists := id.entries.Get(model.PathKey{MountID: mountID, Inode: inode})
	if !exists {
		return false
	}
	return params.EventMask&eventMask(eventType) != 0 && params.Revision == id.revisions.Get(mountID)
}

// Remove removes the discarders of an inode
func (id *InodeDiscarders) Remove(mountID uint32, inode uint64) bool {
	id.Lock()
	defer id.Unlock()

	if entry := &id.recentlyAddedEntries[recentlyAddedIndex(mountID, inode)]; entry.MountID == mountID && entry.Inode == inode {
		*entry = InodeDiscarderEntry{}
	}

	return id.entries.Remove(model.PathKey{MountID: mountID, Inode: inode})
}

// Purge removes all the inode discarders
func (id *InodeDiscarders) Purge() {
	id.Lock()
	defer id.Unlock()

	id.entries.Purge()
	id.recentlyAddedEntries = [maxRecentlyAddedCacheSize]InodeDiscarderEntry{}
}

// Len returns the number of inode discarders
func (id *InodeDiscarders) Len() int {
	return id.entries.Len()
}
