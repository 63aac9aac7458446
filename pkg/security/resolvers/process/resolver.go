// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package process holds process related files
package process

import (
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
	"github.com/DataDog/cws-deletion-probe/pkg/security/utils"
)

// Resolver resolved process context
type Resolver struct {
	sync.RWMutex
	entryCache   map[uint32]*model.ProcessCacheEntry
	statsdClient statsd.ClientInterface

	cacheHits *atomic.Int64
	procHits  *atomic.Int64
	misses    *atomic.Int64
}

// NewResolver returns a new process resolver
func NewResolver(statsdClient statsd.ClientInterface) *Resolver {
	return &Resolver{
		entryCache:   make(map[uint32]*model.ProcessCacheEntry),
		statsdClient: statsdClient,
		cacheHits:    atomic.NewInt64(0),
		procHits:     atomic.NewInt64(0),
		misses:       atomic.NewInt64(0),
	}
}

// AddEntry adds an entry to the cache, replacing the previous entry of the pid
func (p *Resolver) AddEntry(entry *model.ProcessCacheEntry) {
	p.Lock()
	defer p.Unlock()

	p.insertEntry(entry)
}

func (p *Resolver) insertEntry(entry *model.ProcessCacheEntry) {
	if prev := p.entryCache[entry.Pid]; prev != nil {
		prev.Release()
	}
	entry.Retain()
	p.entryCache[entry.Pid] = entry
}

// DeleteEntry removes an entry from the cache
func (p *Resolver) DeleteEntry(pid uint32) {
	p.Lock()
	defer p.Unlock()

	if entry := p.entryCache[pid]; entry != nil {
		entry.Release()
		delete(p.entryCache, pid)
	}
}

// Walk iterates through the entire cache and call the provided callback on each entry
func (p *Resolver) Walk(callback func(entry *model.ProcessCacheEntry)) {
	p.RLock()
	defer p.RUnlock()

	for _, entry := range p.entryCache {
		callback(entry)
	}
}

// Resolve returns the cache entry of the given pid, read from /proc if not cached
func (p *Resolver) Resolve(pid, tid uint32) *model.ProcessCacheEntry {
	p.RLock()
	entry := p.entryCache[pid]
	p.RUnlock()

	if entry != nil {
		p.cacheHits.Inc()
		return entry
	}

	entry, err := newEntryFromProcfs(pid, tid)
	if err != nil {
		p.misses.Inc()
		seclog.Tracef("unable to resolve process %d from procfs: %v", pid, err)
		return nil
	}
	p.procHits.Inc()

	p.Lock()
	defer p.Unlock()

	// another thread might have inserted it in the meantime
	if cached := p.entryCache[pid]; cached != nil {
		return cached
	}
	p.insertEntry(entry)

	return entry
}

func newEntryFromProcfs(pid, tid uint32) (*model.ProcessCacheEntry, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}

	entry := model.NewProcessCacheEntry(pid)

	if ppid, err := proc.Ppid(); err == nil {
		entry.PPid = uint32(ppid)
	}
	if name, err := proc.Name(); err == nil {
		entry.Comm = name
	}
	if exe, err := proc.Exe(); err == nil {
		entry.FileName = exe
	}
	if uids, err := proc.Uids(); err == nil && len(uids) > 1 {
		entry.UID = uint32(uids[1])
	}
	if gids, err := proc.Gids(); err == nil && len(gids) > 1 {
		entry.GID = uint32(gids[1])
	}
	if createTime, err := proc.CreateTime(); err == nil {
		entry.ExecTime = time.UnixMilli(createTime)
	}

	if tid == 0 {
		tid = pid
	}
	if containerID, err := utils.GetProcContainerID(pid, tid); err == nil {
		entry.ContainerID = containerID
	} else if containerID, err = utils.GetProcContainerID(pid, pid); err == nil {
		entry.ContainerID = containerID
	}

	return entry, nil
}

// ResolveContainerContext returns the container context of a process cache entry
func (p *Resolver) ResolveContainerContext(entry *model.ProcessCacheEntry) model.ContainerContext {
	var ctx model.ContainerContext
	if entry != nil {
		ctx.SetID(entry.ContainerID)
	}
	return ctx
}

// Len returns the number of cached entries
func (p *Resolver) Len() int {
	p.RLock()
	defer p.RUnlock()

	return len(p.entryCache)
}

// SendStats sends process resolver metrics
func (p *Resolver) SendStats() error {
	if err := p.statsdClient.Gauge(metrics.MetricProcessResolverCacheSize, float64(p.Len()), []string{}, 1.0); err != nil {
		return err
	}

	if count := p.cacheHits.Swap(0); count > 0 {
		if err := p.statsdClient.Count(metrics.MetricProcessResolverHits, count, []string{metrics.CacheTag}, 1.0); err != nil {
			return err
		}
	}

	if count := p.procHits.Swap(0); count > 0 {
		if err := p.statsdClient.Count(metrics.MetricProcessResolverHits, count, []string{metrics.ProcFSTag}, 1.0); err != nil {
			return err
		}
	}

	if count := p.misses.Swap(0); count > 0 {
		if err := p.statsdClient.Count(metrics.MetricProcessResolverMiss, count, []string{}, 1.0); err != nil {
			return err
		}
	}

	return nil
}
