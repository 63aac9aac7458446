// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package kfilters

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

type countingClient struct {
	statsd.NoOpClient

	sync.Mutex
	counts map[string]int64
}

func (c *countingClient) Count(name string, value int64, tags []string, _ float64) error {
	c.Lock()
	defer c.Unlock()

	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	if len(tags) == 0 {
		c.counts[name] += value
	}
	for _, tag := range tags {
		c.counts[name+":"+tag] += value
	}
	return nil
}

func newTestDiscarders(t *testing.T) *Discarders {
	d, err := NewDiscarders(Opts{MountCounters: 16, InodeCacheSize: 64})
	require.NoError(t, err)
	return d
}

func TestMountCounters(t *testing.T) {
	mc := NewMountCounters(4)

	assert.Equal(t, uint32(1), mc.Inc(5))
	assert.Equal(t, uint32(2), mc.Inc(5))
	// 1 and 5 share the same counter
	assert.Equal(t, uint32(2), mc.Get(1))

	assert.Equal(t, uint32(0), mc.Next(2))
	assert.Equal(t, uint32(1), mc.Next(2))
	assert.Equal(t, uint32(2), mc.Get(2))

	mc.counter(3).Store(math.MaxUint32)
	assert.Equal(t, uint32(1), mc.Inc(3))
}

func TestMountCountersConcurrent(t *testing.T) {
	mc := NewMountCounters(8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := uint32(0)
			for j := 0; j < 1000; j++ {
				next := mc.Inc(5)
				if next <= prev {
					t.Errorf("revision decreased: %d <= %d", next, prev)
					return
				}
				prev = next
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(16000), mc.Get(5))
}

func TestInodeDiscarders(t *testing.T) {
	d := newTestDiscarders(t)

	d.DiscardInode(model.FileRmdirEventType, 5, 100, true)
	assert.True(t, d.IsDiscardedByInode(model.FileRmdirEventType, 5, 100))
	assert.False(t, d.IsDiscardedByInode(model.FileUnlinkEventType, 5, 100))
	assert.False(t, d.IsDiscardedByInode(model.FileRmdirEventType, 6, 100))

	d.DiscardInode(model.FileUnlinkEventType, 5, 100, true)
	assert.True(t, d.IsDiscardedByInode(model.FileUnlinkEventType, 5, 100))

	// a revision bump invalidates the discarders of the mount
	d.BumpRevision(5)
	assert.False(t, d.IsDiscardedByInode(model.FileRmdirEventType, 5, 100))

	// inode 0 is never discarded
	d.DiscardInode(model.FileRmdirEventType, 5, 0, true)
	assert.False(t, d.IsDiscardedByInode(model.FileRmdirEventType, 5, 0))
}

func TestInodeDiscarderRecentlyAdded(t *testing.T) {
	revisions := NewMountCounters(4)
	id, err := NewInodeDiscarders(16, revisions)
	require.NoError(t, err)

	now := time.Now()
	id.now = func() time.Time { return now }

	assert.True(t, id.DiscardInode(model.FileRmdirEventType, 1, 10, false))
	assert.False(t, id.DiscardInode(model.FileRmdirEventType, 1, 10, false))

	now = now.Add(3 * time.Second)
	assert.True(t, id.DiscardInode(model.FileRmdirEventType, 1, 10, false))
}

func TestPidDiscarders(t *testing.T) {
	d := newTestDiscarders(t)

	d.DiscardPid(model.FileUnlinkEventType, 42)

	assert.False(t, d.IsDiscardedByProcess(model.PolicyModeNoFilter, model.FileUnlinkEventType, 42))
	assert.True(t, d.IsDiscardedByProcess(model.PolicyModeAccept, model.FileUnlinkEventType, 42))
	assert.False(t, d.IsDiscardedByProcess(model.PolicyModeAccept, model.FileRmdirEventType, 42))
	assert.False(t, d.IsDiscardedByProcess(model.PolicyModeAccept, model.FileUnlinkEventType, 43))

	d.RemovePid(42)
	assert.False(t, d.IsDiscardedByProcess(model.PolicyModeAccept, model.FileUnlinkEventType, 42))
}

func TestPidDiscarderTimeout(t *testing.T) {
	pd := NewPidDiscarders(16, 50*time.Millisecond)

	pd.DiscardPid(model.FileRmdirEventType, 42)
	assert.True(t, pd.IsDiscarded(model.FileRmdirEventType, 42))

	assert.Eventually(t, func() bool {
		return !pd.IsDiscarded(model.FileRmdirEventType, 42)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidateInode(t *testing.T) {
	d := newTestDiscarders(t)

	var notified []model.InvalidateDentryEvent
	d.OnInvalidate(func(event model.InvalidateDentryEvent) {
		notified = append(notified, event)
	})

	d.DiscardInode(model.FileRmdirEventType, 5, 100, true)
	d.InvalidateInode(5, 100, true)
	assert.False(t, d.IsDiscardedByInode(model.FileRmdirEventType, 5, 100))
	assert.Empty(t, notified)

	d.InvalidateInode(5, 200, false)
	assert.Equal(t, []model.InvalidateDentryEvent{{Inode: 200, MountID: 5}}, notified)

	// null keys are ignored
	d.InvalidateInode(0, 200, false)
	d.InvalidateInode(5, 0, false)
	assert.Len(t, notified, 1)
}

func TestPathID(t *testing.T) {
	d := newTestDiscarders(t)

	assert.Equal(t, uint32(0), d.PathID(5, false))
	assert.Equal(t, uint32(0), d.PathID(5, true))
	assert.Equal(t, uint32(1), d.PathID(5, false))
	assert.Equal(t, uint32(0), d.PathID(6, false))
}

func TestFlush(t *testing.T) {
	d := newTestDiscarders(t)

	d.DiscardInode(model.FileRmdirEventType, 5, 100, true)
	d.DiscardPid(model.FileRmdirEventType, 42)
	rev := d.Revision(5)

	d.Flush()
	assert.False(t, d.IsDiscardedByInode(model.FileRmdirEventType, 5, 100))
	assert.False(t, d.IsDiscardedByProcess(model.PolicyModeAccept, model.FileRmdirEventType, 42))
	assert.Greater(t, d.Revision(5), rev)
}

func TestSendStats(t *testing.T) {
	d := newTestDiscarders(t)
	client := &countingClient{}

	d.DiscardInode(model.FileRmdirEventType, 5, 100, true)
	d.IsDiscardedByInode(model.FileRmdirEventType, 5, 100)
	d.DiscardPid(model.FileRmdirEventType, 42)
	d.InvalidateInode(5, 100, true)

	require.NoError(t, d.SendStats(client))
	assert.Equal(t, int64(1), client.counts[metrics.MetricDiscarderAdded+":type:inode"])
	assert.Equal(t, int64(1), client.counts[metrics.MetricDiscarderAdded+":type:pid"])
	assert.Equal(t, int64(1), client.counts[metrics.MetricDiscarderHits+":type:inode"])
	assert.Equal(t, int64(1), client.counts[metrics.MetricInvalidations])

	// counters are reset once sent
	client.counts = nil
	require.NoError(t, d.SendStats(client))
	assert.Empty(t, client.counts)
}
