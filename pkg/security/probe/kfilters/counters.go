// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package kfilters holds the discarders applied while tracking the deletion syscalls
package kfilters

import (
	"go.uber.org/atomic"
)

// MountCounters is a fixed array of counters indexed by mount id. Mount ids are folded
// onto the array, two mounts can share a counter.
type MountCounters struct {
	counters []atomic.Uint32
}

// NewMountCounters returns size counters
func NewMountCounters(size int) *MountCounters {
	if size <= 0 {
		size = 1
	}
	return &MountCounters{
		counters: make([]atomic.Uint32, size),
	}
}

func (mc *MountCounters) counter(mountID uint32) *atomic.Uint32 {
	return &mc.counters[mountID%uint32(len(mc.counters))]
}

// Get returns the current value of the mount counter
func (mc *MountCounters) Get(mountID uint32) uint32 {
	return mc.counter(mountID).Load()
}

// Inc increments the mount counter and returns the new value, zero is skipped on wrap
func (mc *MountCounters) Inc(mountID uint32) uint32 {
	c := mc.counter(mountID)
	for {
		prev := c.Load()
		next := prev + 1
		if next == 0 {
			next = 1
		}
		if c.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Next returns the current value of the mount counter and increments it
func (mc *MountCounters) Next(mountID uint32) uint32 {
	return mc.counter(mountID).Inc() - 1
}

// IncAll increments all the counters
func (mc *MountCounters) IncAll() {
	for i := range mc.counters {
		mc.Inc(uint32(i))
	}
}

// Len returns the number of counters
func (mc *MountCounters) Len() int {
	return len(mc.counters)
}
