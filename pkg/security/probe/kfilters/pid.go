// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package kfilters

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

// PidDiscarderCacheSize is the maximum number of pid discarders
const PidDiscarderCacheSize = 1024

// PidDiscarders holds the processes for which the events are discarded. A pid discarder
// expires after the configured timeout, zero means it lasts until the process exits.
type PidDiscarders struct {
	sync.Mutex
	entries *expirable.LRU[uint32, uint64]
}

// NewPidDiscarders returns a new pid discarders cache
func NewPidDiscarders(size int, timeout time.Duration) *PidDiscarders {
	return &PidDiscarders{
		entries: expirable.NewLRU[uint32, uint64](size, nil, timeout),
	}
}

// DiscardPid adds a discarder for the given event type and process
func (pd *PidDiscarders) DiscardPid(eventType model.EventType, pid uint32) {
	pd.Lock()
	defer pd.Unlock()

	mask, _ := pd.entries.Get(pid)
	pd.entries.Add(pid, mask|eventMask(eventType))
}

// IsDiscarded returns whether the process is discarded for the event type
func (pd *PidDiscarders) IsDiscarded(eventType model.EventType, pid uint32) bool {
	mask, exists := pd.entries.Get(pid)
	return exists && mask&eventMask(eventType) != 0
}

// Remove removes the discarders of a process
func (pd *PidDiscarders) Remove(pid uint32) {
	pd.entries.Remove(pid)
}

// Purge removes all the pid discarders
func (pd *PidDiscarders) Purge() {
	pd.entries.Purge()
}

// Len returns the number of pid discarders
func (pd *PidDiscarders) Len() int {
	return pd.entries.Len()
}
