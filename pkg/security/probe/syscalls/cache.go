// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package syscalls

import (
	"errors"

	"go.uber.org/atomic"
)

const (
	// MaxProbes is the maximum number of slots visited to find the state of a thread
	MaxProbes = 32

	slotFree     = uint64(0)
	slotReserved = uint64(1) << 62
	slotOccupied = uint64(1) << 63
)

var (
	// ErrSyscallPending is returned when the thread already has a syscall in flight
	ErrSyscallPending = errors.New("syscall already pending for this thread")
	// ErrCacheFull is returned when no slot is available for the thread
	ErrCacheFull = errors.New("syscall cache full")
)

type slot struct {
	// owner is slotFree, slotReserved while the state is written, or slotOccupied|key
	owner atomic.Uint64
	state State
}

// Cache is a fixed size arena of syscall states indexed by thread key. Each thread owns at
// most one slot, found by probing at most MaxProbes slots from the hash of its key. A slot
// is only read and written by the thread that owns it.
type Cache struct {
	slots []slot
	size  uint32
	len   *atomic.Int64
}

// NewCache returns a cache able to track size syscalls at once
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 1
	}
	return &Cache{
		slots: make([]slot, size),
		size:  uint32(size),
		len:   atomic.NewInt64(0),
	}
}

func (c *Cache) probes() uint32 {
	if c.size < MaxProbes {
		return c.size
	}
	return MaxProbes
}

func (c *Cache) index(key ThreadKey, i uint32) uint32 {
	// fibonacci hashing spreads consecutive thread ids
	h := uint32((uint64(key) * 0x9e3779b97f4a7c15) >> 32)
	return (h + i) % c.size
}

func (c *Cache) lookup(key ThreadKey) *slot {
	owner := slotOccupied | uint64(key)
	for i := uint32(0); i < c.probes(); i++ {
		s := &c.slots[c.index(key, i)]
		if s.owner.Load() == owner {
			return s
		}
	}
	return nil
}

// Create stores a new state for the thread
func (c *Cache) Create(key ThreadKey, state State) error {
	if c.lookup(key) != nil {
		return ErrSyscallPending
	}

	for i := uint32(0); i < c.probes(); i++ {
		s := &c.slots[c.index(key, i)]
		if !s.owner.CompareAndSwap(slotFree, slotReserved) {
			continue
		}
		s.state = state
		s.owner.Store(slotOccupied | uint64(key))
		c.len.Inc()
		return nil
	}

	return ErrCacheFull
}

// Peek returns the state of the thread if its type is one of the given types. The returned
// state can be updated in place until it is popped.
func (c *Cache) Peek(key ThreadKey, types Types) *State {
	s := c.lookup(key)
	if s == nil || !types.Contains(s.state.Type) {
		return nil
	}
	return &s.state
}

// Pop removes and returns the state of the thread if its type is one of the given types
func (c *Cache) Pop(key ThreadKey, types Types) (State, bool) {
	s := c.lookup(key)
	if s == nil || !types.Contains(s.state.Type) {
		return State{}, false
	}

	state := s.state
	s.state = State{}
	s.owner.Store(slotFree)
	c.len.Dec()

	return state, true
}

// Len returns the number of syscalls in flight
func (c *Cache) Len() int {
	return int(c.len.Load())
}
