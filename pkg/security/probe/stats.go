// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package probe

import (
	"errors"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/syscalls"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

type discardReason int

const (
	discardedByProcess discardReason = iota
	discardedByDentry
	maxDiscardReason
)

func (r discardReason) String() string {
	switch r {
	case discardedByProcess:
		return "process"
	case discardedByDentry:
		return "dentry"
	}
	return "unknown"
}

// Stats holds the counters of the probe, flushed by SendStats
type Stats struct {
	sent      [model.MaxEventType]atomic.Uint64
	dropped   [model.MaxEventType]atomic.Uint64
	discarded [model.MaxEventType][maxDiscardReason]atomic.Uint64

	rejectedPending atomic.Uint64
	rejectedFull    atomic.Uint64
	flushed         atomic.Uint64
}

// NewStats returns a new Stats
func NewStats() *Stats {
	return &Stats{}
}

// CountSent counts an event sent
func (s *Stats) CountSent(eventType model.EventType) {
	if eventType < model.MaxEventType {
		s.sent[eventType].Inc()
	}
}

// CountDropped counts an event dropped because of a syscall error
func (s *Stats) CountDropped(eventType model.EventType) {
	if eventType < model.MaxEventType {
		s.dropped[eventType].Inc()
	}
}

// CountDiscarded counts an event discarded in the inode hook
func (s *Stats) CountDiscarded(eventType model.EventType, reason discardReason) {
	if eventType < model.MaxEventType && reason < maxDiscardReason {
		s.discarded[eventType][reason].Inc()
	}
}

// CountRejected counts a syscall that couldn't be tracked
func (s *Stats) CountRejected(err error) {
	switch {
	case errors.Is(err, syscalls.ErrSyscallPending):
		s.rejectedPending.Inc()
	case errors.Is(err, syscalls.ErrCacheFull):
		s.rejectedFull.Inc()
	}
}

// CountFlushed counts a syscall dropped because its thread exited before the syscall exit
func (s *Stats) CountFlushed() {
	s.flushed.Inc()
}

// Flushed returns the number of flushed syscalls, without resetting the counter
func (s *Stats) Flushed() uint64 {
	return s.flushed.Load()
}

// Sent returns the number of events sent, without resetting the counter
func (s *Stats) Sent(eventType model.EventType) uint64 {
	return s.sent[eventType].Load()
}

// Dropped returns the number of events dropped, without resetting the counter
func (s *Stats) Dropped(eventType model.EventType) uint64 {
	return s.dropped[eventType].Load()
}

// Discarded returns the number of events discarded for any reason, without resetting the counters
func (s *Stats) Discarded(eventType model.EventType) uint64 {
	var total uint64
	for reason := discardReason(0); reason < maxDiscardReason; reason++ {
		total += s.discarded[eventType][reason].Load()
	}
	return total
}

// SendStats sends the counters accumulated since the previous call and the number of syscalls in flight
func (s *Stats) SendStats(client statsd.ClientInterface, inFlight int) error {
	if err := client.Gauge(metrics.MetricSyscallsInFlight, float64(inFlight), nil, 1.0); err != nil {
		return err
	}

	for _, rejected := range []struct {
		reason  string
		counter *atomic.Uint64
	}{
		{"pending", &s.rejectedPending},
		{"full", &s.rejectedFull},
	} {
		if value := rejected.counter.Swap(0); value > 0 {
			if err := client.Count(metrics.MetricSyscallsRejected, int64(value), []string{"reason:" + rejected.reason}, 1.0); err != nil {
				return err
			}
		}
	}

	if value := s.flushed.Swap(0); value > 0 {
		if err := client.Count(metrics.MetricSyscallsFlushed, int64(value), nil, 1.0); err != nil {
			return err
		}
	}

	for eventType := model.FirstDiscarderEventType; eventType <= model.LastDiscarderEventType; eventType++ {
		tags := []string{"event_type:" + eventType.String()}

		if value := s.sent[eventType].Swap(0); value > 0 {
			if err := client.Count(metrics.MetricEventSent, int64(value), tags, 1.0); err != nil {
				return err
			}
		}

		if value := s.dropped[eventType].Swap(0); value > 0 {
			if err := client.Count(metrics.MetricEventDropped, int64(value), tags, 1.0); err != nil {
				return err
			}
		}

		for reason := discardReason(0); reason < maxDiscardReason; reason++ {
			if value := s.discarded[eventType][reason].Swap(0); value > 0 {
				reasonTags := append([]string{"reason:" + reason.String()}, tags...)
				if err := client.Count(metrics.MetricEventDiscarded, int64(value), reasonTags, 1.0); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
