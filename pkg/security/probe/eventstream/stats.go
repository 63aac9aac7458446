// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package eventstream

import (
	"sync/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

// EventsStats holds statistics about the number of lost and received records
type EventsStats struct {
	Lost         [model.MaxEventType]int64
	PerEventType [model.MaxEventType]int64
}

// GetLost returns the number of lost records of the specified type
func (e *EventsStats) GetLost(eventType model.EventType) int64 {
	return atomic.LoadInt64(&e.Lost[eventType])
}

// GetAndResetLost returns the number of lost records of the specified type and resets the counter
func (e *EventsStats) GetAndResetLost(eventType model.EventType) int64 {
	return atomic.SwapInt64(&e.Lost[eventType], 0)
}

// GetEventCount returns the number of received records of the specified type
func (e *EventsStats) GetEventCount(eventType model.EventType) int64 {
	return atomic.LoadInt64(&e.PerEventType[eventType])
}

// GetAndResetEventCount returns the number of received records of the specified type and resets the counter
func (e *EventsStats) GetAndResetEventCount(eventType model.EventType) int64 {
	return atomic.SwapInt64(&e.PerEventType[eventType], 0)
}

// CountLost adds `count` to the counter of lost records of the specified type
func (e *EventsStats) CountLost(eventType model.EventType, count int64) {
	atomic.AddInt64(&e.Lost[eventType], count)
}

// CountEventType adds `count` to the counter of received records of the specified type
func (e *EventsStats) CountEventType(eventType model.EventType, count int64) {
	atomic.AddInt64(&e.PerEventType[eventType], count)
}
