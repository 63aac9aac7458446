// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package probe

import (
	"go.uber.org/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

// EnabledEvents holds the set of event types that are sent. It can be updated while the
// probe is running.
type EnabledEvents struct {
	mask *atomic.Uint64
}

func eventTypesMask(eventTypes []model.EventType) uint64 {
	var mask uint64
	for _, eventType := range eventTypes {
		mask |= 1 << eventType
	}
	return mask
}

// NewEnabledEvents returns the set of the given event types
func NewEnabledEvents(eventTypes ...model.EventType) *EnabledEvents {
	return &EnabledEvents{
		mask: atomic.NewUint64(eventTypesMask(eventTypes)),
	}
}

// IsEnabled returns whether the event type is sent
func (e *EnabledEvents) IsEnabled(eventType model.EventType) bool {
	return e.mask.Load()&(1<<eventType) != 0
}

// Set replaces the set of enabled event types
func (e *EnabledEvents) Set(eventTypes []model.EventType) {
	e.mask.Store(eventTypesMask(eventTypes))
}

// Enable enables an event type
func (e *EnabledEvents) Enable(eventType model.EventType) {
	for {
		old := e.mask.Load()
		if e.mask.CompareAndSwap(old, old|1<<eventType) {
			return
		}
	}
}

// Disable disables an event type
func (e *EnabledEvents) Disable(eventType model.EventType) {
	for {
		old := e.mask.Load()
		if e.mask.CompareAndSwap(old, old&^(1<<eventType)) {
			return
		}
	}
}

// EventTypes returns the enabled event types
func (e *EnabledEvents) EventTypes() []model.EventType {
	mask := e.mask.Load()

	var eventTypes []model.EventType
	for eventType := model.UnknownEventType + 1; eventType < model.MaxEventType; eventType++ {
		if mask&(1<<eventType) != 0 {
			eventTypes = append(eventTypes, eventType)
		}
	}
	return eventTypes
}
