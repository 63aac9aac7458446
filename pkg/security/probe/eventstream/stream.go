// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package eventstream holds the stream of records sent by the probe to user space consumers
package eventstream

import (
	"context"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
)

// DefaultBufferSize is the number of records buffered when no size is configured
const DefaultBufferSize = 1024

// Record is a fixed size event record
type Record struct {
	EventType model.EventType
	Data      [model.DeletionEventSize]byte
}

// Handler consumes the records of the stream
type Handler func(record *Record)

// Stream is a bounded stream of records. Writers never block: a record sent while the stream
// is full is lost and counted.
type Stream struct {
	records chan Record
	stats   EventsStats
}

// New returns a new stream buffering up to bufferSize records
func New(bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Stream{
		records: make(chan Record, bufferSize),
	}
}

// SendEvent copies the record into the stream. It returns false when the record is lost.
func (s *Stream) SendEvent(eventType model.EventType, data []byte) bool {
	if eventType >= model.MaxEventType {
		return false
	}

	record := Record{EventType: eventType}
	copy(record.Data[:], data)

	select {
	case s.records <- record:
		s.stats.CountEventType(eventType, 1)
		return true
	default:
		s.stats.CountLost(eventType, 1)
		return false
	}
}

// Run calls the handler for each record until the context is done
func (s *Stream) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-s.records:
			handler(&record)
		}
	}
}

// Drain calls the handler for the records already in the stream, without waiting for new ones
func (s *Stream) Drain(handler Handler) {
	for {
		select {
		case record := <-s.records:
			handler(&record)
		default:
			return
		}
	}
}

// Len returns the number of records waiting to be consumed
func (s *Stream) Len() int {
	return len(s.records)
}

// Stats returns the statistics of the stream
func (s *Stream) Stats() *EventsStats {
	return &s.stats
}

// SendStats sends the number of records lost since the previous call
func (s *Stream) SendStats(client statsd.ClientInterface) error {
	for eventType := model.FirstDiscarderEventType; eventType <= model.LastDiscarderEventType; eventType++ {
		if lost := s.stats.GetAndResetLost(eventType); lost > 0 {
			seclog.Debugf("%d %s records lost", lost, eventType)

			tags := []string{"event_type:" + eventType.String()}
			if err := client.Count(metrics.MetricEventLost, lost, tags, 1.0); err != nil {
				return err
			}
		}
	}
	return nil
}
