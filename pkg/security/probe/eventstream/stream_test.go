// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package eventstream

import (
	"context"
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
	counts map[string]int64
}

func (c *countingClient) Count(name string, value int64, tags []string, _ float64) error {
	for _, tag := range tags {
		name += "," + tag
	}
	c.counts[name] += value
	return nil
}

func TestStreamLost(t *testing.T) {
	s := New(2)

	event := model.DeletionEvent{Type: model.FileUnlinkEventType}
	event.File.Inode = 12
	event.File.MountID = 3

	var data [model.DeletionEventSize]byte
	_, err := event.MarshalBinaryTo(data[:])
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, i < 2, s.SendEvent(model.FileUnlinkEventType, data[:]), i)
	}
	assert.False(t, s.SendEvent(model.MaxEventType, data[:]))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(2), s.Stats().GetEventCount(model.FileUnlinkEventType))
	assert.Equal(t, int64(1), s.Stats().GetLost(model.FileUnlinkEventType))

	client := &countingClient{counts: make(map[string]int64)}
	require.NoError(t, s.SendStats(client))
	assert.Equal(t, int64(1), client.counts[metrics.MetricEventLost+",event_type:unlink"])
	assert.Zero(t, s.Stats().GetLost(model.FileUnlinkEventType))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan model.DeletionEvent, 2)
	go s.Run(ctx, func(record *Record) {
		var event model.DeletionEvent
		if _, err := event.UnmarshalBinary(record.Data[:]); err == nil {
			received <- event
		}
	})

	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			assert.Equal(t, uint64(12), event.File.Inode)
			assert.Equal(t, uint32(3), event.File.MountID)
		case <-time.After(5 * time.Second):
			t.Fatal("record not received")
		}
	}
}

func TestStreamDrain(t *testing.T) {
	s := New(4)
	for i := 0; i < 3; i++ {
		s.SendEvent(model.FileRmdirEventType, make([]byte, model.DeletionEventSize))
	}

	var count int
	s.Drain(func(_ *Record) { count++ })
	assert.Equal(t, 3, count)
	assert.Zero(t, s.Len())
}

func TestStreamRecordIsCopied(t *testing.T) {
	s := New(1)

	data := make([]byte, model.DeletionEventSize)
	data[0] = 1
	s.SendEvent(model.FileRmdirEventType, data)
	data[0] = 2

	record := <-s.records
	assert.Equal(t, byte(1), record.Data[0])
	assert.Equal(t, model.FileRmdirEventType, record.EventType)
}
