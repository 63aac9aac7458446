// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package model

// MarshalBinaryTo writes the binary representation of the process context into data
func (p *ProcessContext) MarshalBinaryTo(data []byte) (int, error) {
	if len(data) < ProcessContextSize {
		return 0, ErrNotEnoughSpace
	}

	ByteOrder.PutUint32(data[0:4], p.Pid)
	ByteOrder.PutUint32(data[4:8], p.Tid)
	ByteOrder.PutUint32(data[8:12], p.PPid)
	ByteOrder.PutUint32(data[12:16], p.UID)
	ByteOrder.PutUint32(data[16:20], p.GID)
	ByteOrder.PutUint32(data[20:24], 0) // padding
	copy(data[24:24+CommLen], p.Comm[:])

	return ProcessContextSize, nil
}

// UnmarshalBinary unmarshalls a binary representation of itself
func (p *ProcessContext) UnmarshalBinary(data []byte) (int, error) {
	if len(data) < ProcessContextSize {
		return 0, ErrNotEnoughData
	}

	p.Pid = ByteOrder.Uint32(data[0:4])
	p.Tid = ByteOrder.Uint32(data[4:8])
	p.PPid = ByteOrder.Uint32(data[8:12])
	p.UID = ByteOrder.Uint32(data[12:16])
	p.GID = ByteOrder.Uint32(data[16:20])
	copy(p.Comm[:], data[24:24+CommLen])

	return ProcessContextSize, nil
}

// MarshalBinaryTo writes the binary representation of the container context into data
func (c *ContainerContext) MarshalBinaryTo(data []byte) (int, error) {
	if len(data) < ContainerContextSize {
		return 0, ErrNotEnoughSpace
	}
	copy(data[0:ContainerIDLen], c.ID[:])
	return ContainerContextSize, nil
}

// UnmarshalBinary unmarshalls a binary representation of itself
func (c *ContainerContext) UnmarshalBinary(data []byte) (int, error) {
	if len(data) < ContainerContextSize {
		return 0, ErrNotEnoughData
	}
	copy(c.ID[:], data[0:ContainerIDLen])
	return ContainerContextSize, nil
}

// MarshalBinaryTo writes the fixed size record of the event into data. The caller owns the
// buffer so that the probe can build records without allocating.
func (e *DeletionEvent) MarshalBinaryTo(data []byte) (int, error) {
	if len(data) < DeletionEventSize {
		return 0, ErrNotEnoughSpace
	}

	ByteOrder.PutUint32(data[0:4], uint32(e.Type))
	ByteOrder.PutUint32(data[4:8], e.Flags)
	ByteOrder.PutUint64(data[8:16], uint64(e.Retval))
	e.File.PathKey.Write(data[16:32])
	ByteOrder.PutUint32(data[32:36], e.File.OverlayNumLower)
	ByteOrder.PutUint32(data[36:40], e.DiscarderRevision)
	offset := 40

	n, err := e.Process.MarshalBinaryTo(data[offset:])
	if err != nil {
		return 0, err
	}
	offset += n

	n, err = e.Container.MarshalBinaryTo(data[offset:])
	if err != nil {
		return 0, err
	}

	return offset + n, nil
}

// UnmarshalBinary unmarshalls a binary representation of itself
func (e *DeletionEvent) UnmarshalBinary(data []byte) (int, error) {
	if len(data) < DeletionEventSize {
		return 0, ErrNotEnoughData
	}

	e.Type = EventType(ByteOrder.Uint32(data[0:4]))
	e.Flags = ByteOrder.Uint32(data[4:8])
	e.Retval = int64(ByteOrder.Uint64(data[8:16]))
	if _, err := e.File.PathKey.UnmarshalBinary(data[16:32]); err != nil {
		return 0, err
	}
	e.File.OverlayNumLower = ByteOrder.Uint32(data[32:36])
	e.DiscarderRevision = ByteOrder.Uint32(data[36:40])
	offset := 40

	n, err := e.Process.UnmarshalBinary(data[offset:])
	if err != nil {
		return 0, err
	}
	offset += n

	n, err = e.Container.UnmarshalBinary(data[offset:])
	if err != nil {
		return 0, err
	}

	return offset + n, nil
}
