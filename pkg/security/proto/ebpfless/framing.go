// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpfless

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageSize is the maximum size of an encoded message
const MaxMessageSize = 64 * 1024

// ErrMessageTooLarge is returned when the size prefix exceeds MaxMessageSize
var ErrMessageTooLarge = errors.New("message too large")

// WriteMessage encodes the message and writes it prefixed by its size
func WriteMessage(w io.Writer, msg *Message) error {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("unable to marshal message: %w", err)
	}
	return WriteMessageData(w, data)
}

// WriteMessageData writes an encoded message prefixed by its size
func WriteMessageData(w io.Writer, data []byte) error {
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	var size [4]byte
	binary.NativeEndian.PutUint32(size[:], uint32(len(data)))
	if _, err := w.Write(size[:]); err != nil {
		return fmt.Errorf("unable to send size: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("unable to send message: %w", err)
	}
	return nil
}

// ReadMessage reads a size prefixed message. io.EOF is returned when the stream ends on a
// message boundary.
func ReadMessage(r io.Reader, msg *Message) error {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return err
	}

	n := binary.NativeEndian.Uint32(size[:])
	if n > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	*msg = Message{}
	if err := msgpack.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unable to unmarshal message: %w", err)
	}
	return nil
}
