// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ebpfless

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/atomic"
)

// Client sends messages to a probe
type Client struct {
	sync.Mutex

	conn net.Conn
	seq  *atomic.Uint64
}

// Dial connects to the probe, retrying every second up to nbAttempts times
func Dial(ctx context.Context, probeAddr string, nbAttempts uint) (*Client, error) {
	var (
		dialer net.Dialer
		conn   net.Conn
	)

	err := retry.Do(func() error {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", probeAddr)
		return err
	}, retry.Context(ctx), retry.Delay(time.Second), retry.Attempts(nbAttempts), retry.LastErrorOnly(true))
	if err != nil {
		return nil, err
	}

	return NewClient(conn), nil
}

// NewClient returns a client sending messages on the given connection
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		seq:  atomic.NewUint64(0),
	}
}

// Send assigns the next sequence number to the message and sends it
func (c *Client) Send(msg *Message) error {
	c.Lock()
	defer c.Unlock()

	msg.SeqNum = c.seq.Load()
	c.seq.Inc()

	return WriteMessage(c.conn, msg)
}

// SendHello sends the hello message
func (c *Client) SendHello(hello *HelloMsg) error {
	return c.Send(&Message{Type: MessageTypeHello, Hello: hello})
}

// SendSyscall sends a syscall message
func (c *Client) SendSyscall(syscall *SyscallMsg) error {
	return c.Send(&Message{Type: MessageTypeSyscall, Syscall: syscall})
}

// Close sends the goodbye message and closes the connection
func (c *Client) Close() error {
	_ = c.Send(&Message{Type: MessageTypeGoodbye})
	return c.conn.Close()
}
