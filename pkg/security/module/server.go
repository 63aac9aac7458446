// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package module

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/atomic"

	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/proto/ebpfless"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
)

// SyscallHandler handles the syscall messages sent by the tracers
type SyscallHandler func(msg *ebpfless.SyscallMsg)

// SyscallServer receives the syscall messages of the tracers. Each connection is served by
// its own goroutine, messages of a connection are handled in order. When a connection ends,
// the flush handler is called for each thread left in the middle of a deletion syscall.
type SyscallServer struct {
	sync.Mutex

	listener net.Listener
	handler  SyscallHandler
	flush    SyscallHandler
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	connections *atomic.Int64
	messages    *atomic.Int64
}

// NewSyscallServer listens on the given address, flush can be nil
func NewSyscallServer(addr string, handler SyscallHandler, flush SyscallHandler) (*SyscallServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &SyscallServer{
		listener:    listener,
		handler:     handler,
		flush:       flush,
		conns:       make(map[net.Conn]struct{}),
		connections: atomic.NewInt64(0),
		messages:    atomic.NewInt64(0),
	}, nil
}

// Addr returns the address the server listens on
func (s *SyscallServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Start accepts the connections until the server is stopped
func (s *SyscallServer) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					seclog.Errorf("unable to accept connection: %v", err)
				}
				return
			}

			s.Lock()
			s.conns[conn] = struct{}{}
			s.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(ctx, conn)
			}()
		}
	}()
}

// pendingThreads tracks the threads of a connection that are in the middle of a deletion syscall
type pendingThreads map[threadID]uint32

type threadID struct {
	nsid uint64
	tid  uint32
}

func (pt pendingThreads) update(msg *ebpfless.SyscallMsg) {
	id := threadID{nsid: msg.NSID, tid: msg.TID}
	if id.tid == 0 {
		id.tid = msg.PID
	}

	switch msg.Type {
	case ebpfless.SyscallTypeRmdir, ebpfless.SyscallTypeUnlink:
		switch msg.Phase {
		case ebpfless.PhaseEntry:
			pt[id] = msg.PID
		case ebpfless.PhaseExit:
			delete(pt, id)
		}
	case ebpfless.SyscallTypeExit:
		delete(pt, id)
	}
}

func (s *SyscallServer) handleConn(ctx context.Context, conn net.Conn) {
	var (
		containerID string
		nsid        uint64
		nextSeqNum  uint64
		pending     = make(pendingThreads)
	)

	s.connections.Inc()
	defer func() {
		if s.flush != nil {
			for id, pid := range pending {
				s.flush(&ebpfless.SyscallMsg{NSID: id.nsid, PID: pid, TID: id.tid})
			}
		}

		s.connections.Dec()

		s.Lock()
		delete(s.conns, conn)
		s.Unlock()

		conn.Close()
	}()

	seclog.Debugf("tracer connected from %s", conn.RemoteAddr())

	for ctx.Err() == nil {
		var msg ebpfless.Message
		if err := ebpfless.ReadMessage(conn, &msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				seclog.Warnf("unable to read message from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		if msg.SeqNum != nextSeqNum {
			seclog.Debugf("%d messages lost by %s", msg.SeqNum-nextSeqNum, conn.RemoteAddr())
		}
		nextSeqNum = msg.SeqNum + 1

		switch msg.Type {
		case ebpfless.MessageTypeHello:
			if msg.Hello == nil {
				continue
			}
			nsid = msg.Hello.NSID
			if msg.Hello.ContainerContext != nil {
				containerID = msg.Hello.ContainerContext.ID
			}
		case ebpfless.MessageTypeSyscall:
			if msg.Syscall == nil {
				continue
			}
			if msg.Syscall.ContainerID == "" {
				msg.Syscall.ContainerID = containerID
			}
			if msg.Syscall.NSID == 0 {
				msg.Syscall.NSID = nsid
			}
			pending.update(msg.Syscall)

			s.messages.Inc()
			s.handler(msg.Syscall)
		case ebpfless.MessageTypeGoodbye:
			seclog.Debugf("tracer %s disconnected", conn.RemoteAddr())
			return
		}
	}
}

// Stop closes the listener and the connections, and waits for the handlers to return
func (s *SyscallServer) Stop() error {
	err := s.listener.Close()

	s.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.Unlock()

	s.wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// SendStats sends the server metrics
func (s *SyscallServer) SendStats(client statsd.ClientInterface) error {
	if err := client.Gauge(metrics.MetricConnections, float64(s.connections.Load()), nil, 1.0); err != nil {
		return err
	}

	if count := s.messages.Swap(0); count > 0 {
		if err := client.Count(metrics.MetricMessagesReceived, count, nil, 1.0); err != nil {
			return err
		}
	}
	return nil
}
