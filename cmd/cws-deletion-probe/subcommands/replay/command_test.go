// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package replay

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
	"github.com/DataDog/cws-deletion-probe/pkg/security/proto/ebpfless"
)

const messages = `
# rmdir of /tmp/dir by pid 42
{"Type": 1, "Hello": {"NSID": 1}}
{"Type": 2, "Syscall": {"Type": 1, "Phase": 0, "PID": 42}}
{"Type": 2, "Syscall": {"Type": 1, "Phase": 2, "PID": 42, "File": {"Path": "/tmp/dir"}}}
{"Type": 2, "Syscall": {"Type": 1, "Phase": 3, "PID": 42, "Retval": 0}}
`

func TestReadMessages(t *testing.T) {
	msgs, err := ReadMessages(strings.NewReader(messages))
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, ebpfless.MessageTypeHello, msgs[0].Type)
	assert.Equal(t, ebpfless.SyscallTypeRmdir, msgs[1].Syscall.Type)
	assert.Equal(t, ebpfless.PhaseInodeHook, msgs[2].Syscall.Phase)
	assert.Equal(t, "/tmp/dir", msgs[2].Syscall.File.Path)
	assert.Equal(t, ebpfless.PhaseExit, msgs[3].Syscall.Phase)

	_, err = ReadMessages(strings.NewReader("{\"Type\": 2}\n"))
	assert.Error(t, err)

	_, err = ReadMessages(strings.NewReader("not json\n"))
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []ebpfless.Message, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var msgs []ebpfless.Message
		for {
			var msg ebpfless.Message
			if err := ebpfless.ReadMessage(conn, &msg); err != nil {
				received <- msgs
				return
			}
			msgs = append(msgs, msg)
		}
	}()

	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte(messages), 0o644))

	var out bytes.Buffer
	err = replay(context.Background(), &out, &cliParams{
		GlobalParams: &command.GlobalParams{},
		file:         path,
		address:      ln.Addr().String(),
		attempts:     1,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "4 messages sent")

	msgs := <-received
	// the goodbye message is sent when the client is closed
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		assert.Equal(t, uint64(i), msg.SeqNum)
	}
	assert.Equal(t, ebpfless.MessageTypeGoodbye, msgs[4].Type)
}
