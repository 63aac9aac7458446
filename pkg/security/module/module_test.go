// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package module

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/cws-deletion-probe/pkg/security/config"
	sprobe "github.com/DataDog/cws-deletion-probe/pkg/security/probe"
	"github.com/DataDog/cws-deletion-probe/pkg/security/proto/ebpfless"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/dentry"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/serializers"
)

type syncBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Events(t *testing.T) []serializers.EventSerializer {
	b.Lock()
	defer b.Unlock()

	var events []serializers.EventSerializer
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var event serializers.EventSerializer
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	return events
}

func newTestConfig(t *testing.T) *config.Config {
	cfg, err := config.NewConfig(config.New())
	require.NoError(t, err)

	cfg.EbpflessAddress = "127.0.0.1:0"
	cfg.StatsPeriod = time.Hour
	return cfg
}

type testTarget struct {
	path    string
	inode   uint64
	mountID uint32
}

func newTestTarget(t *testing.T, dir string, name string) testTarget {
	path := filepath.Join(dir, name)
	require.NoError(t, os.Mkdir(path, 0o755))

	inode, mountID, err := dentry.Statx(path)
	if err != nil || mountID == 0 {
		t.Skipf("statx not supported: %v", err)
	}
	return testTarget{path: path, inode: inode, mountID: mountID}
}

func testDir(t *testing.T) string {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func startTestModule(t *testing.T, cfg *config.Config) (*Module, *syncBuffer, *ebpfless.Client) {
	output := &syncBuffer{}

	m, err := NewModule(cfg, Opts{Output: output})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	client, err := ebpfless.Dial(context.Background(), m.Addr().String(), 3)
	require.NoError(t, err)

	return m, output, client
}

func sendRmdir(t *testing.T, client *ebpfless.Client, pid uint32, target testTarget, retval int64) {
	msgs := []*ebpfless.SyscallMsg{
		{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseEntry, PID: pid},
		{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseMntWantWrite, PID: pid, File: &ebpfless.FileSyscallMsg{MountID: target.mountID}},
		{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseInodeHook, PID: pid, File: &ebpfless.FileSyscallMsg{Path: target.path, Inode: target.inode}},
		{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseExit, PID: pid, Retval: retval},
	}
	for _, msg := range msgs {
		require.NoError(t, client.SendSyscall(msg))
	}
}

func sendExec(t *testing.T, client *ebpfless.Client, pid uint32, comm string) {
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{
		Type: ebpfless.SyscallTypeExec,
		PID:  pid,
		Exec: &ebpfless.ExecSyscallMsg{Filename: "/usr/bin/" + comm, Comm: comm},
	}))
}

func TestModuleRmdir(t *testing.T) {
	target := newTestTarget(t, testDir(t), "victim")
	pid := uint32(os.Getpid())

	m, output, client := startTestModule(t, newTestConfig(t))

	require.NoError(t, client.SendHello(&ebpfless.HelloMsg{ContainerContext: &ebpfless.ContainerContext{ID: "cafe"}}))
	sendExec(t, client, pid, "rm")
	sendRmdir(t, client, pid, target, 0)
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return m.Probe().Stats().Sent(model.FileRmdirEventType) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())

	events := output.Events(t)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "rmdir", event.Name)
	assert.Equal(t, "Success", event.Outcome)
	assert.Equal(t, target.path, event.File.Path)
	assert.Equal(t, "victim", event.File.Name)
	assert.Equal(t, target.inode, event.File.Inode)
	assert.Equal(t, target.mountID, event.File.MountID)
	assert.NotZero(t, event.DiscarderRevision)
	require.NotNil(t, event.Process)
	assert.Equal(t, pid, event.Process.Pid)
	assert.Equal(t, "rm", event.Process.Comm)
	require.NotNil(t, event.Container)
	assert.Equal(t, "cafe", event.Container.ID)
}

func TestModuleDiscardedProcess(t *testing.T) {
	target := newTestTarget(t, testDir(t), "victim")
	pid := uint32(os.Getpid())

	cfg := newTestConfig(t)
	cfg.Policies[model.FileRmdirEventType] = model.PolicyModeAccept
	cfg.DiscardedProcesses[model.FileRmdirEventType] = []string{"logrotate"}

	m, output, client := startTestModule(t, cfg)

	sendExec(t, client, pid, "logrotate")
	sendRmdir(t, client, pid, target, 0)
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return m.Probe().Stats().Discarded(model.FileRmdirEventType) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.Empty(t, output.Events(t))
}

func TestModuleDiscardedPath(t *testing.T) {
	dir := testDir(t)
	first := newTestTarget(t, dir, "first")
	second := newTestTarget(t, dir, "second")
	pid := uint32(os.Getpid())

	m, output, client := startTestModule(t, newTestConfig(t))

	policies := *m.Config()
	policies.Policies = map[model.EventType]model.PolicyMode{model.FileRmdirEventType: model.PolicyModeAccept}
	policies.DiscardedPaths = map[model.EventType][]string{model.FileRmdirEventType: {dir}}
	m.ApplyPolicies(&policies)

	sendExec(t, client, pid, "rm")
	sendRmdir(t, client, pid, first, 0)
	// discarded by the parent discarder installed for the first entry
	sendRmdir(t, client, pid, second, 0)
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return m.Probe().Stats().Discarded(model.FileRmdirEventType) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.Empty(t, output.Events(t))
}

func TestModuleProcessLifecycle(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Policies[model.FileUnlinkEventType] = model.PolicyModeAccept
	cfg.DiscardedProcesses[model.FileUnlinkEventType] = []string{"logrotate"}

	m, err := NewModule(cfg, Opts{})
	require.NoError(t, err)

	const pid = 1 << 22

	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeFork, PID: pid, Fork: &ebpfless.ForkSyscallMsg{PPID: uint32(os.Getpid())}})
	m.HandleSyscallMsg(&ebpfless.SyscallMsg{
		Type:        ebpfless.SyscallTypeExec,
		PID:         pid,
		ContainerID: "beef",
		Exec:        &ebpfless.ExecSyscallMsg{Filename: "/usr/sbin/logrotate", Credentials: &ebpfless.Credentials{UID: 42, GID: 43}},
	})

	entry := m.processResolver.Resolve(pid, pid)
	require.NotNil(t, entry)
	assert.Equal(t, "logrotate", entry.Comm)
	assert.Equal(t, uint32(os.Getpid()), entry.PPid)
	assert.Equal(t, uint32(42), entry.UID)
	assert.Equal(t, "beef", string(entry.ContainerID))

	assert.True(t, m.discarders.IsDiscardedByProcess(model.PolicyModeAccept, model.FileUnlinkEventType, pid))
	assert.False(t, m.discarders.IsDiscardedByProcess(model.PolicyModeAccept, model.FileRmdirEventType, pid))

	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeExit, PID: pid, Exit: &ebpfless.ExitSyscallMsg{}})
	assert.False(t, m.discarders.IsDiscardedByProcess(model.PolicyModeAccept, model.FileUnlinkEventType, pid))

	var found bool
	m.processResolver.Walk(func(entry *model.ProcessCacheEntry) {
		found = found || entry.Pid == pid
	})
	assert.False(t, found)
}

func TestModuleApplyPoliciesFlushesDiscarders(t *testing.T) {
	m, err := NewModule(newTestConfig(t), Opts{})
	require.NoError(t, err)

	m.discarders.DiscardPid(model.FileRmdirEventType, 10)

	cfg := newTestConfig(t)
	cfg.EventTypes = []model.EventType{model.FileUnlinkEventType}
	m.ApplyPolicies(cfg)

	assert.False(t, m.discarders.IsDiscardedByProcess(model.PolicyModeAccept, model.FileRmdirEventType, 10))
	assert.False(t, m.events.IsEnabled(model.FileRmdirEventType))
	assert.True(t, m.events.IsEnabled(model.FileUnlinkEventType))

	policies := m.policyMonitor.Policies()
	require.Len(t, policies, 2)
	assert.False(t, policies[0].Enabled)
	assert.True(t, policies[1].Enabled)

	assert.NoError(t, m.SendStats())
	assert.NoError(t, m.policyMonitor.SendStats())
}

func TestModuleDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Enabled = false

	_, err := NewModule(cfg, Opts{})
	assert.ErrorIs(t, err, ErrModuleDisabled)
}

func TestSyscallServer(t *testing.T) {
	var (
		lock sync.Mutex
		msgs []*ebpfless.SyscallMsg
	)

	server, err := NewSyscallServer("127.0.0.1:0", func(msg *ebpfless.SyscallMsg) {
		lock.Lock()
		msgs = append(msgs, msg)
		lock.Unlock()
	}, nil)
	require.NoError(t, err)
	server.Start(context.Background())

	client, err := ebpfless.Dial(context.Background(), server.Addr().String(), 3)
	require.NoError(t, err)

	require.NoError(t, client.SendHello(&ebpfless.HelloMsg{ContainerContext: &ebpfless.ContainerContext{ID: "cafe"}}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeExit, PID: 1}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeExit, PID: 2, ContainerID: "beef"}))

	assert.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(msgs) == 2
	}, 5*time.Second, 10*time.Millisecond)

	lock.Lock()
	assert.Equal(t, "cafe", msgs[0].ContainerID)
	assert.Equal(t, "beef", msgs[1].ContainerID)
	lock.Unlock()

	// the connection is still open, stop must close it
	require.NoError(t, server.Stop())
	assert.Zero(t, server.connections.Load())
	_ = client.Close()
}

func TestModuleExitFlushesSyscall(t *testing.T) {
	m, err := NewModule(newTestConfig(t), Opts{})
	require.NoError(t, err)

	const pid = 4242

	// killed in the middle of rmdir, the syscall exit is never reported
	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseEntry, PID: pid})
	assert.Equal(t, 1, m.Probe().InFlight())

	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeExit, PID: pid, Exit: &ebpfless.ExitSyscallMsg{}})
	assert.Zero(t, m.Probe().InFlight())
	assert.Equal(t, uint64(1), m.Probe().Stats().Flushed())

	// the pid is reused by a new process
	status := m.Probe().HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeUnlink, Phase: ebpfless.PhaseEntry, PID: pid})
	assert.Equal(t, sprobe.StatusTracked, status)
}

func TestSyscallServerDisconnectFlush(t *testing.T) {
	var (
		lock    sync.Mutex
		msgs    []*ebpfless.SyscallMsg
		flushed []*ebpfless.SyscallMsg
	)

	server, err := NewSyscallServer("127.0.0.1:0", func(msg *ebpfless.SyscallMsg) {
		lock.Lock()
		msgs = append(msgs, msg)
		lock.Unlock()
	}, func(msg *ebpfless.SyscallMsg) {
		lock.Lock()
		flushed = append(flushed, msg)
		lock.Unlock()
	})
	require.NoError(t, err)
	server.Start(context.Background())
	t.Cleanup(func() { _ = server.Stop() })

	client, err := ebpfless.Dial(context.Background(), server.Addr().String(), 3)
	require.NoError(t, err)

	require.NoError(t, client.SendHello(&ebpfless.HelloMsg{NSID: 4026532512}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseEntry, PID: 10}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeUnlink, Phase: ebpfless.PhaseEntry, PID: 11, TID: 12}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeUnlink, Phase: ebpfless.PhaseExit, PID: 11, TID: 12}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeUnlink, Phase: ebpfless.PhaseEntry, PID: 13}))
	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeExit, PID: 13}))
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(msgs) == 5 && len(flushed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	lock.Lock()
	defer lock.Unlock()

	for _, msg := range msgs {
		assert.Equal(t, uint64(4026532512), msg.NSID)
	}
	assert.Equal(t, uint64(4026532512), flushed[0].NSID)
	assert.Equal(t, uint32(10), flushed[0].PID)
	assert.Equal(t, uint32(10), flushed[0].TID)
}

func TestModuleDisconnectFlushesSyscall(t *testing.T) {
	m, _, client := startTestModule(t, newTestConfig(t))

	require.NoError(t, client.SendSyscall(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeRmdir, Phase: ebpfless.PhaseEntry, PID: 4242}))

	assert.Eventually(t, func() bool {
		return m.Probe().InFlight() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return m.Probe().InFlight() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), m.Probe().Stats().Flushed())
}

func TestModuleMountLifecycle(t *testing.T) {
	m, err := NewModule(newTestConfig(t), Opts{})
	require.NoError(t, err)

	const mountID = 900

	m.HandleSyscallMsg(&ebpfless.SyscallMsg{
		Type: ebpfless.SyscallTypeMount,
		PID:  1,
		Mount: &ebpfless.MountSyscallMsg{
			MountID:       mountID,
			ParentMountID: 1,
			MountPoint:    "/var/lib/docker/overlay2/abc/merged",
			FSType:        "overlay",
			Source:        "overlay",
			VFSOptions:    "rw,lowerdir=/l/A:/l/B,upperdir=/u,workdir=/w",
		},
	})

	mnt, err := m.mountResolver.Get(mountID, 0)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/docker/overlay2/abc/merged", mnt.MountPoint)
	assert.Equal(t, uint32(2), m.mountResolver.OverlayNumLower(mountID, 0))

	// failed mounts are ignored
	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeMount, Retval: -1, Mount: &ebpfless.MountSyscallMsg{MountID: mountID + 1}})
	_, err = m.mountResolver.Get(mountID+1, 0)
	assert.Error(t, err)

	revision := m.discarders.Revision(mountID)
	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeUmount, PID: 1, Umount: &ebpfless.UmountSyscallMsg{MountID: mountID}})
	assert.NotEqual(t, revision, m.discarders.Revision(mountID))

	// unknown mounts still bump the revision
	revision = m.discarders.Revision(mountID + 2)
	m.HandleSyscallMsg(&ebpfless.SyscallMsg{Type: ebpfless.SyscallTypeUmount, PID: 1, Umount: &ebpfless.UmountSyscallMsg{MountID: mountID + 2}})
	assert.NotEqual(t, revision, m.discarders.Revision(mountID+2))
}
