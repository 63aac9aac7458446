// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package mount

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMountInfo = `21 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw
22 21 0:20 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw
23 21 0:21 / /tmp rw,nosuid,nodev shared:13 - tmpfs tmpfs rw
400 21 0:52 / /var/lib/docker/overlay2/abc/merged rw,relatime - overlay overlay rw,lowerdir=/var/lib/docker/overlay2/l/A:/var/lib/docker/overlay2/l/B:/var/lib/docker/overlay2/l/C,upperdir=/var/lib/docker/overlay2/abc/diff,workdir=/var/lib/docker/overlay2/abc/work
401 23 0:53 / /tmp/sub rw,relatime - tmpfs tmpfs rw
`

func newTestResolver(t *testing.T) *Resolver {
	mr := NewResolver(&statsd.NoOpClient{})
	require.NoError(t, mr.SyncFromReader(strings.NewReader(testMountInfo)))
	return mr
}

func TestSyncFromReader(t *testing.T) {
	mr := newTestResolver(t)
	assert.Equal(t, 5, mr.Len())

	root, err := mr.Get(21, 0)
	require.NoError(t, err)
	assert.Equal(t, "/", root.MountPoint)
	assert.Equal(t, "ext4", root.FSType)
	assert.False(t, root.IsOverlayFS())
	assert.Equal(t, uint32(0), root.OverlayNumLower())

	overlay, err := mr.Get(400, 0)
	require.NoError(t, err)
	assert.True(t, overlay.IsOverlayFS())
	assert.Equal(t, uint32(3), overlay.OverlayNumLower())
	assert.Equal(t, uint32(3), mr.OverlayNumLower(400, 0))

	_, err = mr.Get(0, 0)
	assert.ErrorIs(t, err, ErrMountUndefined)
	_, err = mr.Get(999, 0)
	assert.ErrorIs(t, err, ErrMountNotFound)
	assert.Equal(t, uint32(0), mr.OverlayNumLower(999, 0))
}

func TestSplitLowerDirs(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b"}, splitLowerDirs("/a:/b"))
	assert.Equal(t, []string{"/a:b", "/c"}, splitLowerDirs(`/a\:b:/c`))
	assert.Empty(t, splitLowerDirs(""))
	assert.Equal(t, []string{"/a"}, ParseLowerDirs("rw,lowerdir=/a,upperdir=/u"))
}

func TestResolveMountID(t *testing.T) {
	mr := newTestResolver(t)

	testCases := []struct {
		path    string
		mountID uint32
	}{
		{"/etc/passwd", 21},
		{"/tmp/dir", 23},
		{"/tmp/sub/dir", 401},
		{"/tmp/subdir", 23},
		{"/var/lib/docker/overlay2/abc/merged/etc", 400},
	}

	for _, tc := range testCases {
		mountID, err := mr.ResolveMountID(0, tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.mountID, mountID, tc.path)
	}
}

func TestDelete(t *testing.T) {
	mr := newTestResolver(t)

	assert.ErrorIs(t, mr.Delete(999), ErrMountNotFound)
	require.NoError(t, mr.Delete(23))

	// still resolvable until the delete delay expires
	_, err := mr.Get(23, 0)
	require.NoError(t, err)

	mr.dequeue(time.Now().Add(deleteDelayTime + time.Second))

	_, err = mr.Get(23, 0)
	assert.ErrorIs(t, err, ErrMountNotFound)
	// children are removed with their parent
	_, err = mr.Get(401, 0)
	assert.ErrorIs(t, err, ErrMountNotFound)
	assert.Equal(t, 3, mr.Len())
}

func TestInsertReplacesDeleted(t *testing.T) {
	mr := newTestResolver(t)

	require.NoError(t, mr.Delete(401))
	mr.Insert(Mount{MountID: 401, ParentMountID: 23, MountPoint: "/tmp/other", FSType: "tmpfs"})

	// the mount id was reused before the delete delay expired
	mr.dequeue(time.Now().Add(deleteDelayTime + time.Second))

	mount, err := mr.Get(401, 0)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other", mount.MountPoint)
	assert.Equal(t, 5, mr.Len())
}

func TestSyncCache(t *testing.T) {
	procDir := t.TempDir()
	t.Setenv("HOST_PROC", procDir)

	require.NoError(t, os.MkdirAll(filepath.Join(procDir, "42"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "42", "mountinfo"), []byte(testMountInfo), 0o644))

	mr := NewResolver(&statsd.NoOpClient{})
	mount, err := mr.Get(400, 42)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), mount.OverlayNumLower())

	_, err = mr.Get(999, 42)
	assert.ErrorIs(t, err, ErrMountNotFound)
}
