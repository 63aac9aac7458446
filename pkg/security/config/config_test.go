// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

func TestDefaults(t *testing.T) {
	c, err := NewConfig(New())
	require.NoError(t, err)

	assert.True(t, c.Enabled)
	assert.Equal(t, 8192, c.SyscallCacheSize)
	assert.Equal(t, 10*time.Second, c.PIDDiscarderTimeout)
	assert.Equal(t, DefaultEbpflessAddress, c.EbpflessAddress)
	assert.Equal(t, []model.EventType{model.FileRmdirEventType, model.FileUnlinkEventType}, c.EventTypes)
	assert.Empty(t, c.Policies)
	assert.Equal(t, model.PolicyModeNoFilter, c.PolicyMode(model.FileRmdirEventType))
	assert.True(t, c.IsEventTypeEnabled(model.FileUnlinkEventType))
	assert.Empty(t, c.LogTags)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DD_RUNTIME_SECURITY_CONFIG_SYSCALL_CACHE_SIZE", "64")
	t.Setenv("DD_RUNTIME_SECURITY_CONFIG_EBPFLESS_ADDRESS", "0.0.0.0:9999")

	c, err := NewConfig(New())
	require.NoError(t, err)
	assert.Equal(t, 64, c.SyscallCacheSize)
	assert.Equal(t, "0.0.0.0:9999", c.EbpflessAddress)
}

func TestPolicies(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(`
runtime_security_config:
  event_types:
    - rmdir
  policies:
    - event_type: rmdir
      mode: accept
      discarded_paths:
        - /var/log/
        - /tmp
      discarded_processes:
        - logrotate
    - event_type: unlink
      mode: deny
`)))

	c, err := NewConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.FileRmdirEventType}, c.EventTypes)
	assert.False(t, c.IsEventTypeEnabled(model.FileUnlinkEventType))
	assert.Equal(t, model.PolicyModeAccept, c.PolicyMode(model.FileRmdirEventType))
	assert.Equal(t, model.PolicyModeDeny, c.PolicyMode(model.FileUnlinkEventType))
	assert.Equal(t, []string{"/var/log", "/tmp"}, c.DiscardedPaths[model.FileRmdirEventType])
	assert.Empty(t, c.DiscardedPaths[model.FileUnlinkEventType])
	assert.True(t, c.IsProcessDiscarded(model.FileRmdirEventType, "logrotate"))
	assert.False(t, c.IsProcessDiscarded(model.FileUnlinkEventType, "logrotate"))
}

func TestInvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{
			name: "unnamed policy",
			yaml: "runtime_security_config:\n  policies:\n    - mode: accept\n",
		},
		{
			name: "unknown mode",
			yaml: "runtime_security_config:\n  policies:\n    - event_type: rmdir\n      mode: block\n",
		},
		{
			name: "unknown event type",
			yaml: "runtime_security_config:\n  event_types: [rmdir, open]\n",
		},
		{
			name: "relative discarded path",
			yaml: "runtime_security_config:\n  policies:\n    - event_type: rmdir\n      mode: accept\n      discarded_paths: [tmp]\n",
		},
		{
			name: "discarders without filter",
			yaml: "runtime_security_config:\n  policies:\n    - event_type: rmdir\n      discarded_processes: [rm]\n",
		},
		{
			name: "empty syscall cache",
			yaml: "runtime_security_config:\n  syscall_cache_size: 0\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(tc.yaml)))
			_, err := NewConfig(cfg)
			assert.Error(t, err)
		})
	}

	cfg := New()
	require.NoError(t, cfg.ReadConfig(bytes.NewBufferString("runtime_security_config:\n  policies:\n    - mode: accept\n")))
	_, err := NewConfig(cfg)
	assert.ErrorIs(t, err, ErrUnnamedPolicy)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime_security_config:\n  log_level: debug\n  log_tags:\n    - rmdir\n"), 0o644))

	c, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, []string{"rmdir"}, c.LogTags)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
