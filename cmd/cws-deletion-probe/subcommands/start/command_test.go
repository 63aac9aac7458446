// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package start

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime_security_config:\n  output: /var/log/events.json\n"), 0o644))

	params := &cliParams{GlobalParams: &command.GlobalParams{ConfFilePath: path}}

	cfg, err := loadConfig(params)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/events.json", cfg.Output)

	params.output = "-"
	cfg, err = loadConfig(params)
	require.NoError(t, err)
	assert.Equal(t, "-", cfg.Output)

	client, err := newStatsdClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &statsd.NoOpClient{}, client)
}

func TestOpenOutput(t *testing.T) {
	stdout, err := openOutput("-")
	require.NoError(t, err)
	assert.NoError(t, stdout.Close())

	path := filepath.Join(t.TempDir(), "events.json")
	f, err := openOutput(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("{}\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))

	_, err = openOutput(filepath.Join(t.TempDir(), "missing", "events.json"))
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	cmds := Commands(&command.GlobalParams{})
	require.Len(t, cmds, 1)
	require.NoError(t, cmds[0].ParseFlags([]string{"--output", "/tmp/out.json"}))

	output, err := cmds[0].Flags().GetString("output")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.json", output)
}
