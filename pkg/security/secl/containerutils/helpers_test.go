// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package containerutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindContainerID(t *testing.T) {
	const id = "aa4e2d9e4d7b5ab1f8f2b4ea7bf2a6a3a9e1ad5d5e3b64b1e8e2a5b6b6c8d9e1"

	testCases := []struct {
		name          string
		input         CGroupID
		expectedID    ContainerID
		expectedFlags CGroupFlags
	}{
		{
			name:       "cgroupfs",
			input:      CGroupID("/docker/" + id),
			expectedID: ContainerID(id),
		},
		{
			name:          "systemd docker scope",
			input:         CGroupID("/system.slice/docker-" + id + ".scope"),
			expectedID:    ContainerID(id),
			expectedFlags: CGroupManagerDocker,
		},
		{
			name:          "containerd",
			input:         CGroupID("/kubepods.slice/cri-containerd-" + id + ".scope"),
			expectedID:    ContainerID(id),
			expectedFlags: CGroupManagerCRI,
		},
		{
			name:       "ecs",
			input:      CGroupID("/ecs/task/0123456789abcdef0123456789abcdef-1234567890"),
			expectedID: ContainerID("0123456789abcdef0123456789abcdef-1234567890"),
		},
		{
			name:          "systemd service",
			input:         CGroupID("/system.slice/cron.service"),
			expectedFlags: CGroupManagerSystemd,
		},
		{
			name:  "too long",
			input: CGroupID("/docker/" + id + "ff"),
		},
		{
			name:  "host",
			input: CGroupID("/user.slice/user-1000.slice"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			containerID, flags := FindContainerID(tc.input)
			assert.Equal(t, tc.expectedID, containerID)
			assert.Equal(t, tc.expectedFlags, flags)
		})
	}
}
