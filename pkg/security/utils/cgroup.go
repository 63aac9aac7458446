// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package utils holds utils related files
package utils

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/containerutils"
)

// ControlGroup describes the cgroup membership of a process
type ControlGroup struct {
	// ID unique hierarchy ID
	ID int

	// Controllers are the list of cgroup controllers bound to the hierarchy
	Controllers []string

	// Path is the pathname of the control group to which the process
	// belongs. It is relative to the mountpoint of the hierarchy.
	Path string
}

// GetContainerContext returns both the container ID and its flags
func (cg ControlGroup) GetContainerContext() (containerutils.ContainerID, containerutils.CGroupFlags) {
	return containerutils.FindContainerID(containerutils.CGroupID(cg.Path))
}

// ParseControlGroups parses the content of a /proc/<pid>/cgroup file
func ParseControlGroups(r io.Reader) ([]ControlGroup, error) {
	var cgroups []ControlGroup
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		cgroups = append(cgroups, ControlGroup{
			ID:          id,
			Controllers: strings.Split(parts[1], ","),
			Path:        parts[2],
		})
	}
	return cgroups, scanner.Err()
}

// GetProcControlGroups returns the cgroup membership of the specified task.
func GetProcControlGroups(tgid, pid uint32) ([]ControlGroup, error) {
	f, err := os.Open(CgroupTaskPath(tgid, pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseControlGroups(f)
}

// GetProcContainerContext returns the container ID which the process belongs to along with its manager. Returns "" if the process does not belong
// to a container.
func GetProcContainerContext(tgid, pid uint32) (containerutils.ContainerID, containerutils.CGroupFlags, error) {
	cgroups, err := GetProcControlGroups(tgid, pid)
	if err != nil {
		return "", 0, err
	}

	var flags containerutils.CGroupFlags
	for _, cgroup := range cgroups {
		containerID, runtime := cgroup.GetContainerContext()
		if containerID != "" {
			return containerID, runtime, nil
		}
		if flags == 0 {
			flags = runtime
		}
	}

	return "", flags, nil
}

// GetProcContainerID returns the container ID which the process belongs to. Returns "" if the process does not belong
// to a container.
func GetProcContainerID(tgid, pid uint32) (containerutils.ContainerID, error) {
	id, _, err := GetProcContainerContext(tgid, pid)
	return id, err
}
