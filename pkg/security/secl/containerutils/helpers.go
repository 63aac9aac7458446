// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package containerutils holds multiple utils functions around Container IDs and their patterns
package containerutils

import (
	"regexp"
	"strings"
)

// ContainerID represents a container ID
type ContainerID string

// CGroupID represents a cgroup path
type CGroupID string

// CGroupFlags represents the flags of a cgroup, currently the manager that created it
type CGroupFlags uint64

const (
	// CGroupManagerDocker docker managed cgroup
	CGroupManagerDocker CGroupFlags = iota + 1
	// CGroupManagerCRIO cri-o managed cgroup
	CGroupManagerCRIO
	// CGroupManagerPodman podman managed cgroup
	CGroupManagerPodman
	// CGroupManagerCRI containerd managed cgroup
	CGroupManagerCRI
	// CGroupManagerSystemd systemd managed cgroup
	CGroupManagerSystemd
)

// RuntimePrefixes lists the cgroup name prefixes set by the container runtimes
var RuntimePrefixes = []struct {
	prefix string
	flags  CGroupFlags
}{
	{"docker-", CGroupManagerDocker},
	{"cri-containerd-", CGroupManagerCRI},
	{"crio-", CGroupManagerCRIO},
	{"libpod-", CGroupManagerPodman},
}

// ContainerIDPatternStr defines the regexp used to match container IDs
// ([0-9a-fA-F]{64}) is standard container id used pretty much everywhere, length: 64
// ([0-9a-fA-F]{32}-\d+) is container id used by AWS ECS, length: 43
// ([0-9a-fA-F]{8}(-[0-9a-fA-F]{4}){4}) is container id used by Garden, length: 28
var ContainerIDPatternStr = ""
var containerIDPattern *regexp.Regexp

var containerIDCoreChars = "0123456789abcdefABCDEF"

func init() {
	var prefixes []string
	for _, runtimePrefix := range RuntimePrefixes {
		prefixes = append(prefixes, runtimePrefix.prefix)
	}
	ContainerIDPatternStr = "(?:" + strings.Join(prefixes, "|") + ")?([0-9a-fA-F]{64})|([0-9a-fA-F]{32}-\\d+)|([0-9a-fA-F]{8}(-[0-9a-fA-F]{4}){4})"
	containerIDPattern = regexp.MustCompile(ContainerIDPatternStr)
}

func isSystemdCgroup(cgroup CGroupID) bool {
	return strings.HasSuffix(string(cgroup), ".service") || strings.HasSuffix(string(cgroup), ".scope")
}

func getContainerFromCgroup(cgroup CGroupID) (ContainerID, CGroupFlags) {
	for _, runtimePrefix := range RuntimePrefixes {
		if strings.HasPrefix(string(cgroup), runtimePrefix.prefix) {
			return ContainerID(cgroup[len(runtimePrefix.prefix):]), runtimePrefix.flags
		}
	}
	return "", 0
}

// FindContainerID extracts the first sub string that matches the pattern of a container ID along with the container flags induced from the container runtime prefix
func FindContainerID(s CGroupID) (ContainerID, CGroupFlags) {
	match := containerIDPattern.FindStringIndex(string(s))
	if match == nil {
		if isSystemdCgroup(s) {
			return "", CGroupManagerSystemd
		}
		return "", 0
	}

	// the match must be delimited by characters that can't be part of an ID
	if match[0] != 0 && strings.ContainsAny(string(s[match[0]-1]), containerIDCoreChars) {
		return "", 0
	}
	if match[1] < len(s) && strings.ContainsAny(string(s[match[1]]), containerIDCoreChars) {
		return "", 0
	}

	cgroupID := s[match[0]:match[1]]
	containerID, flags := getContainerFromCgroup(cgroupID)
	if containerID == "" {
		return ContainerID(cgroupID), flags
	}

	return containerID, flags
}
