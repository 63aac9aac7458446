// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package utils

import (
	"os"
	"path/filepath"
	"strconv"
)

// HostProc returns the location of a host's procfs, honoring HOST_PROC
func HostProc(combineWith ...string) string {
	procPath := "/proc"
	if v, ok := os.LookupEnv("HOST_PROC"); ok && v != "" {
		procPath = v
	}
	return filepath.Join(append([]string{procPath}, combineWith...)...)
}

// Getpid returns the current process ID in the host namespace
func Getpid() uint32 {
	p, err := os.Readlink(HostProc("self"))
	if err == nil {
		if pid, err := strconv.ParseUint(p, 10, 32); err == nil {
			return uint32(pid)
		}
	}
	return uint32(os.Getpid())
}

// CgroupTaskPath returns the path to the cgroup file of a pid in /proc
func CgroupTaskPath(tgid, pid uint32) string {
	return HostProc(strconv.FormatUint(uint64(tgid), 10), "task", strconv.FormatUint(uint64(pid), 10), "cgroup")
}

// ProcRootPath returns the path to the root directory of a pid in /proc
func ProcRootPath(pid uint32) string {
	return HostProc(strconv.FormatUint(uint64(pid), 10), "root")
}

// ProcCwdPath returns the path to the current working directory of a pid in /proc
func ProcCwdPath(pid uint32) string {
	return HostProc(strconv.FormatUint(uint64(pid), 10), "cwd")
}

// ProcRootFilePath returns the path of a file as seen from the root of the given pid. Relative
// paths are resolved against the working directory of the process.
func ProcRootFilePath(pid uint32, file string) string {
	if filepath.IsAbs(file) {
		return filepath.Join(ProcRootPath(pid), file)
	}
	return filepath.Join(ProcCwdPath(pid), file)
}

// MountInfoPidPath returns the path to the mountinfo file of a pid in /proc
func MountInfoPidPath(pid uint32) string {
	return HostProc(strconv.FormatUint(uint64(pid), 10), "mountinfo")
}
