// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package mount

import (
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

const overlayFSType = "overlay"

// Mount describes a mount point
type Mount struct {
	MountID       uint32
	ParentMountID uint32
	Device        uint32
	MountPoint    string
	Root          string
	FSType        string
	Source        string
	// LowerDirs holds the lower layers of an overlay mount
	LowerDirs []string
}

// IsOverlayFS returns whether it is an overlay fs
func (m *Mount) IsOverlayFS() bool {
	return m.FSType == overlayFSType
}

// OverlayNumLower returns the number of lower layers of an overlay mount, zero otherwise
func (m *Mount) OverlayNumLower() uint32 {
	if !m.IsOverlayFS() {
		return 0
	}
	return uint32(len(m.LowerDirs))
}

// splitLowerDirs splits the lowerdir option on the separators that are not escaped
func splitLowerDirs(value string) []string {
	var (
		dirs    []string
		current strings.Builder
		escaped bool
	)

	for _, c := range value {
		switch {
		case escaped:
			current.WriteRune(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ':':
			if current.Len() > 0 {
				dirs = append(dirs, current.String())
			}
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	if current.Len() > 0 {
		dirs = append(dirs, current.String())
	}

	return dirs
}

// ParseLowerDirs returns the lower layers listed in the options of an overlay mount
func ParseLowerDirs(vfsOptions string) []string {
	for _, opt := range strings.Split(vfsOptions, ",") {
		if value, found := strings.CutPrefix(opt, "lowerdir="); found {
			return splitLowerDirs(value)
		}
	}
	return nil
}

// newMountFromMountInfo creates a new Mount from parsed MountInfo data
func newMountFromMountInfo(mnt *mountinfo.Info) *Mount {
	m := &Mount{
		MountID:       uint32(mnt.ID),
		ParentMountID: uint32(mnt.Parent),
		Device:        uint32(unix.Mkdev(uint32(mnt.Major), uint32(mnt.Minor))),
		MountPoint:    mnt.Mountpoint,
		Root:          mnt.Root,
		FSType:        mnt.FSType,
		Source:        mnt.Source,
	}

	if m.IsOverlayFS() {
		m.LowerDirs = ParseLowerDirs(mnt.VFSOptions)
	}

	return m
}
