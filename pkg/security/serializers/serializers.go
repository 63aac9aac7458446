// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package serializers holds the JSON representation of the deletion events
package serializers

import (
	"path"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// FileActivityCategory is the category of the deletion events
	FileActivityCategory = "File Activity"

	outcomeSuccess = "Success"
	outcomeRefused = "Refused"
	outcomeError   = "Error"
)

// FileSerializer serializes a file to JSON
type FileSerializer struct {
	// File path
	Path string `json:"path,omitempty"`
	// File basename
	Name string `json:"name,omitempty"`
	// File inode number
	Inode uint64 `json:"inode"`
	// File mount ID
	MountID uint32 `json:"mount_id"`
	// Number of overlayfs lower layers of the mount
	OverlayNumLower uint32 `json:"overlay_numlower,omitempty"`
}

// FileEventSerializer serializes a file event to JSON
type FileEventSerializer struct {
	FileSerializer
	// Flags of the unlink syscall
	Flags []string `json:"flags,omitempty"`
}

// ProcessContextSerializer serializes a process context to JSON
type ProcessContextSerializer struct {
	// Process ID
	Pid uint32 `json:"pid"`
	// Thread ID
	Tid uint32 `json:"tid"`
	// Parent Process ID
	PPid uint32 `json:"ppid,omitempty"`
	// User ID
	UID uint32 `json:"uid"`
	// Group ID
	GID uint32 `json:"gid"`
	// Command name
	Comm string `json:"comm,omitempty"`
}

// ContainerContextSerializer serializes a container context to JSON
type ContainerContextSerializer struct {
	// Container ID
	ID string `json:"id,omitempty"`
}

// EventContextSerializer serializes an event context to JSON
type EventContextSerializer struct {
	// Event name
	Name string `json:"name,omitempty"`
	// Event category
	Category string `json:"category,omitempty"`
	// Event outcome
	Outcome string `json:"outcome,omitempty"`
}

// SyscallSerializer serializes the syscall return value to JSON
type SyscallSerializer struct {
	// Return value of the syscall
	Retval int64 `json:"retval"`
	// Error of the syscall, if any
	Error string `json:"error,omitempty"`
}

// EventSerializer serializes an event to JSON
type EventSerializer struct {
	EventContextSerializer `json:"evt"`
	Date                   time.Time                   `json:"date"`
	File                   *FileEventSerializer        `json:"file"`
	Syscall                SyscallSerializer           `json:"syscall"`
	DiscarderRevision      uint32                      `json:"discarder_revision"`
	Process                *ProcessContextSerializer   `json:"process,omitempty"`
	Container              *ContainerContextSerializer `json:"container,omitempty"`
}

func outcome(retval int64) string {
	switch {
	case retval >= 0:
		return outcomeSuccess
	case retval == -int64(syscall.EACCES) || retval == -int64(syscall.EPERM):
		return outcomeRefused
	}
	return outcomeError
}

func newFileEventSerializer(event *model.DeletionEvent, filePath string) *FileEventSerializer {
	fs := &FileEventSerializer{
		FileSerializer: FileSerializer{
			Path:            filePath,
			Inode:           event.File.Inode,
			MountID:         event.File.MountID,
			OverlayNumLower: event.File.OverlayNumLower,
		},
	}
	if filePath != "" {
		fs.Name = path.Base(filePath)
	}
	if event.Flags != 0 {
		fs.Flags = model.UnlinkFlags(event.Flags).StringArray()
	}
	return fs
}

func newProcessContextSerializer(pc *model.ProcessContext) *ProcessContextSerializer {
	if pc.Pid == 0 {
		return nil
	}
	return &ProcessContextSerializer{
		Pid:  pc.Pid,
		Tid:  pc.Tid,
		PPid: pc.PPid,
		UID:  pc.UID,
		GID:  pc.GID,
		Comm: pc.GetComm(),
	}
}

func newContainerContextSerializer(cc *model.ContainerContext) *ContainerContextSerializer {
	id := cc.GetID()
	if id == "" {
		return nil
	}
	return &ContainerContextSerializer{ID: string(id)}
}

// NewEventSerializer returns the serializer of a deletion event. The path is empty when it
// couldn't be resolved.
func NewEventSerializer(event *model.DeletionEvent, filePath string, date time.Time) *EventSerializer {
	return &EventSerializer{
		EventContextSerializer: EventContextSerializer{
			Name:     event.Type.String(),
			Category: FileActivityCategory,
			Outcome:  outcome(event.Retval),
		},
		Date: date.UTC(),
		File: newFileEventSerializer(event, filePath),
		Syscall: SyscallSerializer{
			Retval: event.Retval,
			Error:  model.RetValError(event.Retval).String(),
		},
		DiscarderRevision: event.DiscarderRevision,
		Process:           newProcessContextSerializer(&event.Process),
		Container:         newContainerContextSerializer(&event.Container),
	}
}

// MarshalEvent returns the JSON representation of a deletion event
func MarshalEvent(event *model.DeletionEvent, filePath string, date time.Time) ([]byte, error) {
	return json.Marshal(NewEventSerializer(event, filePath, date))
}
