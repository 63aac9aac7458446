// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package config holds config related files
package config

import (
	"path/filepath"
	"time"

	"github.com/DataDog/viper"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

var (
	// ErrUnnamedPolicy is returned when a policy doesn't name its event type
	ErrUnnamedPolicy = errors.New("unnamed policy")
)

// Policy selects the filtering mode of an event type and the discarders it installs
type Policy struct {
	EventType string `mapstructure:"event_type"`
	Mode      string `mapstructure:"mode"`
	// DiscardedPaths lists the path prefixes whose entries are discarded
	DiscardedPaths []string `mapstructure:"discarded_paths"`
	// DiscardedProcesses lists the command names of the processes that are discarded
	DiscardedProcesses []string `mapstructure:"discarded_processes"`
}

// Config holds the configuration of the deletion probe
type Config struct {
	// Enabled defines if the probe is started
	Enabled bool
	// SyscallCacheSize is the number of in-flight syscalls that can be tracked at once
	SyscallCacheSize int
	// PIDDiscarderTimeout is the retention of a pid discarder
	PIDDiscarderTimeout time.Duration
	// InodeDiscarderCacheSize is the maximum number of inode discarders
	InodeDiscarderCacheSize int
	// DentryCacheSize is the maximum number of path entries kept per mount
	DentryCacheSize int
	// MountRevisionCount is the number of per mount counters, mount ids are folded onto it
	MountRevisionCount int
	// EventStreamBufferSize is the number of records the event stream can hold
	EventStreamBufferSize int
	// EbpflessAddress is the address the syscall stream server listens on
	EbpflessAddress string
	// StatsdEnabled enables the statsd client
	StatsdEnabled bool
	// StatsdAddress is the address of the dogstatsd server
	StatsdAddress string
	// StatsPeriod is the period at which the stats are sent
	StatsPeriod time.Duration
	// EventTypes lists the event types that are sent
	EventTypes []model.EventType
	// Policies holds the filtering mode per event type
	Policies map[model.EventType]model.PolicyMode
	// DiscardedPaths holds the discarded path prefixes per event type
	DiscardedPaths map[model.EventType][]string
	// DiscardedProcesses holds the discarded command names per event type
	DiscardedProcesses map[model.EventType][]string
	// LogLevel is the level of the logger
	LogLevel string
	// LogFile is the log file, empty to log to the console
	LogFile string
	// LogTags restricts the tagged trace logs to the given event types, empty for all
	LogTags []string
	// Output is where the events are written, "-" for stdout
	Output string
}

// NewConfig returns a new Config object read from the given viper instance
func NewConfig(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		Enabled:                 cfg.GetBool("runtime_security_config.enabled"),
		SyscallCacheSize:        cfg.GetInt("runtime_security_config.syscall_cache_size"),
		PIDDiscarderTimeout:     cfg.GetDuration("runtime_security_config.pid_discarder_timeout"),
		InodeDiscarderCacheSize: cfg.GetInt("runtime_security_config.inode_discarder_cache_size"),
		DentryCacheSize:         cfg.GetInt("runtime_security_config.dentry_cache_size"),
		MountRevisionCount:      cfg.GetInt("runtime_security_config.mount_revision_count"),
		EventStreamBufferSize:   cfg.GetInt("runtime_security_config.event_stream.buffer_size"),
		EbpflessAddress:         cfg.GetString("runtime_security_config.ebpfless.address"),
		StatsdEnabled:           cfg.GetBool("runtime_security_config.statsd.enabled"),
		StatsdAddress:           cfg.GetString("runtime_security_config.statsd.address"),
		StatsPeriod:             cfg.GetDuration("runtime_security_config.statsd.period"),
		LogLevel:                cfg.GetString("runtime_security_config.log_level"),
		LogFile:                 cfg.GetString("runtime_security_config.log_file"),
		LogTags:                 cfg.GetStringSlice("runtime_security_config.log_tags"),
		Output:                  cfg.GetString("runtime_security_config.output"),
		Policies:                make(map[model.EventType]model.PolicyMode),
		DiscardedPaths:          make(map[model.EventType][]string),
		DiscardedProcesses:      make(map[model.EventType][]string),
	}

	eventTypes, err := parseEventTypes(cfg.GetStringSlice("runtime_security_config.event_types"))
	if err != nil {
		return nil, err
	}
	c.EventTypes = eventTypes

	if err := c.loadPolicies(cfg.Get("runtime_security_config.policies")); err != nil {
		return nil, err
	}

	if err := c.sanitize(); err != nil {
		return nil, err
	}

	return c, nil
}

func parseEventTypes(names []string) ([]model.EventType, error) {
	var unknown []string
	eventTypes := lo.FilterMap(names, func(name string, _ int) (model.EventType, bool) {
		eventType := model.ParseEventType(name)
		if eventType == model.UnknownEventType || eventType > model.LastDiscarderEventType {
			unknown = append(unknown, name)
			return eventType, false
		}
		return eventType, true
	})
	if len(unknown) > 0 {
		return nil, errors.Errorf("unknown event types: %v", unknown)
	}
	return lo.Uniq(eventTypes), nil
}

func (c *Config) loadPolicies(raw interface{}) error {
	if raw == nil {
		return nil
	}

	policies, ok := raw.([]interface{})
	if !ok {
		return errors.New("policies must be a list of policy definitions")
	}

	for _, p := range policies {
		var policy Policy
		if err := mapstructure.Decode(p, &policy); err != nil {
			return errors.Wrap(err, "invalid policy definition")
		}

		if policy.EventType == "" {
			return ErrUnnamedPolicy
		}

		eventType := model.ParseEventType(policy.EventType)
		if eventType == model.UnknownEventType {
			return errors.Errorf("invalid policy definition: unknown event type `%s`", policy.EventType)
		}

		mode, ok := model.ParsePolicyMode(policy.Mode)
		if !ok {
			return errors.Errorf("invalid policy definition: unknown mode `%s` for `%s`", policy.Mode, policy.EventType)
		}

		c.Policies[eventType] = mode

		if len(policy.DiscardedPaths)+len(policy.DiscardedProcesses) > 0 && mode == model.PolicyModeNoFilter {
			return errors.Errorf("invalid policy definition: discarders require a filtering mode for `%s`", policy.EventType)
		}

		for _, prefix := range policy.DiscardedPaths {
			if !filepath.IsAbs(prefix) {
				return errors.Errorf("invalid policy definition: discarded path `%s` isn't absolute", prefix)
			}
		}

		c.DiscardedPaths[eventType] = lo.Uniq(append(c.DiscardedPaths[eventType], lo.Map(policy.DiscardedPaths, func(prefix string, _ int) string {
			return filepath.Clean(prefix)
		})...))
		c.DiscardedProcesses[eventType] = lo.Uniq(append(c.DiscardedProcesses[eventType], policy.DiscardedProcesses...))
	}

	return nil
}

func (c *Config) sanitize() error {
	if c.SyscallCacheSize <= 0 {
		return errors.Errorf("invalid syscall cache size: %d", c.SyscallCacheSize)
	}
	if c.InodeDiscarderCacheSize <= 0 {
		return errors.Errorf("invalid inode discarder cache size: %d", c.InodeDiscarderCacheSize)
	}
	if c.DentryCacheSize <= 0 {
		return errors.Errorf("invalid dentry cache size: %d", c.DentryCacheSize)
	}
	if c.MountRevisionCount <= 0 {
		return errors.Errorf("invalid mount revision count: %d", c.MountRevisionCount)
	}
	if c.EventStreamBufferSize <= 0 {
		return errors.Errorf("invalid event stream buffer size: %d", c.EventStreamBufferSize)
	}
	if c.StatsPeriod <= 0 {
		c.StatsPeriod = 10 * time.Second
	}
	return nil
}

// PolicyMode returns the filtering mode of the given event type
func (c *Config) PolicyMode(eventType model.EventType) model.PolicyMode {
	return c.Policies[eventType]
}

// IsEventTypeEnabled returns whether the event type is sent
func (c *Config) IsEventTypeEnabled(eventType model.EventType) bool {
	return lo.Contains(c.EventTypes, eventType)
}

// IsProcessDiscarded returns whether the processes named comm are discarded for the event type
func (c *Config) IsProcessDiscarded(eventType model.EventType, comm string) bool {
	return lo.Contains(c.DiscardedProcesses[eventType], comm)
}
