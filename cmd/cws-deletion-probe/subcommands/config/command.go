// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package config implements the config subcommand, it prints the effective configuration
package config

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/flags"
	"github.com/DataDog/cws-deletion-probe/pkg/security/config"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
)

type cliParams struct {
	*command.GlobalParams

	json bool
}

type policyView struct {
	Name               string   `yaml:"name" json:"name"`
	Mode               string   `yaml:"mode" json:"mode"`
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	DiscardedPaths     []string `yaml:"discarded_paths,omitempty" json:"discarded_paths,omitempty"`
	DiscardedProcesses []string `yaml:"discarded_processes,omitempty" json:"discarded_processes,omitempty"`
}

type configView struct {
	Enabled                 bool         `yaml:"enabled" json:"enabled"`
	SyscallCacheSize        int          `yaml:"syscall_cache_size" json:"syscall_cache_size"`
	PIDDiscarderTimeout     string       `yaml:"pid_discarder_timeout" json:"pid_discarder_timeout"`
	InodeDiscarderCacheSize int          `yaml:"inode_discarder_cache_size" json:"inode_discarder_cache_size"`
	DentryCacheSize         int          `yaml:"dentry_cache_size" json:"dentry_cache_size"`
	MountRevisionCount      int          `yaml:"mount_revision_count" json:"mount_revision_count"`
	EventStreamBufferSize   int          `yaml:"event_stream_buffer_size" json:"event_stream_buffer_size"`
	EbpflessAddress         string       `yaml:"ebpfless_address" json:"ebpfless_address"`
	StatsdEnabled           bool         `yaml:"statsd_enabled" json:"statsd_enabled"`
	StatsdAddress           string       `yaml:"statsd_address" json:"statsd_address"`
	StatsPeriod             string       `yaml:"stats_period" json:"stats_period"`
	LogLevel                string       `yaml:"log_level" json:"log_level"`
	LogFile                 string       `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	LogTags                 []string     `yaml:"log_tags,omitempty" json:"log_tags,omitempty"`
	Output                  string       `yaml:"output" json:"output"`
	Policies                []policyView `yaml:"policies" json:"policies"`
}

// Commands returns the config commands
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{
		GlobalParams: globalParams,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.New(), params.ConfFilePath)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg, params.json)
		},
	}
	configCmd.Flags().BoolVar(&params.json, flags.JSON, false, "print the configuration as JSON")

	return []*cobra.Command{configCmd}
}

func newConfigView(cfg *config.Config) configView {
	return configView{
		Enabled:                 cfg.Enabled,
		SyscallCacheSize:        cfg.SyscallCacheSize,
		PIDDiscarderTimeout:     cfg.PIDDiscarderTimeout.String(),
		InodeDiscarderCacheSize: cfg.InodeDiscarderCacheSize,
		DentryCacheSize:         cfg.DentryCacheSize,
		MountRevisionCount:      cfg.MountRevisionCount,
		EventStreamBufferSize:   cfg.EventStreamBufferSize,
		EbpflessAddress:         cfg.EbpflessAddress,
		StatsdEnabled:           cfg.StatsdEnabled,
		StatsdAddress:           cfg.StatsdAddress,
		StatsPeriod:             cfg.StatsPeriod.String(),
		LogLevel:                cfg.LogLevel,
		LogFile:                 cfg.LogFile,
		LogTags:                 cfg.LogTags,
		Output:                  cfg.Output,
		Policies: lo.Map(model.AllEventTypes(), func(eventType model.EventType, _ int) policyView {
			return policyView{
				Name:               eventType.String(),
				Mode:               cfg.PolicyMode(eventType).String(),
				Enabled:            cfg.IsEventTypeEnabled(eventType),
				DiscardedPaths:     cfg.DiscardedPaths[eventType],
				DiscardedProcesses: cfg.DiscardedProcesses[eventType],
			}
		}),
	}
}

func printConfig(w io.Writer, cfg *config.Config, asJSON bool) error {
	view := newConfigView(cfg)

	if asJSON {
		data, err := jsoniter.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		return err
	}

	header := color.New(color.FgGreen, color.Bold)
	if _, err := header.Fprintln(w, "=== Runtime security configuration ==="); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
