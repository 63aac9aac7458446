// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package command holds command related files
package command

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/flags"
	"github.com/DataDog/cws-deletion-probe/pkg/util/log"
)

// LoggerName defines the logger name for the deletion probe
const LoggerName log.LoggerName = "CWS"

// GlobalParams contains the values of global Cobra flags.
//
// A pointer to this type is passed to SubcommandFactory's, but its contents
// are not valid until Cobra calls the subcommand's Run or RunE function.
type GlobalParams struct {
	// ConfFilePath holds the path to the configuration file
	ConfFilePath string

	// NoColor is a flag to disable color output
	NoColor bool
}

// SubcommandFactory returns a sub-command factory
type SubcommandFactory func(globalParams *GlobalParams) []*cobra.Command

// MakeCommand makes the top-level Cobra command for this command.
func MakeCommand(subcommandFactories []SubcommandFactory) *cobra.Command {
	var globalParams GlobalParams

	probeCmd := &cobra.Command{
		Use:   "cws-deletion-probe [command]",
		Short: "Datadog CWS deletion probe.",
		Long: `
The deletion probe reports the rmdir and unlink syscalls traced by the CWS tracers,
along with the identity and the path of the removed entries.`,
		SilenceUsage: true,
	}

	probeCmd.PersistentFlags().StringVarP(&globalParams.ConfFilePath, flags.CfgPath, "c", "", "path to the configuration file")
	probeCmd.PersistentFlags().BoolVarP(&globalParams.NoColor, flags.NoColor, "n", false, "disable color output")

	probeCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if globalParams.NoColor {
			color.NoColor = true
		}
	}

	for _, factory := range subcommandFactories {
		for _, subcmd := range factory(&globalParams) {
			probeCmd.AddCommand(subcmd)
		}
	}

	return probeCmd
}
