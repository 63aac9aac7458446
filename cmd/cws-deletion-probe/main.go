// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package main holds main related files
package main

import (
	"os"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/subcommands"
)

func main() {
	rootCmd := command.MakeCommand(subcommands.DeletionProbeSubcommands())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
