// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package subcommands implement the deletion probe subcommands
package subcommands

import (
	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
	cmdconfig "github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/subcommands/config"
	cmdreplay "github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/subcommands/replay"
	cmdstart "github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/subcommands/start"
)

// DeletionProbeSubcommands returns SubcommandFactories for the subcommands of the deletion probe
func DeletionProbeSubcommands() []command.SubcommandFactory {
	return []command.SubcommandFactory{
		cmdconfig.Commands,
		cmdreplay.Commands,
		cmdstart.Commands,
	}
}
