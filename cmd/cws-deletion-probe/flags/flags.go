// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package flags holds the names of the command line flags
package flags

const (
	// CfgPath defines the cfgpath flag
	CfgPath = "cfgpath"
	// NoColor defines the no-color flag
	NoColor = "no-color"

	// Start Subcommand
	Output = "output"

	// Replay Subcommand
	Address  = "address"
	Attempts = "attempts"

	// Config Subcommand
	JSON = "json"
)
