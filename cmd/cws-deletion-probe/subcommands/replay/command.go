// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package replay implements the replay subcommand, it sends recorded tracer messages to a probe
package replay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/flags"
	"github.com/DataDog/cws-deletion-probe/pkg/security/config"
	"github.com/DataDog/cws-deletion-probe/pkg/security/proto/ebpfless"
)

type cliParams struct {
	*command.GlobalParams

	file     string
	address  string
	attempts uint
}

// Commands returns the replay commands
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{
		GlobalParams: globalParams,
	}

	replayCmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Send the tracer messages of a file to a running probe",
		Long:  `Send the tracer messages of a file to a running probe. The file holds one JSON encoded message per line.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.file = args[0]
			return replay(cmd.Context(), cmd.OutOrStdout(), params)
		},
	}
	replayCmd.Flags().StringVarP(&params.address, flags.Address, "a", "", "address of the probe, read from the configuration if empty")
	replayCmd.Flags().UintVar(&params.attempts, flags.Attempts, 5, "number of connection attempts")

	return []*cobra.Command{replayCmd}
}

// ReadMessages reads the JSON encoded messages of r, one per line. Empty lines and lines
// starting with # are skipped.
func ReadMessages(r io.Reader) ([]*ebpfless.Message, error) {
	var msgs []*ebpfless.Message

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 || data[0] == '#' {
			continue
		}

		var msg ebpfless.Message
		if err := jsoniter.Unmarshal(data, &msg); err != nil {
			return nil, errors.Wrapf(err, "invalid message at line %d", line)
		}
		if msg.Type == ebpfless.MessageTypeSyscall && msg.Syscall == nil {
			return nil, errors.Errorf("syscall message without syscall at line %d", line)
		}
		msgs = append(msgs, &msg)
	}

	return msgs, scanner.Err()
}

func replay(ctx context.Context, w io.Writer, params *cliParams) error {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := os.Open(params.file)
	if err != nil {
		return err
	}
	defer f.Close()

	msgs, err := ReadMessages(f)
	if err != nil {
		return err
	}

	address := params.address
	if address == "" {
		cfg, err := config.Load(config.New(), params.ConfFilePath)
		if err != nil {
			return err
		}
		address = cfg.EbpflessAddress
	}

	client, err := ebpfless.Dial(ctx, address, params.attempts)
	if err != nil {
		return errors.Wrapf(err, "unable to connect to `%s`", address)
	}
	defer client.Close()

	for _, msg := range msgs {
		if err := client.Send(msg); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "%d messages sent to %s\n", len(msgs), address)
	return nil
}
