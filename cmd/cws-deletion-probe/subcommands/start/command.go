// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package start implements the start subcommand
package start

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/command"
	"github.com/DataDog/cws-deletion-probe/cmd/cws-deletion-probe/flags"
	"github.com/DataDog/cws-deletion-probe/pkg/security/config"
	"github.com/DataDog/cws-deletion-probe/pkg/security/module"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
	"github.com/DataDog/cws-deletion-probe/pkg/util/log"
)

type cliParams struct {
	*command.GlobalParams

	output string
}

// Commands returns the start commands
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{
		GlobalParams: globalParams,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the deletion probe",
		Long:  `Start the deletion probe, it runs until it receives SIGINT or SIGTERM. SIGHUP reloads the configuration.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return start(params)
		},
	}
	bindFlags(startCmd.Flags(), params)

	return []*cobra.Command{startCmd}
}

func bindFlags(fs *pflag.FlagSet, params *cliParams) {
	fs.StringVarP(&params.output, flags.Output, "o", "", "file the events are written to, - for stdout, overrides the configuration")
}

func loadConfig(params *cliParams) (*config.Config, error) {
	cfg, err := config.Load(config.New(), params.ConfFilePath)
	if err != nil {
		return nil, err
	}

	if params.output != "" {
		cfg.Output = params.output
	}
	return cfg, nil
}

func newStatsdClient(cfg *config.Config) (statsd.ClientInterface, error) {
	if !cfg.StatsdEnabled {
		return &statsd.NoOpClient{}, nil
	}
	return statsd.New(cfg.StatsdAddress)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

func openOutput(output string) (io.WriteCloser, error) {
	if output == "" || output == "-" {
		return nopCloser{Writer: os.Stdout}, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open output `%s`", output)
	}
	return f, nil
}

func start(params *cliParams) error {
	cfg, err := loadConfig(params)
	if err != nil {
		return err
	}

	if err := log.SetupLogger(command.LoggerName, cfg.LogLevel, cfg.LogFile, false); err != nil {
		return errors.Wrap(err, "unable to set up the logger")
	}
	defer log.Flush()
	seclog.SetTags(cfg.LogTags...)

	statsdClient, err := newStatsdClient(cfg)
	if err != nil {
		return log.Errorf("unable to create the statsd client: %v", err)
	}
	defer statsdClient.Close()

	output, err := openOutput(cfg.Output)
	if err != nil {
		return log.Error(err)
	}
	defer output.Close()

	m, err := module.NewModule(cfg, module.Opts{
		StatsdClient: statsdClient,
		Output:       output,
	})
	if err != nil {
		if errors.Is(err, module.ErrModuleDisabled) {
			log.Info("deletion probe disabled by the configuration")
			return nil
		}
		return log.Errorf("unable to create the deletion probe: %v", err)
	}

	if err := m.Start(); err != nil {
		return log.Errorf("unable to start the deletion probe: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for sig := range sigs {
		if sig != syscall.SIGHUP {
			log.Infof("received %s, stopping", sig)
			break
		}
		reload(params, m)
	}

	if err := m.Stop(); err != nil {
		return log.Errorf("error while stopping the deletion probe: %v", err)
	}
	return nil
}

func reload(params *cliParams, m *module.Module) {
	cfg, err := loadConfig(params)
	if err != nil {
		_ = log.Errorf("unable to reload the configuration: %v", err)
		return
	}

	if err := log.ChangeLogLevel(cfg.LogLevel); err != nil {
		_ = log.Warnf("unable to change the log level: %v", err)
	}
	seclog.SetTags(cfg.LogTags...)

	m.ApplyPolicies(cfg)
}
