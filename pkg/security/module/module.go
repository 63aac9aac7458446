// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package module holds the deletion probe module: it receives the syscalls of the tracers,
// feeds them to the probe and writes the events it sends
package module

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/hashicorp/go-multierror"

	"github.com/DataDog/cws-deletion-probe/pkg/security/config"
	sprobe "github.com/DataDog/cws-deletion-probe/pkg/security/probe"
	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/eventstream"
	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/kfilters"
	"github.com/DataDog/cws-deletion-probe/pkg/security/probe/syscalls"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/dentry"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/mount"
	"github.com/DataDog/cws-deletion-probe/pkg/security/resolvers/process"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/security/seclog"
)

// ErrModuleDisabled is returned when the module is disabled by the configuration
var ErrModuleDisabled = errors.New("deletion probe disabled")

// Opts defines the module options
type Opts struct {
	StatsdClient statsd.ClientInterface
	// Output receives the events, one JSON document per line
	Output io.Writer
}

// Module wires the probe to its resolvers, the syscall server and the event output
type Module struct {
	configLock sync.RWMutex
	config     *config.Config

	statsdClient    statsd.ClientInterface
	discarders      *kfilters.Discarders
	mountResolver   *mount.Resolver
	dentryResolver  *dentry.Resolver
	processResolver *process.Resolver
	events          *sprobe.EnabledEvents
	stream          *eventstream.Stream
	probe           *sprobe.Probe
	policyMonitor   *PolicyMonitor
	server          *SyscallServer

	outputLock sync.Mutex
	output     io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModule returns a new deletion probe module
func NewModule(cfg *config.Config, opts Opts) (*Module, error) {
	if !cfg.Enabled {
		return nil, ErrModuleDisabled
	}

	if opts.StatsdClient == nil {
		opts.StatsdClient = &statsd.NoOpClient{}
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}

	discarders, err := kfilters.NewDiscarders(kfilters.Opts{
		MountCounters:  cfg.MountRevisionCount,
		InodeCacheSize: cfg.InodeDiscarderCacheSize,
		PidTimeout:     cfg.PIDDiscarderTimeout,
	})
	if err != nil {
		return nil, err
	}

	m := &Module{
		statsdClient:    opts.StatsdClient,
		discarders:      discarders,
		mountResolver:   mount.NewResolver(opts.StatsdClient),
		processResolver: process.NewResolver(opts.StatsdClient),
		events:          sprobe.NewEnabledEvents(),
		stream:          eventstream.New(cfg.EventStreamBufferSize),
		policyMonitor:   NewPolicyMonitor(opts.StatsdClient),
		output:          opts.Output,
	}
	m.dentryResolver = dentry.NewResolver(opts.StatsdClient, discarders, m.mountResolver, cfg.DentryCacheSize)

	m.probe, err = sprobe.NewProbe(sprobe.Deps{
		Syscalls:        syscalls.NewCache(cfg.SyscallCacheSize),
		DentryResolver:  m.dentryResolver,
		Discarders:      discarders,
		ProcessResolver: m.processResolver,
		Events:          m.events,
		Sink:            m.stream,
		Policies:        m,
	})
	if err != nil {
		return nil, err
	}

	m.ApplyPolicies(cfg)

	return m, nil
}

// Config returns the current configuration
func (m *Module) Config() *config.Config {
	m.configLock.RLock()
	defer m.configLock.RUnlock()
	return m.config
}

// PolicyMode returns the filtering mode of the event type
func (m *Module) PolicyMode(eventType model.EventType) model.PolicyMode {
	return m.Config().PolicyMode(eventType)
}

// ApplyPolicies applies the enabled event types and the policies of the configuration. The
// discarders installed with the previous policies are flushed.
func (m *Module) ApplyPolicies(cfg *config.Config) {
	m.configLock.Lock()
	m.config = cfg
	m.configLock.Unlock()

	m.discarders.Flush()
	for _, eventType := range model.AllEventTypes() {
		m.dentryResolver.SetDiscardedPaths(eventType, cfg.DiscardedPaths[eventType])
	}
	m.events.Set(cfg.EventTypes)

	m.processResolver.Walk(m.discardProcess)

	m.policyMonitor.SetPolicies(cfg)

	seclog.Infof("policies applied, enabled event types: %v", cfg.EventTypes)
}

// Probe returns the probe of the module
func (m *Module) Probe() *sprobe.Probe {
	return m.probe
}

// Addr returns the address of the syscall server, nil if the module isn't started
func (m *Module) Addr() net.Addr {
	if m.server == nil {
		return nil
	}
	return m.server.Addr()
}

// Start starts the module
func (m *Module) Start() error {
	server, err := NewSyscallServer(m.Config().EbpflessAddress, m.HandleSyscallMsg, m.FlushSyscallMsg)
	if err != nil {
		return err
	}
	m.server = server

	m.ctx, m.cancel = context.WithCancel(context.Background())

	if err := m.mountResolver.SyncCache(1); err != nil {
		seclog.Debugf("unable to sync the mount cache: %v", err)
	}
	m.mountResolver.Start(m.ctx)
	m.policyMonitor.Start(m.ctx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.stream.Run(m.ctx, m.handleRecord)
	}()
	go func() {
		defer m.wg.Done()
		m.statsLoop(m.ctx)
	}()

	m.server.Start(m.ctx)

	seclog.Infof("deletion probe listening on %s", m.server.Addr())

	return nil
}

func (m *Module) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(m.Config().StatsPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.SendStats(); err != nil {
				seclog.Debugf("failed to send stats: %v", err)
			}
		}
	}
}

// SendStats sends the metrics of all the components
func (m *Module) SendStats() error {
	var errs *multierror.Error

	errs = multierror.Append(errs,
		m.probe.Stats().SendStats(m.statsdClient, m.probe.InFlight()),
		m.discarders.SendStats(m.statsdClient),
		m.stream.SendStats(m.statsdClient),
		m.mountResolver.SendStats(),
		m.dentryResolver.SendStats(),
		m.processResolver.SendStats(),
	)

	if m.server != nil {
		errs = multierror.Append(errs, m.server.SendStats(m.statsdClient))
	}

	return errs.ErrorOrNil()
}

// Stop stops the module. The records already sent by the probe are written before it returns.
func (m *Module) Stop() error {
	if m.server == nil {
		return nil
	}

	var errs *multierror.Error

	if err := m.server.Stop(); err != nil {
		errs = multierror.Append(errs, err)
	}

	m.cancel()
	m.wg.Wait()

	m.stream.Drain(m.handleRecord)

	if err := m.SendStats(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}
