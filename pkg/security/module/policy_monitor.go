// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package module

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/DataDog/cws-deletion-probe/pkg/security/config"
	"github.com/DataDog/cws-deletion-probe/pkg/security/metrics"
	"github.com/DataDog/cws-deletion-probe/pkg/security/secl/model"
	"github.com/DataDog/cws-deletion-probe/pkg/util/log"
)

const (
	// policyMetricRate defines how often the policy metric will be sent
	policyMetricRate = 30 * time.Second
)

// Policy describes the policy applied to an event type
type Policy struct {
	EventType          model.EventType
	Mode               model.PolicyMode
	Enabled            bool
	DiscardedPaths     int
	DiscardedProcesses int
}

// PolicyMonitor defines a policy monitor
type PolicyMonitor struct {
	sync.RWMutex

	statsdClient statsd.ClientInterface
	policies     map[model.EventType]Policy
}

// SetPolicies replaces the policies reported by the monitor
func (p *PolicyMonitor) SetPolicies(cfg *config.Config) {
	p.Lock()
	defer p.Unlock()

	p.policies = make(map[model.EventType]Policy)
	for _, eventType := range model.AllEventTypes() {
		p.policies[eventType] = Policy{
			EventType:          eventType,
			Mode:               cfg.PolicyMode(eventType),
			Enabled:            cfg.IsEventTypeEnabled(eventType),
			DiscardedPaths:     len(cfg.DiscardedPaths[eventType]),
			DiscardedProcesses: len(cfg.DiscardedProcesses[eventType]),
		}
	}
}

// Policies returns the policies reported by the monitor
func (p *PolicyMonitor) Policies() []Policy {
	p.RLock()
	defer p.RUnlock()

	var policies []Policy
	for _, eventType := range model.AllEventTypes() {
		if policy, exists := p.policies[eventType]; exists {
			policies = append(policies, policy)
		}
	}
	return policies
}

// SendStats sends a gauge per policy
func (p *PolicyMonitor) SendStats() error {
	for _, policy := range p.Policies() {
		tags := []string{
			"event_type:" + policy.EventType.String(),
			"mode:" + policy.Mode.String(),
			fmt.Sprintf("enabled:%v", policy.Enabled),
		}

		if err := p.statsdClient.Gauge(metrics.MetricPolicy, 1, tags, 1.0); err != nil {
			return fmt.Errorf("failed to send policy metric: %w", err)
		}
	}
	return nil
}

// Start the monitor
func (p *PolicyMonitor) Start(ctx context.Context) {
	go func() {
		timerMetric := time.NewTicker(policyMetricRate)
		defer timerMetric.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-timerMetric.C:
				if err := p.SendStats(); err != nil {
					log.Error(err)
				}
			}
		}
	}()
}

// NewPolicyMonitor returns a new Policy monitor
func NewPolicyMonitor(statsdClient statsd.ClientInterface) *PolicyMonitor {
	return &PolicyMonitor{
		statsdClient: statsdClient,
		policies:     make(map[model.EventType]Policy),
	}
}
