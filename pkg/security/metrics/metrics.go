// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics holds the names of the metrics sent by the deletion probe
package metrics

// MetricPrefix is the prefix of the metrics sent by the runtime security module
const MetricPrefix = "datadog.runtime_security"

var (
	// Syscall cache

	// MetricSyscallsInFlight is the name of the metric used to report the number of syscalls being tracked
	// Tags: -
	MetricSyscallsInFlight = newRuntimeMetric(".syscalls.in_flight")
	// MetricSyscallsRejected is the name of the metric used to count the syscalls that couldn't be tracked
	// Tags: reason
	MetricSyscallsRejected = newRuntimeMetric(".syscalls.rejected")
	// MetricSyscallsFlushed is the name of the metric used to count the syscalls dropped because their thread is gone
	// Tags: -
	MetricSyscallsFlushed = newRuntimeMetric(".syscalls.flushed")

	// Events

	// MetricEventSent is the name of the metric used to count the events sent
	// Tags: event_type
	MetricEventSent = newRuntimeMetric(".events.sent")
	// MetricEventDiscarded is the name of the metric used to count the events discarded
	// Tags: event_type, reason
	MetricEventDiscarded = newRuntimeMetric(".events.discarded")
	// MetricEventDropped is the name of the metric used to count the events dropped because of a syscall error
	// Tags: event_type
	MetricEventDropped = newRuntimeMetric(".events.dropped")
	// MetricEventLost is the name of the metric used to count the events lost because the stream was full
	// Tags: event_type
	MetricEventLost = newRuntimeMetric(".events.lost")
	// MetricInvalidations is the name of the metric used to count the inode invalidations
	// Tags: -
	MetricInvalidations = newRuntimeMetric(".events.invalidate_dentry")

	// Discarders

	// MetricDiscarderAdded is the name of the metric used to count the discarders added
	// Tags: type
	MetricDiscarderAdded = newRuntimeMetric(".discarders.added")
	// MetricDiscarderHits is the name of the metric used to count the discarder hits
	// Tags: type
	MetricDiscarderHits = newRuntimeMetric(".discarders.hits")

	// Resolvers

	// MetricDentryResolverHits is the name of the metric used to report the dentry resolver cache hits
	// Tags: -
	MetricDentryResolverHits = newRuntimeMetric(".dentry_resolver.hits")
	// MetricDentryResolverMiss is the name of the metric used to report the dentry resolver cache misses
	// Tags: -
	MetricDentryResolverMiss = newRuntimeMetric(".dentry_resolver.miss")
	// MetricMountResolverHits is the name of the metric used to report the mount resolver hits
	// Tags: type
	MetricMountResolverHits = newRuntimeMetric(".mount_resolver.hits")
	// MetricMountResolverMiss is the name of the metric used to report the mount resolver misses
	// Tags: type
	MetricMountResolverMiss = newRuntimeMetric(".mount_resolver.miss")
	// MetricMountResolverCacheSize is the name of the metric used to report the number of known mounts
	// Tags: -
	MetricMountResolverCacheSize = newRuntimeMetric(".mount_resolver.cache_size")
	// MetricProcessResolverCacheSize is the name of the metric used to report the size of the process cache
	// Tags: -
	MetricProcessResolverCacheSize = newRuntimeMetric(".process_resolver.cache_size")
	// MetricProcessResolverHits is the name of the metric used to report the process resolver hits
	// Tags: type
	MetricProcessResolverHits = newRuntimeMetric(".process_resolver.hits")
	// MetricProcessResolverMiss is the name of the metric used to report the process resolver misses
	// Tags: -
	MetricProcessResolverMiss = newRuntimeMetric(".process_resolver.miss")

	// Policies

	// MetricPolicy is the name of the metric used to report the loaded policies
	// Tags: event_type, mode
	MetricPolicy = newRuntimeMetric(".policy")

	// Event server

	// MetricConnections is the name of the metric used to report the number of connected tracers
	// Tags: -
	MetricConnections = newRuntimeMetric(".ebpfless.connections")
	// MetricMessagesReceived is the name of the metric used to count the syscall messages received
	// Tags: -
	MetricMessagesReceived = newRuntimeMetric(".ebpfless.messages")
)

// Tags

// CacheTag is assigned to metrics related to userspace cache
var CacheTag = "type:cache"

// ProcFSTag is assigned to metrics related to /proc fallbacks
var ProcFSTag = "type:procfs"

func newRuntimeMetric(name string) string {
	return MetricPrefix + name
}
