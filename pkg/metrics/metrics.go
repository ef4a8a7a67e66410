// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics exposes the daemon's Prometheus collectors: how many
// events were dispatched, how many tunable writes succeeded or were
// skipped by policy, and whether the ring is currently healthy.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsDispatched counts events handed to a tuner's HandleEvent,
	// labeled by tuner name.
	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bpftuned",
		Name:      "events_dispatched_total",
		Help:      "Number of ring events dispatched to a tuner.",
	}, []string{"tuner"})

	// EventsDeduped counts events dropped by the dedup filter.
	EventsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bpftuned",
		Name:      "events_deduped_total",
		Help:      "Number of ring events dropped by the per-key dedup window.",
	})

	// TunableWrites counts sysctl writes, labeled by outcome
	// (applied/skipped_cooldown/capped/failed).
	TunableWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bpftuned",
		Name:      "tunable_writes_total",
		Help:      "Number of tunable write attempts by outcome.",
	}, []string{"outcome"})

	// RingUnhealthy is 1 when the ring consumer has hit its hard failure
	// threshold, 0 otherwise.
	RingUnhealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpftuned",
		Name:      "ring_unhealthy",
		Help:      "1 if the event ring has exceeded its hard failure threshold.",
	})

	// NamespacesTracked reports the current size of the namespace table.
	NamespacesTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpftuned",
		Name:      "namespaces_tracked",
		Help:      "Number of namespace cookies currently tracked.",
	})

	// TunersLoaded reports the current number of loaded tuners.
	TunersLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpftuned",
		Name:      "tuners_loaded",
		Help:      "Number of tuners currently loaded, regardless of state.",
	})
)

func init() {
	prometheus.MustRegister(EventsDispatched, EventsDeduped, TunableWrites, RingUnhealthy, NamespacesTracked, TunersLoaded)
}
