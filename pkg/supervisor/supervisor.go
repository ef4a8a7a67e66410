// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package supervisor orchestrates the daemon's single-threaded event loop:
// ring polling, dispatch, plugin directory rescans, and graceful shutdown.
package supervisor

import (
	"context"
	"time"

	"github.com/DataDog/bpftuned/pkg/config"
	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/metrics"
	"github.com/DataDog/bpftuned/pkg/netnstrack"
	"github.com/DataDog/bpftuned/pkg/registry"
	"github.com/DataDog/bpftuned/pkg/ring"
	"github.com/DataDog/bpftuned/pkg/tuner"
)

// pollInterval bounds how long a single ring poll blocks, so the
// supervisor loop can periodically check for shutdown and refresh gauges
// without needing its own dedicated timer thread.
const pollInterval = 100 * time.Millisecond

// drainDeadline is how long the loop keeps draining already-decoded
// events after a shutdown signal, per the cancellation contract.
const drainDeadline = 500 * time.Millisecond

// netnsDir is the default directory `ip netns` bind-mounts namespace
// files under, scanned by the namespace resolver.
const netnsDir = "/var/run/netns"

// ExitReason classifies why Run returned, mapping to the daemon's exit
// codes (0 clean, 1 init failure, 2 ring unhealthy, 3 fatal plugin error).
type ExitReason int

const (
	// ExitClean is a graceful shutdown via context cancellation.
	ExitClean ExitReason = iota
	// ExitRingUnhealthy is three hard ring-read failures within a second.
	ExitRingUnhealthy
	// ExitPluginCrash is a recovered handler panic: per the error policy,
	// a plugin that crashes its event_handler is a fatal bug with no
	// isolation boundary beyond what the runtime provides.
	ExitPluginCrash
)

// Supervisor wires together the registry, namespace tracker, tuner host,
// and ring consumer, and runs the main event loop.
type Supervisor struct {
	cfg      *config.Config
	registry *registry.Registry
	tracker  *netnstrack.Tracker
	host     *tuner.Host
	consumer *ring.Consumer
}

// New builds a Supervisor from cfg. reader is the already-opened ring
// buffer reader (typically backed by *ringbuf.Reader over a map the
// caller's eBPF manager attached); the supervisor itself never touches
// probe loading, per the host-OS-loadable-module boundary in §6.
func New(cfg *config.Config, reader ring.Reader) *Supervisor {
	global := registry.NewSysctlWriter()
	tracker := netnstrack.New(cfg.NetnsGrace)
	resolver := netnstrack.NewDirResolver(netnsDir)
	nsBase := registry.NewNamespacedWriter(global, resolver)

	reg := registry.New(global, func(cookie int64) registry.Writer {
		return nsBase.ForNamespace(cookie)
	}, cfg.NetnsEnabled)

	host := tuner.NewHost(reg, cfg.PluginDir)
	consumer := ring.NewConsumer(reader, cfg.DedupWindow, tracker, host)

	return &Supervisor{
		cfg:      cfg,
		registry: reg,
		tracker:  tracker,
		host:     host,
		consumer: consumer,
	}
}

// LoadStaticTuners loads every in-tree tuner named, in order, failing fast
// on the first one that errors.
func (s *Supervisor) LoadStaticTuners(names ...string) error {
	for _, name := range names {
		if err := s.host.LoadStaticByName(name); err != nil {
			return err
		}
	}
	return nil
}

// Host returns the underlying tuner host, for diagnostics and tests.
func (s *Supervisor) Host() *tuner.Host { return s.host }

// Run drives the event loop until ctx is canceled, the ring becomes
// unhealthy, or a tuner handler crashes. On return it has already drained pending events and called
// fini on every live tuner in reverse load order.
func (s *Supervisor) Run(ctx context.Context) ExitReason {
	stopWatch := make(chan struct{})
	go func() {
		if err := s.host.Watch(stopWatch, s.cfg.RescanInterval); err != nil {
			ddlog.Warnf("plugin directory watch failed: %s", err)
		}
	}()

	reason := ExitClean

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		metrics.NamespacesTracked.Set(float64(s.tracker.Count()))
		metrics.TunersLoaded.Set(float64(len(s.host.Tuners())))

		if err := s.consumer.Poll(time.Now().Add(pollInterval)); err != nil {
			if s.consumer.Unhealthy() {
				ddlog.Errorf("ring unhealthy, shutting down: %s", err)
				metrics.RingUnhealthy.Set(1)
				reason = ExitRingUnhealthy
				break loop
			}
			ddlog.Warnf("ring poll error: %s", err)
		}

		if s.host.Crashed() {
			ddlog.Errorf("a tuner handler crashed, shutting down")
			reason = ExitPluginCrash
			break loop
		}
	}

	close(stopWatch)
	s.drain()
	s.host.FiniAll()
	return reason
}

// drain keeps polling for up to drainDeadline so already-decoded events
// still reach their handler before fini runs.
func (s *Supervisor) drain() {
	deadline := time.Now().Add(drainDeadline)
	for time.Now().Before(deadline) {
		if err := s.consumer.Poll(deadline); err != nil {
			return
		}
	}
}
