// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ring

import (
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"

	"github.com/DataDog/bpftuned/pkg/bpftuneerr"
	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/metrics"
	"github.com/DataDog/bpftuned/pkg/netnstrack"
)

// Record is the minimal shape of a github.com/cilium/ebpf/ringbuf.Record
// this package depends on, kept as a narrow struct so Reader can be
// implemented both by the real cilium/ebpf ringbuf.Reader and by fakes in
// tests.
type Record struct {
	RawSample []byte
}

// Reader is satisfied by *ringbuf.Reader from github.com/cilium/ebpf. The
// consumer depends on this interface rather than the concrete type so it
// can be driven by a synthetic ring buffer in tests without a kernel.
type Reader interface {
	SetDeadline(t time.Time) error
	Read() (Record, error)
	Close() error
}

// Dispatcher routes a decoded event to the tuner it names. Implemented by
// the tuner host (pkg/tuner.Host).
type Dispatcher interface {
	Dispatch(ev Event)
}

// failureWindow is the span hard ring-read failures are counted over
// before the daemon considers the ring unhealthy.
const failureWindow = time.Second

// hardFailureThreshold is the number of consecutive hard failures within
// failureWindow that mark the ring unhealthy.
const hardFailureThreshold = 3

// Consumer drains a shared-memory ring buffer populated by kernel probes
// and dispatches decoded events, per the event ring consumer design.
type Consumer struct {
	reader   Reader
	dedup    *Dedup
	tracker  *netnstrack.Tracker
	dispatch Dispatcher
	clock    func() time.Time

	failureBackoff *backoff.ExponentialBackOff
	failures       []time.Time
	unhealthy      bool
}

// NewConsumer builds a Consumer over reader, applying the dedup window and
// namespace tracker from the rest of the daemon.
func NewConsumer(reader Reader, dedupWindow time.Duration, tracker *netnstrack.Tracker, dispatch Dispatcher) *Consumer {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = failureWindow
	bo.MaxElapsedTime = 0

	return &Consumer{
		reader:         reader,
		dedup:          NewDedup(dedupWindow),
		tracker:        tracker,
		dispatch:       dispatch,
		clock:          time.Now,
		failureBackoff: bo,
	}
}

// Unhealthy reports whether three consecutive hard ring-read failures
// occurred within the last second; the supervisor shuts down with exit
// code 2 when this becomes true.
func (c *Consumer) Unhealthy() bool {
	return c.unhealthy
}

// Poll blocks up to deadline, draining and dispatching every ready event.
// It returns nil on a clean timeout (the ring produced nothing before the
// deadline) and a wrapped bpftuneerr.ErrRingReadFailed only once the ring
// is deemed unhealthy.
func (c *Consumer) Poll(deadline time.Time) error {
	for {
		if err := c.reader.SetDeadline(deadline); err != nil {
			return pkgerrors.Wrap(err, "failed to set ring deadline")
		}

		rec, err := c.reader.Read()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				c.failureBackoff.Reset()
				return nil
			}
			hardErr := c.recordFailure(err)
			// Throttle the retry per the backoff schedule rather than
			// hammering a ring that just failed to produce.
			time.Sleep(c.failureBackoff.NextBackOff())
			return hardErr
		}
		c.failureBackoff.Reset()
		c.failures = nil

		ev, err := DecodeEvent(rec.RawSample)
		if err != nil {
			ddlog.Warnf("failed to decode ring event: %s", err)
			continue
		}

		c.process(ev)

		if c.clock().After(deadline) {
			return nil
		}
	}
}

func (c *Consumer) recordFailure(err error) error {
	now := c.clock()
	c.failures = append(c.failures, now)

	cutoff := now.Add(-failureWindow)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept

	ddlog.Warnf("ring read failed: %s", err)

	if len(c.failures) >= hardFailureThreshold {
		c.unhealthy = true
		return pkgerrors.Wrap(bpftuneerr.ErrRingReadFailed, "ring unhealthy after repeated failures")
	}
	return nil
}

func (c *Consumer) process(ev Event) {
	key := DedupKey(ev.NetnsCookie, ev.EventID, ev.TunerID)
	if !c.dedup.Allow(key, c.clock()) {
		metrics.EventsDeduped.Inc()
		return
	}

	if ev.TunerID == CoreTunerID {
		c.processCoreEvent(ev)
		return
	}

	if ev.NetnsCookie != netnstrack.UnsupportedCookie {
		if _, deliver := c.tracker.Lookup(ev.NetnsCookie); !deliver {
			return
		}
		c.tracker.Observe(ev.NetnsCookie)
	}

	c.dispatch.Dispatch(ev)
}

// processCoreEvent handles the kernel-emitted namespace lifecycle events
// the namespace tracker itself consumes, rather than routing them to a
// tuner plugin.
func (c *Consumer) processCoreEvent(ev Event) {
	switch ev.EventID {
	case CoreEventNetnsCreate:
		c.tracker.Create(ev.NetnsCookie)
	case CoreEventNetnsDestroy:
		c.tracker.Destroy(ev.NetnsCookie)
	default:
		ddlog.Warnf("unknown core event id %d", ev.EventID)
	}
}
