// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package probe loads the kernel-side observation bytecode and exposes its
// ring buffer map as a ring.Reader. The probe programs' own source is out
// of scope; this package only owns the host-OS loading and attach
// mechanics every tuner's kernel half goes through.
package probe

import (
	"os"
	"time"

	manager "github.com/DataDog/ebpf-manager"
	"github.com/cilium/ebpf/ringbuf"
	pkgerrors "github.com/pkg/errors"

	"github.com/DataDog/bpftuned/pkg/bpftuneerr"
	"github.com/DataDog/bpftuned/pkg/ring"
)

// eventsMapName is the ring buffer map every bpftuned-compatible bytecode
// asset must export, matching the ring event record layout in §6.
const eventsMapName = "events"

// Probe owns the loaded eBPF manager instance for the daemon's kernel-side
// observation programs.
type Probe struct {
	manager *manager.Manager
	reader  *ringbuf.Reader
}

// Open loads the bytecode at path, attaches its probes, and opens its
// ring buffer map. The caller is responsible for calling Close.
func Open(path string) (*Probe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeLoadFailed, "%s: %s", path, err)
	}
	defer f.Close()

	m := &manager.Manager{
		RingBuffers: []*manager.RingBuffer{
			{Map: manager.Map{Name: eventsMapName}},
		},
	}

	if err := m.InitWithOptions(f, manager.Options{}); err != nil {
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeLoadFailed, "%s: %s", path, err)
	}

	if err := m.Start(); err != nil {
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeAttachFailed, "%s: %s", path, err)
	}

	ebpfMap, found, err := m.GetMap(eventsMapName)
	if err != nil || !found {
		m.Stop(manager.CleanAll)
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeAttachFailed, "%s: missing %s map", path, eventsMapName)
	}

	reader, err := ringbuf.NewReader(ebpfMap)
	if err != nil {
		m.Stop(manager.CleanAll)
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeAttachFailed, "%s: %s", path, err)
	}

	return &Probe{manager: m, reader: reader}, nil
}

// Reader returns the probe's ring buffer as a ring.Reader.
func (p *Probe) Reader() ring.Reader {
	return readerAdapter{p.reader}
}

// Close detaches every probe and releases the manager's resources.
func (p *Probe) Close() error {
	if err := p.reader.Close(); err != nil {
		return err
	}
	return p.manager.Stop(manager.CleanAll)
}

// readerAdapter narrows *ringbuf.Reader to ring.Reader, converting its
// Record type to the package-neutral ring.Record shape.
type readerAdapter struct {
	r *ringbuf.Reader
}

func (a readerAdapter) SetDeadline(t time.Time) error { return a.r.SetDeadline(t) }
func (a readerAdapter) Close() error                  { return a.r.Close() }

func (a readerAdapter) Read() (ring.Record, error) {
	rec, err := a.r.Read()
	if err != nil {
		return ring.Record{}, err
	}
	return ring.Record{RawSample: rec.RawSample}, nil
}
