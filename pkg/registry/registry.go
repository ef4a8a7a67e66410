// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/metrics"
)

// Registry owns the authoritative view of every tunable a tuner has
// claimed.
type Registry struct {
	mu     sync.Mutex
	states map[stateKey]*State

	global       Writer
	namespaced   func(cookie int64) Writer
	netnsEnabled bool

	maxGrowth float64
	maxShrink float64
	minWrite  time.Duration

	now func() time.Time
}

// New returns an empty Registry. global is the Writer used for
// non-namespaced tunables and the well-known root namespace; namespaced,
// when netnsEnabled is true, builds a per-cookie Writer for namespaced
// tunables (typically backed by NamespacedWriter).
func New(global Writer, namespaced func(cookie int64) Writer, netnsEnabled bool) *Registry {
	return &Registry{
		states:       make(map[stateKey]*State),
		global:       global,
		namespaced:   namespaced,
		netnsEnabled: netnsEnabled,
		maxGrowth:    DefaultMaxGrowthFactor,
		maxShrink:    DefaultMaxShrinkFactor,
		minWrite:     DefaultMinWriteInterval,
		now:          time.Now,
	}
}

func (r *Registry) writerFor(desc Descriptor, cookie int64) Writer {
	if desc.Namespaced && r.netnsEnabled && cookie != -1 {
		return r.namespaced(cookie)
	}
	return r.global
}

// Register reads each descriptor's current kernel value into both Original
// and Current for the global namespace; per-namespace capture is deferred
// to first observation (first Write call naming that namespace).
func (r *Registry) Register(tunerID uint32, descs []Descriptor) map[uint32]error {
	errs := make(map[uint32]error)
	for _, d := range descs {
		w := r.writerFor(d, -1)
		vals, err := w.Read(d.Name, d.Arity)
		if err != nil {
			ddlog.Warnf("skipping descriptor %s this cycle: %s", d.Name, err)
			errs[d.ID] = err
			continue
		}

		key := stateKey{tunerID: tunerID, tunableID: d.ID, netnsCookie: -1}
		r.mu.Lock()
		r.states[key] = &State{Original: vals, Current: vals, captured: true}
		r.mu.Unlock()
	}
	return errs
}

func (r *Registry) stateFor(key stateKey, desc Descriptor) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[key]
	if ok {
		return st, nil
	}

	w := r.writerFor(desc, key.netnsCookie)
	vals, err := w.Read(desc.Name, desc.Arity)
	if err != nil {
		return nil, err
	}
	st = &State{Original: vals, Current: vals, captured: true}
	r.states[key] = st
	return st, nil
}

func capValues(scenario ScenarioKind, original, values [3]int64, arity int, maxGrowth, maxShrink float64) [3]int64 {
	out := values
	for i := 0; i < arity; i++ {
		switch scenario {
		case Increase:
			limit := float64(original[i]) * maxGrowth
			if float64(out[i]) > limit {
				out[i] = int64(limit)
			}
		case Decrease:
			if original[i] == 0 {
				continue
			}
			limit := float64(original[i]) / maxShrink
			if float64(out[i]) < limit {
				out[i] = int64(limit)
			}
		}
	}
	return out
}

// Write is write(tuner, id, scenario, netns_cookie, arity, values, reason).
// It re-reads the kernel value to detect external mutation, applies the
// per-(tunable,namespace) cooldown, then the growth/shrink cap, then
// performs the write via the appropriate Writer. On success it updates Current,
// LastWriteNs and WriteCount and logs the formatted reason.
func (r *Registry) Write(tunerID uint32, desc Descriptor, scenario ScenarioKind, netnsCookie int64, values [3]int64, reasonFmt string, args ...interface{}) error {
	key := stateKey{tunerID: tunerID, tunableID: desc.ID, netnsCookie: netnsCookie}

	st, err := r.stateFor(key, desc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.writerFor(desc, netnsCookie)

	// Concurrent writer detection: re-read before writing. If it
	// differs from Current, an external actor changed it; adopt the
	// new value as Original and defer to them.
	if live, err := w.Read(desc.Name, desc.Arity); err == nil {
		if live != st.Current {
			ddlog.Warnf("tunable %s changed externally from %v to %v; adopting as new original", desc.Name, st.Current, live)
			st.Original = live
			st.Current = live
		}
	}

	now := r.now()
	if st.LastWriteNs != 0 && time.Duration(now.UnixNano()-st.LastWriteNs) < r.minWrite {
		metrics.TunableWrites.WithLabelValues("skipped_cooldown").Inc()
		return nil
	}

	capped := capValues(scenario, st.Original, values, desc.Arity, r.maxGrowth, r.maxShrink)
	outcome := "applied"
	if capped != values {
		outcome = "capped"
	}

	if err := w.Write(desc.Name, desc.Arity, capped); err != nil {
		ddlog.Warnf("sysctl write failed for %s: %s", desc.Name, err)
		metrics.TunableWrites.WithLabelValues("failed").Inc()
		return err
	}

	st.Current = capped
	st.LastWriteNs = now.UnixNano()
	st.WriteCount++
	metrics.TunableWrites.WithLabelValues(outcome).Inc()

	reason := fmt.Sprintf(reasonFmt, args...)
	ddlog.Infof("%s", reason)
	return nil
}

// Rollback restores Original for every (id, netns_cookie) tunerID has
// written, bypassing cap and cooldown. It is idempotent: a tunable whose
// Current already equals Original is skipped.
func (r *Registry) Rollback(tunerID uint32, descs []Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range descs {
		for key, st := range r.states {
			if key.tunerID != tunerID || key.tunableID != d.ID {
				continue
			}
			if st.Current == st.Original {
				continue
			}

			w := r.writerFor(d, key.netnsCookie)
			if err := w.Write(d.Name, d.Arity, st.Original); err != nil {
				ddlog.Warnf("rollback failed for %s (netns %d): %s", d.Name, key.netnsCookie, err)
				continue
			}
			st.Current = st.Original
		}
	}
}

// Current returns the tracked current value for (tunerID, tunableID,
// netnsCookie), for tests and diagnostics.
func (r *Registry) Current(tunerID, tunableID uint32, netnsCookie int64) ([3]int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[stateKey{tunerID: tunerID, tunableID: tunableID, netnsCookie: netnsCookie}]
	if !ok {
		return [3]int64{}, false
	}
	return st.Current, true
}

// WriteCount returns the write count for (tunerID, tunableID,
// netnsCookie), for tests and diagnostics.
func (r *Registry) WriteCount(tunerID, tunableID uint32, netnsCookie int64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[stateKey{tunerID: tunerID, tunableID: tunableID, netnsCookie: netnsCookie}]
	if !ok {
		return 0
	}
	return st.WriteCount
}
