// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ring

import (
	"sort"
	"sync"
	"time"
)

// Dedup is the last-event map: (netns_cookie, tuner_id, event_id) packed
// into 64 bits, mapping to the monotonic timestamp of the last emission
// allowed through the window.
type Dedup struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	last    map[uint64]time.Time
}

// DefaultMaxEntries bounds the last-event map before the DedupTableFull
// eviction policy kicks in.
const DefaultMaxEntries = 1 << 16

// NewDedup returns a Dedup filter with the given window. window is the
// policy constant from the dedup filter (default 25ms, overridable via
// BPFTUNE_DEDUP_WINDOW_MS).
func NewDedup(window time.Duration) *Dedup {
	return &Dedup{
		window:  window,
		maxSize: DefaultMaxEntries,
		last:    make(map[uint64]time.Time),
	}
}

// Allow reports whether an event with this key should be dispatched. It
// updates the map as a side effect. DedupTableFull is handled by evicting
// the oldest 1/8 of entries rather than ever dropping an event for
// capacity reasons.
func (d *Dedup) Allow(key uint64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.last[key]; ok && now.Sub(last) < d.window {
		return false
	}

	if len(d.last) >= d.maxSize {
		d.evictOldestLocked()
	}
	d.last[key] = now
	return true
}

func (d *Dedup) evictOldestLocked() {
	type kv struct {
		key uint64
		ts  time.Time
	}
	all := make([]kv, 0, len(d.last))
	for k, ts := range d.last {
		all = append(all, kv{k, ts})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	evict := len(all) / 8
	if evict == 0 {
		evict = 1
	}
	for i := 0; i < evict && i < len(all); i++ {
		delete(d.last, all[i].key)
	}
}

// Len returns the number of tracked keys, for diagnostics and tests.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}
