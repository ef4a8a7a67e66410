// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package netnstrack maintains the namespace cookie → namespace metadata
// table. It observes NETNS_CREATE/NETNS_DESTROY events and answers
// cookie-resolution queries for the rest of the daemon.
package netnstrack

import (
	"sync"
	"time"
)

// UnsupportedCookie is the sentinel netns_cookie value meaning "the kernel
// does not support namespace cookies". It is never stored in the table.
const UnsupportedCookie int64 = -1

// State is a namespace record's position in its lifecycle.
type State int

const (
	// Unknown means the cookie has never been observed.
	Unknown State = iota
	// Live means the namespace exists and is in active use.
	Live
	// Tombstoned means NETNS_DESTROY fired but the grace period has not
	// elapsed; late events can still resolve the cookie.
	Tombstoned
	// Evicted means the grace period elapsed; the cookie is dropped.
	Evicted
)

// Record is the per-cookie namespace metadata.
type Record struct {
	Cookie      int64
	CreatedAt   time.Time
	RefCount    int
	State       State
	TombstoneAt time.Time
}

// Tracker owns the live namespace table. All methods are safe for
// concurrent use since the tracker is consulted from both the ring
// consumer and tuner handlers.
type Tracker struct {
	mu        sync.Mutex
	grace     time.Duration
	now       func() time.Time
	records   map[int64]*Record
}

// New returns a Tracker that evicts tombstoned cookies after grace.
func New(grace time.Duration) *Tracker {
	return &Tracker{
		grace:   grace,
		now:     time.Now,
		records: make(map[int64]*Record),
	}
}

// SetClock overrides the tracker's time source, for tests in other
// packages that need a frozen clock (package-local tests set the now
// field directly).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Observe ensures a Live record exists for cookie, inserting one on first
// sighting. UnsupportedCookie is never stored; callers should check it
// before calling Observe. Returns the (possibly newly-created) record.
func (t *Tracker) Observe(cookie int64) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()

	r, ok := t.records[cookie]
	if !ok {
		r = &Record{Cookie: cookie, CreatedAt: t.now(), State: Live}
		t.records[cookie] = r
	}
	r.RefCount++
	return r
}

// Create handles a NETNS_CREATE event, inserting or reviving a Live record.
func (t *Tracker) Create(cookie int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()

	r, ok := t.records[cookie]
	if !ok {
		r = &Record{Cookie: cookie, CreatedAt: t.now()}
		t.records[cookie] = r
	}
	r.State = Live
}

// Destroy handles a NETNS_DESTROY event, tombstoning the record so late
// events can still resolve it during the grace period.
func (t *Tracker) Destroy(cookie int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()

	r, ok := t.records[cookie]
	if !ok {
		return
	}
	r.State = Tombstoned
	r.TombstoneAt = t.now()
}

// Lookup returns the record for cookie and whether the event referencing it
// should still be delivered (false for Evicted cookies; an unknown cookie
// returns a nil record and true).
func (t *Tracker) Lookup(cookie int64) (*Record, bool) {
	if cookie == UnsupportedCookie {
		return nil, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()

	r, ok := t.records[cookie]
	if !ok {
		return nil, true
	}
	return r, r.State != Evicted
}

// evictLocked advances Tombstoned records past their grace period into
// Evicted, then forgets an Evicted record only after a second grace period
// has elapsed. The two-stage delay keeps an Evicted cookie resolvable (and
// thus its events droppable via Lookup) for a while after the transition,
// rather than reverting it to "unknown" — which Lookup treats as
// deliverable — the instant it is evicted.
func (t *Tracker) evictLocked() {
	now := t.now()
	for cookie, r := range t.records {
		switch r.State {
		case Tombstoned:
			if now.Sub(r.TombstoneAt) >= t.grace {
				r.State = Evicted
			}
			fallthrough
		case Evicted:
			if now.Sub(r.TombstoneAt) >= 2*t.grace {
				delete(t.records, cookie)
			}
		}
	}
}

// Count returns the number of records currently tracked, for diagnostics.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
