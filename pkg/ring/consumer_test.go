// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ring

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/bpftuned/pkg/netnstrack"
)

type fakeReader struct {
	records []Record
	errs    []error
	idx     int
}

func (f *fakeReader) SetDeadline(time.Time) error { return nil }

func (f *fakeReader) Read() (Record, error) {
	if f.idx >= len(f.records) && f.idx >= len(f.errs) {
		return Record{}, os.ErrDeadlineExceeded
	}
	var rec Record
	var err error
	if f.idx < len(f.records) {
		rec = f.records[f.idx]
	}
	if f.idx < len(f.errs) {
		err = f.errs[f.idx]
	}
	f.idx++
	return rec, err
}

func (f *fakeReader) Close() error { return nil }

type recordingDispatcher struct {
	events []Event
}

func (r *recordingDispatcher) Dispatch(ev Event) {
	r.events = append(r.events, ev)
}

func TestConsumerDispatchesDecodedEvents(t *testing.T) {
	ev := Event{TunerID: 1, ScenarioID: 1, EventID: 5, PID: 1, NetnsCookie: -1}
	reader := &fakeReader{records: []Record{{RawSample: EncodeEvent(ev)}}}
	disp := &recordingDispatcher{}
	tracker := netnstrack.New(30 * time.Second)

	c := NewConsumer(reader, 25*time.Millisecond, tracker, disp)
	require.NoError(t, c.Poll(time.Now().Add(time.Millisecond)))

	require.Len(t, disp.events, 1)
	assert.Equal(t, ev.EventID, disp.events[0].EventID)
}

func TestConsumerDropsDuplicateWithinWindow(t *testing.T) {
	ev := Event{TunerID: 1, ScenarioID: 1, EventID: 5, PID: 1, NetnsCookie: 42}
	raw := EncodeEvent(ev)
	reader := &fakeReader{records: []Record{{RawSample: raw}, {RawSample: raw}}}
	disp := &recordingDispatcher{}
	tracker := netnstrack.New(30 * time.Second)

	c := NewConsumer(reader, 25*time.Millisecond, tracker, disp)
	fixed := time.Now()
	c.clock = func() time.Time { return fixed }

	require.NoError(t, c.Poll(fixed.Add(time.Millisecond)))
	assert.Len(t, disp.events, 1, "second identical event within the window must be dropped")
}

func TestConsumerRoutesNetnsCreateToTracker(t *testing.T) {
	ev := Event{TunerID: CoreTunerID, EventID: CoreEventNetnsCreate, NetnsCookie: 42}
	reader := &fakeReader{records: []Record{{RawSample: EncodeEvent(ev)}}}
	disp := &recordingDispatcher{}
	tracker := netnstrack.New(30 * time.Second)

	c := NewConsumer(reader, 25*time.Millisecond, tracker, disp)
	require.NoError(t, c.Poll(time.Now().Add(time.Millisecond)))

	assert.Empty(t, disp.events, "core events must not reach a tuner's handler")
	assert.Equal(t, 1, tracker.Count())
}

func TestConsumerDropsEventsForEvictedNamespace(t *testing.T) {
	fixed := time.Now()
	tracker := netnstrack.New(10 * time.Millisecond)
	tracker.SetClock(func() time.Time { return fixed })

	tracker.Create(42)
	tracker.Destroy(42)
	fixed = fixed.Add(10 * time.Millisecond) // past grace: Tombstoned -> Evicted

	ev := Event{TunerID: 1, EventID: 5, NetnsCookie: 42}
	reader := &fakeReader{records: []Record{{RawSample: EncodeEvent(ev)}}}
	disp := &recordingDispatcher{}

	c := NewConsumer(reader, 25*time.Millisecond, tracker, disp)
	c.clock = func() time.Time { return fixed }
	require.NoError(t, c.Poll(fixed.Add(time.Millisecond)))

	assert.Empty(t, disp.events, "events referencing an evicted namespace must be dropped")
}

func TestConsumerMarksUnhealthyAfterThreeFailures(t *testing.T) {
	readErr := errors.New("boom")
	reader := &fakeReader{errs: []error{readErr, readErr, readErr}}
	disp := &recordingDispatcher{}
	tracker := netnstrack.New(30 * time.Second)

	c := NewConsumer(reader, 25*time.Millisecond, tracker, disp)
	fixed := time.Now()
	c.clock = func() time.Time { return fixed }

	var err error
	for i := 0; i < 3; i++ {
		err = c.Poll(fixed.Add(time.Millisecond))
	}
	require.Error(t, err)
	assert.True(t, c.Unhealthy())
}
