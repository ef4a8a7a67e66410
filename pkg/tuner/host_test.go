// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/bpftuned/pkg/registry"
	"github.com/DataDog/bpftuned/pkg/ring"
)

type recordingPlugin struct {
	initErr       error
	finiCalls     int
	events        []ring.Event
	panicOnHandle bool
}

func (p *recordingPlugin) Init(t *Tuner) error {
	return p.initErr
}

func (p *recordingPlugin) Fini(t *Tuner) {
	p.finiCalls++
}

func (p *recordingPlugin) HandleEvent(t *Tuner, ev ring.Event, ctx *HandlerContext) {
	if p.panicOnHandle {
		panic("boom")
	}
	p.events = append(p.events, ev)
}

var _ Plugin = (*recordingPlugin)(nil)

func newTestHost() *Host {
	reg := registry.New(nil, nil, false)
	return NewHost(reg, "/nonexistent")
}

func TestLoadStaticInitializesTuner(t *testing.T) {
	p := &recordingPlugin{}
	RegisterStatic("test-ok", func() Plugin { return p })

	h := newTestHost()
	require.NoError(t, h.LoadStaticByName("test-ok"))

	tuners := h.Tuners()
	require.Len(t, tuners, 1)
	assert.Equal(t, Initialized, tuners[0].State)
}

func TestLoadStaticMarksFailedOnInitError(t *testing.T) {
	p := &recordingPlugin{initErr: assertErr}
	RegisterStatic("test-fail", func() Plugin { return p })

	h := newTestHost()
	err := h.LoadStaticByName("test-fail")
	require.Error(t, err)

	tuners := h.Tuners()
	require.Len(t, tuners, 1)
	assert.Equal(t, Failed, tuners[0].State)
}

func TestDispatchRoutesToOwningTuner(t *testing.T) {
	p := &recordingPlugin{}
	RegisterStatic("test-dispatch", func() Plugin { return p })

	h := newTestHost()
	require.NoError(t, h.LoadStaticByName("test-dispatch"))

	tuners := h.Tuners()
	require.Len(t, tuners, 1)
	id := tuners[0].ID

	h.Dispatch(ring.Event{TunerID: id, EventID: 1})
	require.Len(t, p.events, 1)
	assert.Equal(t, uint32(1), p.events[0].EventID)
}

func TestDispatchDropsUnknownTunerID(t *testing.T) {
	h := newTestHost()
	// Must not panic when no tuner is registered under this id.
	h.Dispatch(ring.Event{TunerID: 999, EventID: 1})
}

func TestFiniAllCallsFiniAndMarksGone(t *testing.T) {
	p := &recordingPlugin{}
	RegisterStatic("test-fini", func() Plugin { return p })

	h := newTestHost()
	require.NoError(t, h.LoadStaticByName("test-fini"))

	h.FiniAll()
	assert.Equal(t, 1, p.finiCalls)

	tuners := h.Tuners()
	require.Len(t, tuners, 1)
	assert.Equal(t, Gone, tuners[0].State)
}

func TestDispatchSilentlyDropsAfterFini(t *testing.T) {
	p := &recordingPlugin{}
	RegisterStatic("test-fini-dispatch", func() Plugin { return p })

	h := newTestHost()
	require.NoError(t, h.LoadStaticByName("test-fini-dispatch"))
	id := h.Tuners()[0].ID

	h.FiniAll()
	h.Dispatch(ring.Event{TunerID: id, EventID: 1})
	assert.Empty(t, p.events, "events after Fini must be silently dropped")
}

func TestDispatchRecoversHandlerPanicAndMarksCrashed(t *testing.T) {
	p := &recordingPlugin{panicOnHandle: true}
	RegisterStatic("test-panic", func() Plugin { return p })

	h := newTestHost()
	require.NoError(t, h.LoadStaticByName("test-panic"))
	id := h.Tuners()[0].ID

	assert.NotPanics(t, func() {
		h.Dispatch(ring.Event{TunerID: id, EventID: 1})
	})
	assert.True(t, h.Crashed())
	assert.Equal(t, Crashed, h.Tuners()[0].State)
}

func TestFiniAllSkipsFiniForCrashedTuner(t *testing.T) {
	p := &recordingPlugin{panicOnHandle: true}
	RegisterStatic("test-panic-fini", func() Plugin { return p })

	h := newTestHost()
	require.NoError(t, h.LoadStaticByName("test-panic-fini"))
	id := h.Tuners()[0].ID

	h.Dispatch(ring.Event{TunerID: id, EventID: 1})
	require.Equal(t, Crashed, h.Tuners()[0].State)

	h.FiniAll()
	assert.Equal(t, 0, p.finiCalls, "a crashed plugin's Fini must not be called")
}

var assertErr = &testError{"init failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
