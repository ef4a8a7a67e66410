// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/bpftuned/pkg/config"
	"github.com/DataDog/bpftuned/pkg/ring"
	"github.com/DataDog/bpftuned/pkg/tuner"
	_ "github.com/DataDog/bpftuned/pkg/tuners/sample"
)

// crashingPlugin panics on every event, for exercising the
// fatal-plugin-error shutdown path.
type crashingPlugin struct{}

func (crashingPlugin) Init(*tuner.Tuner) error { return nil }
func (crashingPlugin) Fini(*tuner.Tuner)       {}
func (crashingPlugin) HandleEvent(*tuner.Tuner, ring.Event, *tuner.HandlerContext) {
	panic("boom")
}

func init() {
	tuner.RegisterStatic("crashing", func() tuner.Plugin { return crashingPlugin{} })
}

type singleEventReader struct {
	sent bool
	ev   ring.Event
}

func (r *singleEventReader) SetDeadline(time.Time) error { return nil }

func (r *singleEventReader) Read() (ring.Record, error) {
	if r.sent {
		return ring.Record{}, os.ErrDeadlineExceeded
	}
	r.sent = true
	return ring.Record{RawSample: ring.EncodeEvent(r.ev)}, nil
}

func (r *singleEventReader) Close() error { return nil }

type emptyReader struct{}

func (emptyReader) SetDeadline(time.Time) error { return nil }
func (emptyReader) Read() (ring.Record, error)  { return ring.Record{}, os.ErrDeadlineExceeded }
func (emptyReader) Close() error                { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Load()
	cfg.PluginDir = dir
	return cfg
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, emptyReader{})
	require.NoError(t, s.LoadStaticTuners("sample"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	reason := s.Run(ctx)
	assert.Equal(t, ExitClean, reason)
}

func TestRunExitsWithPluginCrashReason(t *testing.T) {
	cfg := testConfig(t)
	reader := &singleEventReader{}
	s := New(cfg, reader)
	require.NoError(t, s.LoadStaticTuners("crashing"))
	reader.ev = ring.Event{TunerID: s.Host().Tuners()[0].ID, EventID: 1}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reason := s.Run(ctx)
	assert.Equal(t, ExitPluginCrash, reason)
}

func TestLoadStaticTunersFailsOnUnknownName(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, emptyReader{})
	err := s.LoadStaticTuners("does-not-exist")
	assert.Error(t, err)
}
