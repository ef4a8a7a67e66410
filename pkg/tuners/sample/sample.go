// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sample is the normative minimum-viable tuner: it registers no
// tunables, declares no scenarios, and only logs the events it receives.
// New tuners are expected to start from a copy of this package.
package sample

import (
	"go.uber.org/zap"

	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/ring"
	"github.com/DataDog/bpftuned/pkg/tuner"
)

// Name is the identifier this tuner registers itself under.
const Name = "sample"

func init() {
	tuner.RegisterStatic(Name, New)
}

// Plugin is the sample tuner's implementation of tuner.Plugin.
type Plugin struct {
	log *zap.SugaredLogger
}

// New constructs a fresh sample tuner instance.
func New() tuner.Plugin {
	return &Plugin{}
}

// Init satisfies tuner.Plugin. The sample tuner owns no tunables, so it
// has nothing to read from the kernel and nothing to register.
func (p *Plugin) Init(t *tuner.Tuner) error {
	p.log = ddlog.WithTuner(t.Name)
	p.log.Infof("sample tuner ready")
	return nil
}

// Fini satisfies tuner.Plugin. There is nothing to tear down: the sample
// tuner never wrote a tunable, so the host's rollback has nothing to do
// for it either.
func (p *Plugin) Fini(t *tuner.Tuner) {
	p.log.Infof("sample tuner stopped")
}

// HandleEvent logs every event it receives and otherwise does nothing.
func (p *Plugin) HandleEvent(t *tuner.Tuner, ev ring.Event, ctx *tuner.HandlerContext) {
	p.log.Infof("observed event id=%d scenario=%d pid=%d netns=%d", ev.EventID, ev.ScenarioID, ev.PID, ev.NetnsCookie)
}

var _ tuner.Plugin = (*Plugin)(nil)
