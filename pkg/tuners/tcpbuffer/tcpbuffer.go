// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tcpbuffer is the worked TCP buffer tuner example: it grows
// net.ipv4.tcp_wmem/tcp_rmem's max component under sustained load, and
// downgrades the increase to a no-op when the correlation engine finds the
// increase tracks a latency regression.
package tcpbuffer

import (
	"go.uber.org/zap"

	"github.com/DataDog/bpftuned/pkg/config"
	"github.com/DataDog/bpftuned/pkg/correlation"
	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/registry"
	"github.com/DataDog/bpftuned/pkg/ring"
	"github.com/DataDog/bpftuned/pkg/tuner"
)

// Name is the identifier this tuner registers itself under.
const Name = "tcpbuffer"

// Tunable ids, per-tuner-unique.
const (
	TunableWmem uint32 = iota
	TunableRmem
)

// Scenario ids.
const (
	ScenarioIncrease uint32 = iota
	ScenarioNoChangeLatency
	// ScenarioLatencySample carries a (buffer size, latency) sample pair
	// to feed the correlation engine, rather than proposing a tunable
	// change. event_id still names the tunable (TunableWmem/TunableRmem)
	// the sample's correlation entry belongs to.
	ScenarioLatencySample
)

func init() {
	tuner.RegisterStatic(Name, New)
}

// Plugin implements the TCP buffer tuner.
type Plugin struct {
	log           *zap.SugaredLogger
	corrThreshold float64
	wmem          registry.Descriptor
	rmem          registry.Descriptor
}

// New constructs a fresh tcpbuffer tuner instance, reading
// BPFTUNE_CORR_THRESHOLD from the process environment.
func New() tuner.Plugin {
	cfg := config.Load()
	return &Plugin{corrThreshold: cfg.CorrThreshold}
}

// Init declares and registers this tuner's two namespaced tunables and its
// two scenarios.
func (p *Plugin) Init(t *tuner.Tuner) error {
	p.log = ddlog.WithTuner(t.Name)

	p.wmem = registry.Descriptor{ID: TunableWmem, Kind: registry.Sysctl, Name: "net.ipv4.tcp_wmem", Namespaced: true, Arity: 3}
	p.rmem = registry.Descriptor{ID: TunableRmem, Kind: registry.Sysctl, Name: "net.ipv4.tcp_rmem", Namespaced: true, Arity: 3}

	t.DeclareScenario(tuner.ScenarioDescriptor{ScenarioID: ScenarioIncrease, Label: "TCP_BUFFER_INCREASE", Description: "grow the buffer max under sustained load"})
	t.DeclareScenario(tuner.ScenarioDescriptor{ScenarioID: ScenarioNoChangeLatency, Label: "TCP_BUFFER_NOCHANGE_LATENCY", Description: "increase suppressed: correlates with latency regression"})

	t.DeclareDescriptor(p.wmem)
	t.DeclareDescriptor(p.rmem)

	errs := t.Registry.Register(t.ID, []registry.Descriptor{p.wmem, p.rmem})
	for id, err := range errs {
		p.log.Warnf("failed to register tunable %d: %s", id, err)
	}
	return nil
}

// Fini has nothing of its own to release; tunable rollback is the host's
// responsibility via Registry.Rollback.
func (p *Plugin) Fini(t *tuner.Tuner) {
	p.log.Infof("tcpbuffer tuner stopped")
}

// HandleEvent reacts to a buffer-increase event for event_id ∈
// {TunableWmem, TunableRmem}. It queries the correlation map for the
// (tunable, namespace) pair; a coefficient above corrThreshold
// downgrades the scenario to NOCHANGE_LATENCY and leaves the buffer's max
// component untouched, per the correlation-based downgrade policy. A
// LatencySample event instead feeds the correlation map's write side and
// proposes no tunable change.
func (p *Plugin) HandleEvent(t *tuner.Tuner, ev ring.Event, ctx *tuner.HandlerContext) {
	if ev.ScenarioID == ScenarioLatencySample {
		p.handleLatencySample(ev, ctx)
		return
	}
	if ev.ScenarioID != ScenarioIncrease {
		return
	}
	if len(ev.Updates) == 0 {
		return
	}

	desc := p.descriptorFor(ev.EventID)
	if desc == nil {
		return
	}

	update := ev.Updates[0]
	corrKey := correlation.Key{TunableID: ev.EventID, NetnsCookie: ev.NetnsCookie}
	coeff := ctx.Corr.Compute(corrKey)

	scenario := registry.Increase
	newValues := update.New
	scenarioID := ScenarioIncrease

	if coeff > p.corrThreshold {
		scenario = registry.NoChange
		newValues[2] = update.Old[2]
		scenarioID = ScenarioNoChangeLatency
		p.log.Infof("corr %.3f > threshold %.3f for %s netns %d, suppressing increase", coeff, p.corrThreshold, desc.Name, ev.NetnsCookie)
	}

	reason := "load"
	if scenarioID == ScenarioNoChangeLatency {
		reason = "latency correlation"
	}

	err := ctx.Registry.Write(t.ID, *desc, scenario, ev.NetnsCookie, newValues,
		"Due to %s change %s(min default max) from (%d %d %d) -> (%d %d %d)",
		reason, desc.Name, update.Old[0], update.Old[1], update.Old[2], newValues[0], newValues[1], newValues[2])
	if err != nil {
		p.log.Warnf("failed to write %s for netns %d: %s", desc.Name, ev.NetnsCookie, err)
	}
}

// handleLatencySample is corr_update's userspace-replica call site: slot 0
// of the event carries the sample pair, buffer size in Old[0] and the
// latency signal in Old[1].
func (p *Plugin) handleLatencySample(ev ring.Event, ctx *tuner.HandlerContext) {
	if len(ev.Updates) == 0 {
		return
	}
	sample := ev.Updates[0]
	corrKey := correlation.Key{TunableID: ev.EventID, NetnsCookie: ev.NetnsCookie}
	ctx.Corr.Update(corrKey, sample.Old[0], sample.Old[1])
}

func (p *Plugin) descriptorFor(eventID uint32) *registry.Descriptor {
	switch eventID {
	case TunableWmem:
		return &p.wmem
	case TunableRmem:
		return &p.rmem
	default:
		return nil
	}
}

var _ tuner.Plugin = (*Plugin)(nil)
