// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tuner implements the tuner plugin host: discovery, lifecycle,
// and event routing for independent tuning modules.
package tuner

import (
	"github.com/DataDog/bpftuned/pkg/correlation"
	"github.com/DataDog/bpftuned/pkg/registry"
)

// State is a tuner's position in its lifecycle.
type State int

const (
	// Loaded means the plugin artifact has been resolved but Init has
	// not yet been called.
	Loaded State = iota
	// Initialized means Init returned successfully.
	Initialized
	// Attached means the tuner is live and receiving events. bpftuned
	// does not currently distinguish Initialized from Attached at the
	// dispatch boundary; both states accept events.
	Attached
	// Failed means Init returned a non-zero status; the tuner's
	// tunables were never registered and it will not be retried until
	// its artifact's modification time changes.
	Failed
	// Gone means Fini has completed and the tuner has been unloaded.
	Gone
	// Crashed means a handler invocation panicked. The tuner is abandoned
	// in place: no further events are dispatched to it, and its crash
	// marks the host's Crashed() flag so the supervisor can shut the
	// daemon down with the fatal-plugin-error exit code rather than
	// silently continuing to run other tuners next to a corrupted one.
	Crashed
)

// ScenarioDescriptor is purely informational: a named reason for a
// proposed change, used to annotate log lines.
type ScenarioDescriptor struct {
	ScenarioID  uint32
	Label       string
	Description string
}

// Tuner represents one loaded tuning plugin.
type Tuner struct {
	Name    string
	ID      uint32
	State   State
	Plugin  Plugin
	Path    string
	ModTime int64

	Scenarios   map[uint32]ScenarioDescriptor
	Descriptors []registry.Descriptor
	Registry    *registry.Registry
	Corr        *correlation.Map
}

// Scenario returns the descriptor registered under id, if any.
func (t *Tuner) Scenario(id uint32) (ScenarioDescriptor, bool) {
	d, ok := t.Scenarios[id]
	return d, ok
}

// DeclareScenario registers a scenario descriptor. Called from a plugin's
// Init.
func (t *Tuner) DeclareScenario(d ScenarioDescriptor) {
	if t.Scenarios == nil {
		t.Scenarios = make(map[uint32]ScenarioDescriptor)
	}
	t.Scenarios[d.ScenarioID] = d
}

// DeclareDescriptor records a tunable descriptor the plugin owns, so the
// host can roll it back on Fini without the plugin having to remember to
// call Registry.Rollback itself.
func (t *Tuner) DeclareDescriptor(d registry.Descriptor) {
	t.Descriptors = append(t.Descriptors, d)
}
