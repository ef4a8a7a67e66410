// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package registry owns the authoritative view of every tunable a tuner
// has claimed, mediates every write, and guarantees rollback on teardown.
package registry

import "time"

// Kind is the tunable's storage mechanism.
type Kind int

const (
	// Sysctl tunables live under /proc/sys.
	Sysctl Kind = iota
	// Procfs tunables live elsewhere under /proc.
	Procfs
	// Other covers any other kernel-exposed tunable surface.
	Other
)

// ScenarioKind classifies a proposed change for cap/cooldown purposes.
type ScenarioKind int

const (
	// Increase scenarios are capped against DefaultMaxGrowthFactor.
	Increase ScenarioKind = iota
	// Decrease scenarios are capped against DefaultMaxShrinkFactor.
	Decrease
	// NoChange scenarios bypass the growth/shrink caps entirely (e.g. a
	// scenario downgraded by the correlation engine).
	NoChange
)

// Descriptor is an immutable, per-process tunable descriptor.
type Descriptor struct {
	ID         uint32
	Kind       Kind
	Name       string
	Namespaced bool
	Arity      int
}

// State is the per (tuner, tunable-id, namespace-cookie) mutable record.
type State struct {
	Original    [3]int64
	Current     [3]int64
	LastWriteNs int64
	WriteCount  uint64
	captured    bool
}

const (
	// DefaultMaxGrowthFactor is MAX_GROWTH_FACTOR.
	DefaultMaxGrowthFactor = 4
	// DefaultMaxShrinkFactor is MAX_SHRINK_FACTOR.
	DefaultMaxShrinkFactor = 4
	// DefaultMinWriteInterval is MIN_WRITE_INTERVAL.
	DefaultMinWriteInterval = time.Second
)

type stateKey struct {
	tunerID     uint32
	tunableID   uint32
	netnsCookie int64
}
