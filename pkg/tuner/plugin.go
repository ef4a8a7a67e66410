// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tuner

import (
	goplugin "plugin"

	pkgerrors "github.com/pkg/errors"

	"github.com/DataDog/bpftuned/pkg/bpftuneerr"
	"github.com/DataDog/bpftuned/pkg/correlation"
	"github.com/DataDog/bpftuned/pkg/registry"
	"github.com/DataDog/bpftuned/pkg/ring"
)

// HandlerContext carries the per-event facilities a Plugin needs to act on
// an observation: the correlation map keyed by this tuner, and the tunable
// registry to write adjustments through.
type HandlerContext struct {
	Corr     *correlation.Map
	Registry *registry.Registry
}

// Plugin is the interface every tuner, static or dynamically loaded, must
// implement. Init declares the tunables and scenarios the tuner owns and
// attaches its eBPF probes; Fini detaches probes and is responsible for
// nothing else (the host performs rollback). HandleEvent is invoked once
// per decoded ring-buffer event routed to this tuner.
type Plugin interface {
	Init(t *Tuner) error
	Fini(t *Tuner)
	HandleEvent(t *Tuner, ev ring.Event, ctx *HandlerContext)
}

// symbolName is the exported constructor every dynamically loaded tuner
// artifact must provide.
const symbolName = "NewPlugin"

// staticPlugins holds in-tree tuners registered via RegisterStatic, keyed
// by the name the host will look them up under. Static and dynamically
// loaded (.so) plugins are otherwise indistinguishable to the host.
var staticPlugins = map[string]func() Plugin{}

// RegisterStatic adds an in-tree tuner constructor under name. Called from
// each in-tree tuner package's init().
func RegisterStatic(name string, ctor func() Plugin) {
	staticPlugins[name] = ctor
}

// LoadStatic returns a freshly constructed Plugin for an in-tree tuner
// registered under name, or false if none is registered.
func LoadStatic(name string) (Plugin, bool) {
	ctor, ok := staticPlugins[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// LoadDynamic opens a .so artifact at path and resolves its NewPlugin
// symbol, per the dynamic tuner loading mechanic. plugin.Open caches by
// path: reloading the same artifact after a modification requires the
// caller to have already detected the mtime change and decided to retry,
// since the standard library plugin package offers no unload primitive.
func LoadDynamic(path string) (Plugin, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeLoadFailed, "%s: %s", path, err)
	}

	sym, err := p.Lookup(symbolName)
	if err != nil {
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeLoadFailed, "%s: missing %s symbol: %s", path, symbolName, err)
	}

	ctor, ok := sym.(func() Plugin)
	if !ok {
		return nil, pkgerrors.Wrapf(bpftuneerr.ErrProbeLoadFailed, "%s: %s has the wrong signature", path, symbolName)
	}

	return ctor(), nil
}
