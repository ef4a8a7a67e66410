// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tuner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"

	"github.com/DataDog/bpftuned/pkg/bpftuneerr"
	"github.com/DataDog/bpftuned/pkg/correlation"
	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/metrics"
	"github.com/DataDog/bpftuned/pkg/registry"
	"github.com/DataDog/bpftuned/pkg/ring"
)

// unknownWarnWindow bounds how often the host logs a warning about events
// naming an unrecognized tuner id, per tuner-id, so a misbehaving probe
// cannot flood the log.
const unknownWarnWindow = time.Second

// Host discovers tuner plugins (static and dynamic), runs their Init/Fini
// lifecycle, and routes ring events to the tuner that owns them. It
// implements ring.Dispatcher.
type Host struct {
	mu        sync.RWMutex
	tuners    map[uint32]*Tuner
	byName    map[string]uint32
	nextID    uint32
	pluginDir string

	global   *registry.Registry
	newCorr  func() *correlation.Map
	lastWarn map[uint32]time.Time
	crashed  bool
}

// NewHost builds an empty Host. reg is the shared tunable registry every
// loaded tuner writes through.
func NewHost(reg *registry.Registry, pluginDir string) *Host {
	return &Host{
		tuners:    make(map[uint32]*Tuner),
		byName:    make(map[string]uint32),
		pluginDir: pluginDir,
		global:    reg,
		newCorr:   correlation.NewMap,
		lastWarn:  make(map[uint32]time.Time),
	}
}

var _ ring.Dispatcher = (*Host)(nil)

// LoadStaticByName loads an in-tree tuner registered under name and runs
// its Init. Static tuners are discovered at startup; they are never
// subject to mtime-based rescans.
func (h *Host) LoadStaticByName(name string) error {
	p, ok := LoadStatic(name)
	if !ok {
		return fmt.Errorf("no static tuner registered under %q", name)
	}
	return h.load(name, p, "", 0)
}

// Rescan walks pluginDir for .so artifacts and loads any that are new, per
// the discovery mechanic (fsnotify-driven in production, directly callable
// in tests). A tuner previously Failed is retried only once its artifact's
// mtime changes; an already-loaded healthy tuner is not reloaded when its
// mtime changes, and an artifact that disappears is not unloaded.
func (h *Host) Rescan() error {
	entries, err := os.ReadDir(h.pluginDir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(h.pluginDir, name)
		info, err := os.Stat(path)
		if err != nil {
			ddlog.Warnf("failed to stat plugin candidate %s: %s", path, err)
			continue
		}

		h.mu.RLock()
		id, known := h.byName[name]
		var existing *Tuner
		if known {
			existing = h.tuners[id]
		}
		h.mu.RUnlock()

		if existing != nil {
			if existing.ModTime == info.ModTime().UnixNano() {
				continue
			}
			if existing.State != Failed {
				// Already loaded and healthy; only Failed tuners are
				// retried on mtime change.
				continue
			}
		}

		p, err := LoadDynamic(path)
		if err != nil {
			ddlog.Warnf("failed to load plugin %s: %s", path, err)
			continue
		}
		if err := h.load(name, p, path, info.ModTime().UnixNano()); err != nil {
			ddlog.Warnf("failed to init plugin %s: %s", path, err)
		}
	}
	return nil
}

// Watch starts an fsnotify watch on pluginDir and calls Rescan whenever a
// write or create event fires, until stop is closed. It also rescans once
// immediately on every tick of the rescan interval, as a fallback for
// filesystems or mounts where fsnotify events don't propagate (e.g. some
// overlay/network mounts used for plugin delivery).
func (h *Host) Watch(stop <-chan struct{}, rescanInterval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(h.pluginDir); err != nil {
		return err
	}

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := h.Rescan(); err != nil {
					ddlog.Warnf("plugin rescan failed: %s", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ddlog.Warnf("plugin watcher error: %s", err)
		case <-ticker.C:
			if err := h.Rescan(); err != nil {
				ddlog.Warnf("plugin rescan failed: %s", err)
			}
		}
	}
}

func (h *Host) load(name string, p Plugin, path string, modTime int64) error {
	h.mu.Lock()
	id, known := h.byName[name]
	if !known {
		h.nextID++
		id = h.nextID
		h.byName[name] = id
	}
	h.mu.Unlock()

	t := &Tuner{
		Name:      name,
		ID:        id,
		State:     Loaded,
		Plugin:    p,
		Path:      path,
		ModTime:   modTime,
		Scenarios: make(map[uint32]ScenarioDescriptor),
		Registry:  h.global,
		Corr:      h.newCorr(),
	}

	h.mu.Lock()
	h.tuners[id] = t
	h.mu.Unlock()

	if err := p.Init(t); err != nil {
		h.mu.Lock()
		t.State = Failed
		h.mu.Unlock()
		return pkgerrors.Wrapf(bpftuneerr.ErrProbeAttachFailed, "%s: %s", name, err)
	}

	h.mu.Lock()
	t.State = Initialized
	h.mu.Unlock()
	ddlog.Infof("tuner %s (id %d) initialized", name, id)
	return nil
}

// Dispatch routes ev to the tuner it names, if that tuner is Initialized
// or Attached. Events naming any other tuner are dropped: silently for a
// known tuner in another state (Loaded, Failed, Gone or Crashed), with a
// rate-limited warning for a genuinely unknown id.
func (h *Host) Dispatch(ev ring.Event) {
	h.mu.RLock()
	t, ok := h.tuners[ev.TunerID]
	h.mu.RUnlock()

	if !ok {
		h.warnUnknown(ev.TunerID)
		return
	}
	if t.State != Initialized && t.State != Attached {
		return
	}

	ctx := &HandlerContext{Corr: t.Corr, Registry: h.global}
	if err := h.invoke(t, ev, ctx); err != nil {
		h.mu.Lock()
		t.State = Crashed
		h.crashed = true
		h.mu.Unlock()
		ddlog.Errorf("tuner %s (id %d) handler panicked, abandoning: %s", t.Name, t.ID, err)
		return
	}
	metrics.EventsDispatched.WithLabelValues(t.Name).Inc()
}

// invoke calls the plugin's handler, recovering a panic into
// bpftuneerr.ErrPluginCrash so one misbehaving tuner cannot take the whole
// process down with it mid-dispatch; the caller still treats the crash as
// fatal to the daemon via Host.Crashed.
func (h *Host) invoke(t *Tuner, ev ring.Event, ctx *HandlerContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Wrapf(bpftuneerr.ErrPluginCrash, "%s: %v", t.Name, r)
		}
	}()
	t.Plugin.HandleEvent(t, ev, ctx)
	return nil
}

// Crashed reports whether any dispatched handler has ever panicked. The
// supervisor checks this after every poll and shuts the daemon down with
// the fatal-plugin-error exit code once it becomes true.
func (h *Host) Crashed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.crashed
}

func (h *Host) warnUnknown(id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastWarn[id]
	now := time.Now()
	if ok && now.Sub(last) < unknownWarnWindow {
		return
	}
	h.lastWarn[id] = now
	ddlog.Warnf("event references unknown tuner id %d", id)
}

// finiTimeout bounds how long a single tuner's Fini may run during
// shutdown before it is abandoned with a logged warning.
const finiTimeout = 2 * time.Second

// FiniAll runs Fini for every tuner currently Initialized, in the reverse
// of load order, then rolls back every tunable the tuner wrote. Used by
// the supervisor during shutdown. A tuner whose Fini exceeds finiTimeout
// is abandoned; rollback still runs, but may be incomplete for a tuner
// stuck in its own Fini.
func (h *Host) FiniAll() {
	h.mu.Lock()
	ordered := make([]*Tuner, 0, len(h.tuners))
	for _, t := range h.tuners {
		ordered = append(ordered, t)
	}
	h.mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID > ordered[j].ID })

	for _, t := range ordered {
		h.mu.RLock()
		state := t.State
		h.mu.RUnlock()
		if state == Gone || state == Failed {
			continue
		}

		if state == Crashed {
			// The plugin's own code already proved unsafe to call once
			// this shutdown; don't hand it a second chance to panic in
			// Fini. Its rollback below still runs — that's host-owned
			// bookkeeping the crash never touched.
			ddlog.Warnf("tuner %s (id %d) crashed; skipping fini", t.Name, t.ID)
		} else {
			done := make(chan struct{})
			go func(t *Tuner) {
				t.Plugin.Fini(t)
				close(done)
			}(t)

			select {
			case <-done:
			case <-time.After(finiTimeout):
				ddlog.Warnf("tuner %s (id %d) fini exceeded %s, abandoning", t.Name, t.ID, finiTimeout)
			}
		}

		if len(t.Descriptors) > 0 {
			h.global.Rollback(t.ID, t.Descriptors)
		}

		h.mu.Lock()
		t.State = Gone
		h.mu.Unlock()
		ddlog.Infof("tuner %s (id %d) finalized", t.Name, t.ID)
	}
}

// Tuners returns a snapshot of every loaded tuner, for diagnostics.
func (h *Host) Tuners() []*Tuner {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Tuner, 0, len(h.tuners))
	for _, t := range h.tuners {
		out = append(out, t)
	}
	return out
}
