// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config loads the daemon's own tunables (as opposed to the kernel
// tunables it manages) from environment variables, per the daemon
// configuration surface.
package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	defaultRescanInterval = 5000 * time.Millisecond
	defaultCorrThreshold  = 0.5
	defaultDedupWindow    = 25 * time.Millisecond
	defaultNetnsGrace     = 30 * time.Second
	defaultPluginDir      = "/usr/local/lib64/bpftune/"
)

// Config holds every daemon-level tunable. Values are sourced from
// environment variables only; there is no config file, matching the
// daemon's configuration surface.
type Config struct {
	// NetnsEnabled gates per-namespace writes. BPFTUNE_NETNS, default 1.
	NetnsEnabled bool
	// RescanInterval is how often the plugin directory is re-listed.
	// BPFTUNE_RESCAN_MS, default 5000.
	RescanInterval time.Duration
	// CorrThreshold is the correlation coefficient above which an
	// INCREASE scenario is downgraded to NOCHANGE_LATENCY.
	// BPFTUNE_CORR_THRESHOLD, default 0.5.
	CorrThreshold float64
	// DedupWindow is the per-key event dedup window.
	// BPFTUNE_DEDUP_WINDOW_MS, default 25.
	DedupWindow time.Duration
	// NetnsGrace is how long a tombstoned namespace cookie is kept
	// resolvable before eviction. BPFTUNE_NETNS_GRACE_MS, default 30000.
	NetnsGrace time.Duration
	// PluginDir is the directory tuner artifacts are discovered in.
	// BPFTUNE_PLUGIN_DIR.
	PluginDir string
	// Debug enables DEBUG-level logging. BPFTUNE_LOG_LEVEL=debug.
	Debug bool
}

// Load reads the daemon configuration from the process environment.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("bpftune")
	v.AutomaticEnv()

	v.SetDefault("netns", true)
	v.SetDefault("rescan_ms", int(defaultRescanInterval/time.Millisecond))
	v.SetDefault("corr_threshold", defaultCorrThreshold)
	v.SetDefault("dedup_window_ms", int(defaultDedupWindow/time.Millisecond))
	v.SetDefault("netns_grace_ms", int(defaultNetnsGrace/time.Millisecond))
	v.SetDefault("plugin_dir", defaultPluginDir)
	v.SetDefault("log_level", "info")

	return &Config{
		NetnsEnabled:   v.GetBool("netns"),
		RescanInterval: time.Duration(v.GetInt("rescan_ms")) * time.Millisecond,
		CorrThreshold:  v.GetFloat64("corr_threshold"),
		DedupWindow:    time.Duration(v.GetInt("dedup_window_ms")) * time.Millisecond,
		NetnsGrace:     time.Duration(v.GetInt("netns_grace_ms")) * time.Millisecond,
		PluginDir:      v.GetString("plugin_dir"),
		Debug:          v.GetString("log_level") == "debug",
	}
}
