// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.True(t, cfg.NetnsEnabled)
	assert.Equal(t, 5000*time.Millisecond, cfg.RescanInterval)
	assert.Equal(t, 0.5, cfg.CorrThreshold)
	assert.Equal(t, 25*time.Millisecond, cfg.DedupWindow)
	assert.Equal(t, "/usr/local/lib64/bpftune/", cfg.PluginDir)
	assert.False(t, cfg.Debug)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BPFTUNE_NETNS", "false")
	t.Setenv("BPFTUNE_RESCAN_MS", "1000")
	t.Setenv("BPFTUNE_CORR_THRESHOLD", "0.75")
	t.Setenv("BPFTUNE_LOG_LEVEL", "debug")

	cfg := Load()
	assert.False(t, cfg.NetnsEnabled)
	assert.Equal(t, 1000*time.Millisecond, cfg.RescanInterval)
	assert.Equal(t, 0.75, cfg.CorrThreshold)
	assert.True(t, cfg.Debug)
}
