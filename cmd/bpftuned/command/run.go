// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package command wires the bpftuned CLI: argument parsing, logging
// bootstrap, and signal handling around the supervisor's event loop. This
// package, not the supervisor, owns everything explicitly out of scope in
// the daemon core.
package command

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/DataDog/bpftuned/pkg/config"
	"github.com/DataDog/bpftuned/pkg/ddlog"
	"github.com/DataDog/bpftuned/pkg/probe"
	"github.com/DataDog/bpftuned/pkg/supervisor"
	_ "github.com/DataDog/bpftuned/pkg/tuners/sample"
	_ "github.com/DataDog/bpftuned/pkg/tuners/tcpbuffer"
)

// staticTuners lists the in-tree tuners loaded at startup, in load order.
// Dynamically discovered plugins under cfg.PluginDir are loaded in
// addition to these, via the host's rescan.
var staticTuners = []string{"sample", "tcpbuffer"}

// bytecodePath is where the daemon looks for its kernel-side observation
// bytecode. It is not user-configurable: unlike tuner plugins, the core
// ring event layout is part of this binary's contract with its own kernel
// half.
const bytecodePath = "/usr/local/lib64/bpftune/bpftune.o"

// metricsAddr is the address the Prometheus handler listens on.
const metricsAddr = ":9469"

// NewRootCommand builds the bpftuned root command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "bpftuned",
		Short:        "Autonomous kernel tuning daemon",
		SilenceUsage: true,
		RunE:         runE,
	}
	return root
}

func runE(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := ddlog.Setup(cfg.Debug); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer ddlog.Sync()

	p, err := probe.Open(bytecodePath)
	if err != nil {
		ddlog.Errorf("failed to load kernel probes: %s", err)
		os.Exit(1)
	}
	defer p.Close()

	sup := supervisor.New(cfg, p.Reader())
	if err := sup.LoadStaticTuners(staticTuners...); err != nil {
		ddlog.Errorf("failed to load a static tuner: %s", err)
		os.Exit(1)
	}

	go serveMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch sup.Run(ctx) {
	case supervisor.ExitRingUnhealthy:
		os.Exit(2)
	case supervisor.ExitPluginCrash:
		os.Exit(3)
	default:
		os.Exit(0)
	}
	return nil
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		ddlog.Warnf("metrics server stopped: %s", err)
	}
}
