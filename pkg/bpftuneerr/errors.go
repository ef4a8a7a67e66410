// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package bpftuneerr declares the error kinds every component of bpftuned
// uses to signal degraded-but-recoverable conditions. Call sites wrap one of
// these sentinels with github.com/pkg/errors so errors.Is keeps working
// after context is attached.
package bpftuneerr

import "errors"

// Kind identifies one of the error classes from the error handling design.
type Kind error

var (
	// ErrProbeLoadFailed is returned from a tuner's init when its kernel
	// probe artifact could not be loaded.
	ErrProbeLoadFailed Kind = errors.New("probe load failed")
	// ErrProbeAttachFailed is returned from a tuner's init when a loaded
	// probe could not be attached.
	ErrProbeAttachFailed Kind = errors.New("probe attach failed")
	// ErrSysctlReadFailed is returned by the registry when a descriptor's
	// current kernel value could not be read.
	ErrSysctlReadFailed Kind = errors.New("sysctl read failed")
	// ErrSysctlWriteFailed is returned by the registry's write path when
	// the sysctl write itself failed.
	ErrSysctlWriteFailed Kind = errors.New("sysctl write failed")
	// ErrNamespaceEnterFailed is returned when switching into a target
	// network namespace for a namespaced write failed.
	ErrNamespaceEnterFailed Kind = errors.New("namespace enter failed")
	// ErrRingReadFailed is returned by the ring consumer for read errors
	// other than "would block".
	ErrRingReadFailed Kind = errors.New("ring read failed")
	// ErrUnknownTunerID names the condition of an event naming a tuner_id
	// with no live tuner. Host.Dispatch has no error return: it drops such
	// events with a rate-limited warning and does not return this error.
	ErrUnknownTunerID Kind = errors.New("unknown tuner id")
	// ErrPluginCrash marks a handler panic recovered at the dispatch
	// boundary; recovering it does not make the condition non-fatal, it
	// only lets the daemon log context before re-panicking or exiting.
	ErrPluginCrash Kind = errors.New("plugin crash")
)
