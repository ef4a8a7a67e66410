// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/DataDog/bpftuned/pkg/bpftuneerr"
)

// Writer reads and writes a tunable's current value in the global (or
// already-entered) network namespace. Implementations handle the
// arity-sized whitespace-separated integer tuple format of the sysctl
// surface.
type Writer interface {
	Read(name string, arity int) ([3]int64, error)
	Write(name string, arity int, values [3]int64) error
}

// sysctlPath maps a dotted sysctl name to its /proc/sys path, per the
// sysctl surface: any file reachable as /proc/sys/<dotted-path-with-slashes>.
func sysctlPath(name string) string {
	return "/proc/sys/" + strings.ReplaceAll(name, ".", "/")
}

// SysctlWriter implements Writer against the real /proc/sys filesystem of
// whichever network namespace the calling OS thread currently has active.
type SysctlWriter struct{}

// NewSysctlWriter returns a Writer backed by /proc/sys.
func NewSysctlWriter() *SysctlWriter {
	return &SysctlWriter{}
}

// Read parses the current value of name as arity whitespace-separated
// integers.
func (w *SysctlWriter) Read(name string, arity int) ([3]int64, error) {
	var out [3]int64
	data, err := os.ReadFile(sysctlPath(name))
	if err != nil {
		return out, pkgerrors.Wrapf(bpftuneerr.ErrSysctlReadFailed, "%s: %s", name, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < arity {
		return out, pkgerrors.Wrapf(bpftuneerr.ErrSysctlReadFailed, "%s: expected %d fields, got %d", name, arity, len(fields))
	}

	for i := 0; i < arity; i++ {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return out, pkgerrors.Wrapf(bpftuneerr.ErrSysctlReadFailed, "%s: %s", name, err)
		}
		out[i] = v
	}
	return out, nil
}

// Write formats values as arity whitespace-separated integers and writes
// them to name's sysctl file.
func (w *SysctlWriter) Write(name string, arity int, values [3]int64) error {
	parts := make([]string, arity)
	for i := 0; i < arity; i++ {
		parts[i] = strconv.FormatInt(values[i], 10)
	}
	line := strings.Join(parts, "\t") + "\n"

	if err := os.WriteFile(sysctlPath(name), []byte(line), 0644); err != nil {
		return pkgerrors.Wrapf(bpftuneerr.ErrSysctlWriteFailed, "%s: %s", name, err)
	}
	return nil
}

var _ Writer = (*SysctlWriter)(nil)
var _ fmt.Stringer = (*SysctlWriter)(nil)

// String satisfies fmt.Stringer for log lines naming the writer.
func (w *SysctlWriter) String() string { return "sysctl" }
